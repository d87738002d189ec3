package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleet-coordinator/broadcast"
	bpubsub "fleet-coordinator/broadcast/pubsub"
	"fleet-coordinator/config"
	"fleet-coordinator/familycache"
	"fleet-coordinator/health"
	"fleet-coordinator/metrics"
	"fleet-coordinator/registry"
	"fleet-coordinator/store"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var version = "source"

func setLogger() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	setLogger()
	log.Info().Msgf("Starting fleet-coordinator version: %s", version)
	cfg := config.Load()
	log.Info().Interface("config", cfg.Redacted()).Msg("config loaded")

	if cfg.RedisAddr == "" {
		log.Fatal().Msg("missing Redis address; set COORDINATOR_REDIS_ADDR")
	}

	// Context and shutdown handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	st := store.New(rdb, cfg.RecentSlotTTL, cfg.RecentSlotLength)
	if err := st.Ping(ctx); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("cannot reach Redis")
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	// Metrics and health HTTP server
	mux := http.NewServeMux()
	metrics.Register(mux)
	health.Register(mux, func(r *http.Request) error {
		return st.Ping(r.Context())
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("starting metrics/health server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	var publisher broadcast.Publisher
	if cfg.GoogleProjectID != "" && cfg.BroadcastTopic != "" {
		publisher = bpubsub.NewPublisher(cfg.GoogleProjectID, cfg.BroadcastTopic, cfg.CredentialsFile)
	} else {
		log.Warn().Msg("broadcast publishing disabled; capacity updates stay local to this instance")
	}

	reg := registry.New(st, registry.NewIDAllocator(), publisher)
	if err := reg.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to restore registry state from store")
	}

	monitor := registry.NewMonitor(reg, cfg.HeartbeatTimeout, cfg.SweepInterval)
	go monitor.Run(ctx)

	cache := familycache.New()
	if cfg.GoogleProjectID != "" && cfg.BroadcastSubscription != "" {
		subscriber := bpubsub.NewSubscriber(cfg.GoogleProjectID, cfg.BroadcastSubscription, cfg.CredentialsFile)
		go func() {
			log.Info().Str("subscription", cfg.BroadcastSubscription).Msg("starting broadcast subscriber loop")
			if err := subscriber.Start(ctx, func(ctx context.Context, ev *broadcast.Event) error {
				cache.Apply(ev)
				return nil
			}); err != nil {
				// Non-recoverable: without the broadcast feed the family
				// cache goes stale across the fleet
				log.Fatal().Err(err).Msg("broadcast subscriber exited with fatal error; shutting down")
			}
		}()
	} else {
		log.Warn().Msg("broadcast subscription disabled; family cache will not receive remote updates")
	}

	// Block until shutdown
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server graceful shutdown failed")
	}
	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("redis client close failed")
	}
	log.Info().Msg("shutdown complete")
}
