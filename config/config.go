package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MetricsPort int
	LogLevel    string

	// Broadcast channel (family capacity/variant fan-out)
	GoogleProjectID       string
	BroadcastTopic        string
	BroadcastSubscription string
	CredentialsFile       string

	// Provisioning
	TargetNamespace  string
	ProvisionLockTTL time.Duration

	// Registry housekeeping
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration

	// Recent-slot history
	RecentSlotTTL    time.Duration
	RecentSlotLength int
}

func Load() *Config {
	cfg := &Config{
		RedisAddr:             strings.TrimSpace(getEnv("COORDINATOR_REDIS_ADDR", "localhost:6379")),
		RedisPassword:         os.Getenv("COORDINATOR_REDIS_PASSWORD"),
		RedisDB:               getEnvInt("COORDINATOR_REDIS_DB", 0),
		MetricsPort:           getEnvInt("COORDINATOR_METRICS_PORT", 8080),
		LogLevel:              strings.TrimSpace(getEnv("COORDINATOR_LOG_LEVEL", "info")),
		BroadcastTopic:        strings.TrimSpace(getEnv("CAPACITY_BROADCAST_TOPIC", os.Getenv("COORDINATOR_PUBSUB_TOPIC"))),
		BroadcastSubscription: strings.TrimSpace(getEnv("CAPACITY_BROADCAST_SUBSCRIPTION", os.Getenv("COORDINATOR_PUBSUB_SUBSCRIPTION"))),
		TargetNamespace:       strings.TrimSpace(getEnv("TARGET_NAMESPACE", "default")),
		CredentialsFile:       strings.TrimSpace(firstNonEmpty(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"), os.Getenv("COORDINATOR_GSA_CREDENTIALS"))),
		ProvisionLockTTL:      getEnvDur("COORDINATOR_PROVISION_LOCK_TTL", 30*time.Second),
		HeartbeatTimeout:      getEnvDur("COORDINATOR_HEARTBEAT_TIMEOUT", 45*time.Second),
		SweepInterval:         getEnvDur("COORDINATOR_SWEEP_INTERVAL", 10*time.Second),
		RecentSlotTTL:         getEnvDur("COORDINATOR_RECENT_SLOT_TTL", 5*time.Minute),
		RecentSlotLength:      getEnvInt("COORDINATOR_RECENT_SLOT_LENGTH", 10),
	}

	cfg.GoogleProjectID = strings.TrimSpace(firstNonEmpty(
		os.Getenv("COORDINATOR_PUBSUB_PROJECT_ID"),
		os.Getenv("GOOGLE_PROJECT_ID"),
		os.Getenv("GOOGLE_CLOUD_PROJECT"),
		os.Getenv("GCLOUD_PROJECT"),
	))
	if cfg.GoogleProjectID == "" {
		log.Warn().Msg("Google project ID not resolved; broadcast channel disabled unless COORDINATOR_PUBSUB_PROJECT_ID or GOOGLE_PROJECT_ID is set")
	}
	if cfg.BroadcastSubscription == "" {
		log.Warn().Msg("broadcast subscription not set; set CAPACITY_BROADCAST_SUBSCRIPTION or COORDINATOR_PUBSUB_SUBSCRIPTION")
	}
	if cfg.BroadcastTopic == "" {
		log.Warn().Msg("broadcast topic not set; set CAPACITY_BROADCAST_TOPIC or COORDINATOR_PUBSUB_TOPIC")
	}
	return cfg
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.MetricsPort))
}

// Redacted returns a view safe for logging
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"redisAddr":             c.RedisAddr,
		"redisDB":               c.RedisDB,
		"redisAuthProvided":     c.RedisPassword != "",
		"metricsPort":           c.MetricsPort,
		"logLevel":              c.LogLevel,
		"projectID":             c.GoogleProjectID,
		"broadcastTopic":        c.BroadcastTopic,
		"broadcastSubscription": c.BroadcastSubscription,
		"credentialsProvided":   c.CredentialsFile != "",
		"targetNamespace":       c.TargetNamespace,
		"provisionLockTTL":      c.ProvisionLockTTL.String(),
		"heartbeatTimeout":      c.HeartbeatTimeout.String(),
		"sweepInterval":         c.SweepInterval.String(),
		"recentSlotTTL":         c.RecentSlotTTL.String(),
		"recentSlotLength":      c.RecentSlotLength,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		iv, err := strconv.Atoi(v)
		if err == nil {
			return iv
		}
		fmt.Printf("invalid int for %s: %s\n", key, v)
	}
	return def
}

func getEnvDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
		fmt.Printf("invalid duration for %s: %s\n", key, v)
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
