package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"fleet-coordinator/broadcast"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

type Subscriber struct {
	projectID        string
	subscriptionName string
	credsFile        string
	client           *gpubsub.Client
	sub              *gpubsub.Subscription
}

func NewSubscriber(projectID, subscriptionName, credsFile string) *Subscriber {
	return &Subscriber{projectID: projectID, subscriptionName: subscriptionName, credsFile: credsFile}
}

func (s *Subscriber) Start(ctx context.Context, handler func(context.Context, *broadcast.Event) error) error {
	if s.client == nil {
		var (
			client *gpubsub.Client
			err    error
		)
		if s.credsFile != "" {
			log.Debug().Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Str("credsFile", s.credsFile).Msg("initializing pubsub subscriber with explicit credentials")
			client, err = gpubsub.NewClient(ctx, s.projectID, option.WithCredentialsFile(s.credsFile))
		} else {
			log.Debug().Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("initializing pubsub subscriber with default credentials")
			client, err = gpubsub.NewClient(ctx, s.projectID)
		}
		if err != nil {
			log.Error().Err(err).Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("failed to create pubsub client for subscriber")
			return err
		}
		s.client = client
		s.sub = client.Subscription(s.subscriptionName)
		// Ordering stays disabled; the cache tolerates reordering anyway
		log.Info().Str("subscription", s.subscriptionName).Msg("pubsub subscriber initialized")
	}

	// Receive blocks; it will create goroutines internally; respect ctx cancellation
	return s.sub.Receive(ctx, func(ctx context.Context, m *gpubsub.Message) {
		log.Debug().Str("messageID", m.ID).Int("size", len(m.Data)).Msg("received broadcast message")
		recvAt := time.Now()
		var ev broadcast.Event
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			log.Error().Err(err).Msg("failed to unmarshal broadcast event")
			// Nack to allow retry
			m.Nack()
			return
		}
		if !ev.Valid() {
			log.Error().Str("type", string(ev.Type)).Str("serverId", ev.ServerID).Msg("invalid broadcast event payload")
			// Ack to drop bad message (poison)
			m.Ack()
			return
		}

		if err := handler(ctx, &ev); err != nil {
			log.Error().Err(err).Str("type", string(ev.Type)).Msg("handler failed; will retry")
			m.Nack()
			return
		}
		log.Debug().Str("type", string(ev.Type)).Str("serverId", ev.ServerID).Dur("latency", time.Since(recvAt)).Msg("handler succeeded; acking message")
		m.Ack()
	})
}
