// Package store is the persistence façade over Redis for the fleet
// coordinator. It owns every queue, occupancy, in-flight-route, party
// allocation, match-roster, active-slot and recent-slot structure, and it is
// the only code that touches those keys. Each operation is a single round
// trip or a single Lua script, so multiple coordinator instances can run
// active/active against the same store without client-side races.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fleet-coordinator/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	keyOccupancy    = "registry:routing:slot-occupancy"
	keyInFlight     = "registry:routing:inflight"
	keyPartyAllocs  = "registry:routing:party:allocations"
	keyMatchRosters = "registry:routing:match-rosters"
	keyActiveSlots  = "registry:routing:active-slots"
	keyServers      = "registry:servers:records"
	keyTempIDs      = "registry:servers:temp-ids"

	slotPlayersPrefix = "registry:routing:slot-players:"
)

func queueKey(family string) string      { return "registry:routing:queue:" + family }
func partyQueueKey(family string) string { return "registry:routing:party:queue:" + family }
func pendingKey(resID string) string     { return "registry:routing:party:pending:" + resID }
func slotPlayersKey(slotID string) string {
	return slotPlayersPrefix + slotID
}
func recentKey(playerID string) string  { return "registry:routing:recent:" + playerID }
func provisionKey(family string) string { return "registry:routing:provisioning:" + family }

type Store struct {
	rdb       *redis.Client
	recentTTL time.Duration
	recentLen int
}

// New wraps an already-connected Redis client. recentTTL and recentLen bound
// the per-player recent-slot history.
func New(rdb *redis.Client, recentTTL time.Duration, recentLen int) *Store {
	if recentTTL <= 0 {
		recentTTL = 5 * time.Minute
	}
	if recentLen <= 0 {
		recentLen = 10
	}
	return &Store{rdb: rdb, recentTTL: recentTTL, recentLen: recentLen}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) observe(op string, start time.Time) {
	metrics.StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// encode marshals an outgoing payload. A marshal failure here is a
// programming error, not a store condition, and is surfaced loudly.
func encode(v any, what string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("what", what).Msg("store: failed to marshal outgoing payload")
		return nil, fmt.Errorf("store: marshal %s: %w", what, err)
	}
	return b, nil
}

// decodeInto unmarshals a stored payload. Corrupted payloads count as absent
// data: they are logged and skipped, never fatal.
func decodeInto(raw []byte, v any, key string) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("store: discarding malformed payload")
		return false
	}
	return true
}
