package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hashTakeScript reads a hash field and deletes it in one step, returning
// the removed value so the caller learns what it actually took.
var hashTakeScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], ARGV[1])
if v then
  redis.call('HDEL', KEYS[1], ARGV[1])
end
return v
`)

// StoreInFlightRoute records a routing decision keyed by its request id.
// In-flight routes carry no TTL; the policy layer owns their removal.
func (s *Store) StoreInFlightRoute(ctx context.Context, route *RouteEntry) error {
	defer s.observe("store_inflight", time.Now())
	if route.CreatedAt.IsZero() {
		route.CreatedAt = time.Now().UTC()
	}
	b, err := encode(route, "in-flight route")
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, keyInFlight, route.RequestID, b).Err(); err != nil {
		return fmt.Errorf("store: store in-flight route %s: %w", route.RequestID, err)
	}
	return nil
}

// GetInFlightRoute reads a route without removing it. Returns nil when
// absent or unreadable.
func (s *Store) GetInFlightRoute(ctx context.Context, requestID string) (*RouteEntry, error) {
	defer s.observe("get_inflight", time.Now())
	raw, err := s.rdb.HGet(ctx, keyInFlight, requestID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get in-flight route %s: %w", requestID, err)
	}
	var r RouteEntry
	if !decodeInto(raw, &r, keyInFlight) {
		return nil, nil
	}
	return &r, nil
}

// RemoveInFlightRoute atomically takes a route out of the in-flight set and
// returns it, or nil if no route was recorded for the request id.
func (s *Store) RemoveInFlightRoute(ctx context.Context, requestID string) (*RouteEntry, error) {
	defer s.observe("remove_inflight", time.Now())
	raw, err := hashTakeScript.Run(ctx, s.rdb, []string{keyInFlight}, requestID).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: remove in-flight route %s: %w", requestID, err)
	}
	var r RouteEntry
	if !decodeInto([]byte(raw), &r, keyInFlight) {
		return nil, nil
	}
	return &r, nil
}

// InFlightRoutes lists every recorded route. Used after a coordinator
// restart to re-validate decisions that were mid-flight when it died.
func (s *Store) InFlightRoutes(ctx context.Context) ([]*RouteEntry, error) {
	defer s.observe("list_inflight", time.Now())
	all, err := s.rdb.HGetAll(ctx, keyInFlight).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list in-flight routes: %w", err)
	}
	out := make([]*RouteEntry, 0, len(all))
	for _, raw := range all {
		var r RouteEntry
		if decodeInto([]byte(raw), &r, keyInFlight) {
			out = append(out, &r)
		}
	}
	return out, nil
}
