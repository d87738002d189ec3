package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// occupancyScript applies a signed delta to a slot's counter and returns the
// post-update value. The field is dropped once it reaches zero so the hash
// only carries live slots. This script is the only writer of the counter;
// direct HSET would lose updates under concurrent coordinators.
var occupancyScript = redis.NewScript(`
local v = redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
if v <= 0 then
  redis.call('HDEL', KEYS[1], ARGV[1])
  return 0
end
return v
`)

// IncrementOccupancy bumps a slot's occupancy and returns the new value.
func (s *Store) IncrementOccupancy(ctx context.Context, slotID string) (int64, error) {
	return s.applyOccupancyDelta(ctx, slotID, 1)
}

// DecrementOccupancy lowers a slot's occupancy and returns the new value,
// clamped at zero.
func (s *Store) DecrementOccupancy(ctx context.Context, slotID string) (int64, error) {
	return s.applyOccupancyDelta(ctx, slotID, -1)
}

func (s *Store) applyOccupancyDelta(ctx context.Context, slotID string, delta int64) (int64, error) {
	defer s.observe("occupancy_delta", time.Now())
	v, err := occupancyScript.Run(ctx, s.rdb, []string{keyOccupancy}, slotID, delta).Int64()
	if err != nil {
		return 0, fmt.Errorf("store: apply occupancy delta for %s: %w", slotID, err)
	}
	return v, nil
}

// GetOccupancy reads a slot's occupancy; absent slots read as zero.
func (s *Store) GetOccupancy(ctx context.Context, slotID string) (int64, error) {
	defer s.observe("get_occupancy", time.Now())
	v, err := s.rdb.HGet(ctx, keyOccupancy, slotID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: get occupancy for %s: %w", slotID, err)
	}
	return v, nil
}
