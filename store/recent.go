package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The history lives in a sorted set scored by record time, so expiry and
// trimming are plain range deletes and both operations below stay a single
// script. Scores are unix microseconds, which float64 set scores represent
// exactly.

// pushRecentScript adds an entry, trims to the newest N by score and
// refreshes the key TTL so abandoned players' history self-expires.
var pushRecentScript = redis.NewScript(`
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
local n = redis.call('ZCARD', KEYS[1])
local max = tonumber(ARGV[3])
if n > max then
  redis.call('ZREMRANGEBYRANK', KEYS[1], 0, n - max - 1)
end
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return redis.call('ZCARD', KEYS[1])
`)

// readRecentScript drops everything older than the cutoff and returns the
// survivors newest first, in one step, so a push landing concurrently is
// never lost to the compaction.
var readRecentScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
return redis.call('ZREVRANGE', KEYS[1], 0, -1)
`)

// PushRecentSlot records that a player just left (or was routed away from)
// a slot, so routing can avoid sending them straight back.
func (s *Store) PushRecentSlot(ctx context.Context, playerID, slotID string) error {
	defer s.observe("push_recent", time.Now())
	now := time.Now().UTC()
	b, err := encode(&RecentSlot{SlotID: slotID, RecordedAt: now}, "recent slot")
	if err != nil {
		return err
	}
	err = pushRecentScript.Run(ctx, s.rdb, []string{recentKey(playerID)},
		now.UnixMicro(), b, s.recentLen, s.recentTTL.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("store: push recent slot for %s: %w", playerID, err)
	}
	return nil
}

// RecentSlots returns the player's recent-slot history inside the TTL
// window, newest first. Entries past the window are removed as part of the
// read, so expired entries disappear without a background sweep even while
// the key TTL keeps being refreshed by pushes.
func (s *Store) RecentSlots(ctx context.Context, playerID string) ([]RecentSlot, error) {
	defer s.observe("get_recent", time.Now())
	cutoff := time.Now().UTC().Add(-s.recentTTL)
	vals, err := readRecentScript.Run(ctx, s.rdb, []string{recentKey(playerID)}, cutoff.UnixMicro()).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("store: get recent slots for %s: %w", playerID, err)
	}
	out := make([]RecentSlot, 0, len(vals))
	for _, v := range vals {
		var r RecentSlot
		if !decodeInto([]byte(v), &r, recentKey(playerID)) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
