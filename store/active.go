package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// setActiveScript swaps a player's active slot in one step: read the
// previous slot, drop the player from that slot's reverse index, write the
// new forward mapping, add to the new reverse index, return the previous
// slot (empty string when there was none). An empty new slot clears the
// assignment. Concurrent callers never observe a half-updated state.
//
// The previous slot's reverse-index key is only known inside the script, so
// slot-players keys are built from an ARGV prefix rather than declared in
// KEYS. That requires a single-node Redis; Cluster key routing would not see
// these keys.
var setActiveScript = redis.NewScript(`
local player = ARGV[1]
local slot = ARGV[2]
local prefix = ARGV[3]
local prev = redis.call('HGET', KEYS[1], player)
if prev then
  redis.call('SREM', prefix .. prev, player)
end
if slot == '' then
  redis.call('HDEL', KEYS[1], player)
else
  redis.call('HSET', KEYS[1], player, slot)
  redis.call('SADD', prefix .. slot, player)
end
if prev then
  return prev
end
return ''
`)

// drainSlotScript tears down a slot's reverse index: clear every member's
// forward mapping, delete the set, return the affected players.
var drainSlotScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[2])
for _, p in ipairs(members) do
  redis.call('HDEL', KEYS[1], p)
end
redis.call('DEL', KEYS[2])
return members
`)

// SetActiveSlot assigns a player's one active slot and returns the previous
// slot id, or empty if the player had none. Passing an empty slotID clears
// the assignment.
func (s *Store) SetActiveSlot(ctx context.Context, playerID, slotID string) (string, error) {
	defer s.observe("set_active_slot", time.Now())
	prev, err := setActiveScript.Run(ctx, s.rdb, []string{keyActiveSlots}, playerID, slotID, slotPlayersPrefix).Text()
	if err != nil {
		return "", fmt.Errorf("store: set active slot for %s: %w", playerID, err)
	}
	return prev, nil
}

// ActiveSlot reads a player's current slot; empty when unassigned.
func (s *Store) ActiveSlot(ctx context.Context, playerID string) (string, error) {
	defer s.observe("get_active_slot", time.Now())
	v, err := s.rdb.HGet(ctx, keyActiveSlots, playerID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get active slot for %s: %w", playerID, err)
	}
	return v, nil
}

// ActivePlayers lists the players currently assigned to a slot.
func (s *Store) ActivePlayers(ctx context.Context, slotID string) ([]string, error) {
	defer s.observe("get_active_players", time.Now())
	members, err := s.rdb.SMembers(ctx, slotPlayersKey(slotID)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: get active players for %s: %w", slotID, err)
	}
	return members, nil
}

// RemoveActivePlayersForSlot atomically drains a slot's player set, clears
// each member's forward mapping and returns the affected players. Used when
// a slot is torn down.
func (s *Store) RemoveActivePlayersForSlot(ctx context.Context, slotID string) ([]string, error) {
	defer s.observe("remove_active_players", time.Now())
	members, err := drainSlotScript.Run(ctx, s.rdb, []string{keyActiveSlots, slotPlayersKey(slotID)}).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("store: remove active players for %s: %w", slotID, err)
	}
	return members, nil
}
