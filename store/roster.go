package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StoreMatchRoster writes the authoritative player set for a slot. UpdatedAt
// is stamped on write so readers can order roster versions.
func (s *Store) StoreMatchRoster(ctx context.Context, roster *MatchRosterEntry) error {
	defer s.observe("store_roster", time.Now())
	roster.UpdatedAt = time.Now().UTC()
	b, err := encode(roster, "match roster")
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, keyMatchRosters, roster.SlotID, b).Err(); err != nil {
		return fmt.Errorf("store: store match roster %s: %w", roster.SlotID, err)
	}
	return nil
}

func (s *Store) GetMatchRoster(ctx context.Context, slotID string) (*MatchRosterEntry, error) {
	defer s.observe("get_roster", time.Now())
	raw, err := s.rdb.HGet(ctx, keyMatchRosters, slotID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get match roster %s: %w", slotID, err)
	}
	var m MatchRosterEntry
	if !decodeInto(raw, &m, keyMatchRosters) {
		return nil, nil
	}
	return &m, nil
}

// RemoveMatchRoster takes the roster out and returns it.
func (s *Store) RemoveMatchRoster(ctx context.Context, slotID string) (*MatchRosterEntry, error) {
	defer s.observe("remove_roster", time.Now())
	raw, err := hashTakeScript.Run(ctx, s.rdb, []string{keyMatchRosters}, slotID).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: remove match roster %s: %w", slotID, err)
	}
	var m MatchRosterEntry
	if !decodeInto([]byte(raw), &m, keyMatchRosters) {
		return nil, nil
	}
	return &m, nil
}

func (s *Store) MatchRosters(ctx context.Context) ([]*MatchRosterEntry, error) {
	defer s.observe("list_rosters", time.Now())
	all, err := s.rdb.HGetAll(ctx, keyMatchRosters).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list match rosters: %w", err)
	}
	out := make([]*MatchRosterEntry, 0, len(all))
	for _, raw := range all {
		var m MatchRosterEntry
		if decodeInto([]byte(raw), &m, keyMatchRosters) {
			out = append(out, &m)
		}
	}
	return out, nil
}
