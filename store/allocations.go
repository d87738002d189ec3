package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StorePartyAllocation records a reservation-to-slot allocation keyed by the
// reservation id. Like in-flight routes, allocations never auto-expire.
func (s *Store) StorePartyAllocation(ctx context.Context, alloc *PartyAllocationEntry) error {
	defer s.observe("store_party_alloc", time.Now())
	if alloc.CreatedAt.IsZero() {
		alloc.CreatedAt = time.Now().UTC()
	}
	b, err := encode(alloc, "party allocation")
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, keyPartyAllocs, alloc.Reservation.ReservationID, b).Err(); err != nil {
		return fmt.Errorf("store: store party allocation %s: %w", alloc.Reservation.ReservationID, err)
	}
	return nil
}

func (s *Store) GetPartyAllocation(ctx context.Context, reservationID string) (*PartyAllocationEntry, error) {
	defer s.observe("get_party_alloc", time.Now())
	raw, err := s.rdb.HGet(ctx, keyPartyAllocs, reservationID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get party allocation %s: %w", reservationID, err)
	}
	var a PartyAllocationEntry
	if !decodeInto(raw, &a, keyPartyAllocs) {
		return nil, nil
	}
	return &a, nil
}

// RemovePartyAllocation takes the allocation out and returns it.
func (s *Store) RemovePartyAllocation(ctx context.Context, reservationID string) (*PartyAllocationEntry, error) {
	defer s.observe("remove_party_alloc", time.Now())
	raw, err := hashTakeScript.Run(ctx, s.rdb, []string{keyPartyAllocs}, reservationID).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: remove party allocation %s: %w", reservationID, err)
	}
	var a PartyAllocationEntry
	if !decodeInto([]byte(raw), &a, keyPartyAllocs) {
		return nil, nil
	}
	return &a, nil
}

func (s *Store) PartyAllocations(ctx context.Context) ([]*PartyAllocationEntry, error) {
	defer s.observe("list_party_allocs", time.Now())
	all, err := s.rdb.HGetAll(ctx, keyPartyAllocs).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list party allocations: %w", err)
	}
	out := make([]*PartyAllocationEntry, 0, len(all))
	for _, raw := range all {
		var a PartyAllocationEntry
		if decodeInto([]byte(raw), &a, keyPartyAllocs) {
			out = append(out, &a)
		}
	}
	return out, nil
}
