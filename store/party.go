package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var drainListScript = redis.NewScript(`
local vals = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1])
return vals
`)

// EnqueuePartyReservation appends a party reservation to the family's FIFO.
func (s *Store) EnqueuePartyReservation(ctx context.Context, family string, res *PartyReservationEntry) error {
	return s.pushPartyReservation(ctx, family, res, false)
}

// EnqueuePartyReservationFront re-inserts a reservation at the head of the
// queue, used when a polled reservation must be retried with priority.
func (s *Store) EnqueuePartyReservationFront(ctx context.Context, family string, res *PartyReservationEntry) error {
	return s.pushPartyReservation(ctx, family, res, true)
}

func (s *Store) pushPartyReservation(ctx context.Context, family string, res *PartyReservationEntry, front bool) error {
	defer s.observe("enqueue_party", time.Now())
	r := *res
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.LastEnqueuedAt = now
	b, err := encode(&r, "party reservation")
	if err != nil {
		return err
	}
	var cmdErr error
	if front {
		cmdErr = s.rdb.LPush(ctx, partyQueueKey(family), b).Err()
	} else {
		cmdErr = s.rdb.RPush(ctx, partyQueueKey(family), b).Err()
	}
	if cmdErr != nil {
		return fmt.Errorf("store: enqueue party reservation for %s: %w", family, cmdErr)
	}
	return nil
}

// PollPartyReservation pops the next party reservation for a family.
func (s *Store) PollPartyReservation(ctx context.Context, family string) (*PartyReservationEntry, error) {
	defer s.observe("poll_party", time.Now())
	raw, err := s.rdb.LPop(ctx, partyQueueKey(family)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: poll party reservation for %s: %w", family, err)
	}
	var r PartyReservationEntry
	if !decodeInto(raw, &r, partyQueueKey(family)) {
		return nil, nil
	}
	return &r, nil
}

// EnqueuePendingReservationPlayer parks a player behind a specific party
// reservation until it resolves.
func (s *Store) EnqueuePendingReservationPlayer(ctx context.Context, reservationID string, entry *PlayerQueueEntry) error {
	defer s.observe("enqueue_pending", time.Now())
	b, err := encode(entry, "pending reservation player")
	if err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, pendingKey(reservationID), b).Err(); err != nil {
		return fmt.Errorf("store: enqueue pending player for reservation %s: %w", reservationID, err)
	}
	return nil
}

// PollPendingReservationPlayer pops one player waiting on a reservation.
func (s *Store) PollPendingReservationPlayer(ctx context.Context, reservationID string) (*PlayerQueueEntry, error) {
	defer s.observe("poll_pending", time.Now())
	raw, err := s.rdb.LPop(ctx, pendingKey(reservationID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: poll pending player for reservation %s: %w", reservationID, err)
	}
	var e PlayerQueueEntry
	if !decodeInto(raw, &e, pendingKey(reservationID)) {
		return nil, nil
	}
	return &e, nil
}

// DrainPendingReservationPlayers atomically takes every player waiting on a
// reservation and deletes the list, so two coordinators resolving the same
// reservation cannot both claim the same waiter.
func (s *Store) DrainPendingReservationPlayers(ctx context.Context, reservationID string) ([]*PlayerQueueEntry, error) {
	defer s.observe("drain_pending", time.Now())
	vals, err := drainListScript.Run(ctx, s.rdb, []string{pendingKey(reservationID)}).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("store: drain pending players for reservation %s: %w", reservationID, err)
	}
	out := make([]*PlayerQueueEntry, 0, len(vals))
	for _, v := range vals {
		var e PlayerQueueEntry
		if decodeInto([]byte(v), &e, pendingKey(reservationID)) {
			out = append(out, &e)
		}
	}
	return out, nil
}
