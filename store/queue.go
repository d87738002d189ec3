package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EnqueuePlayer appends a player to the family's FIFO queue. CreatedAt and
// LastEnqueuedAt are stamped if the caller left them zero.
func (s *Store) EnqueuePlayer(ctx context.Context, family string, entry *PlayerQueueEntry) error {
	defer s.observe("enqueue_player", time.Now())
	e := *entry
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastEnqueuedAt.IsZero() {
		e.LastEnqueuedAt = now
	}
	b, err := encode(&e, "player queue entry")
	if err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, queueKey(family), b).Err(); err != nil {
		return fmt.Errorf("store: enqueue player for %s: %w", family, err)
	}
	return nil
}

// PollPlayer pops the head of the family's queue. Returns nil when the queue
// is empty or the head payload is unreadable.
func (s *Store) PollPlayer(ctx context.Context, family string) (*PlayerQueueEntry, error) {
	defer s.observe("poll_player", time.Now())
	raw, err := s.rdb.LPop(ctx, queueKey(family)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: poll player for %s: %w", family, err)
	}
	var e PlayerQueueEntry
	if !decodeInto(raw, &e, queueKey(family)) {
		return nil, nil
	}
	return &e, nil
}

// RequeuePlayer puts a previously-polled entry back at the tail as a new
// logical entry: LastEnqueuedAt is refreshed and the retry counter bumped.
func (s *Store) RequeuePlayer(ctx context.Context, family string, entry *PlayerQueueEntry) error {
	e := *entry
	e.LastEnqueuedAt = time.Now().UTC()
	e.Retries++
	return s.EnqueuePlayer(ctx, family, &e)
}

// QueueLength reports how many players wait in a family's queue.
func (s *Store) QueueLength(ctx context.Context, family string) (int64, error) {
	n, err := s.rdb.LLen(ctx, queueKey(family)).Result()
	if err != nil {
		return 0, fmt.Errorf("store: queue length for %s: %w", family, err)
	}
	return n, nil
}
