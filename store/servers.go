package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Server record persistence for the registry. Records are stored as opaque
// JSON here; the registry package owns the schema.

// DecodeRecord unmarshals a persisted server record payload with the same
// corrupted-means-absent discipline as the rest of the store.
func DecodeRecord(raw json.RawMessage, v any, serverID string) bool {
	return decodeInto(raw, v, keyServers+"/"+serverID)
}

func (s *Store) SaveServerRecord(ctx context.Context, serverID string, record any) error {
	defer s.observe("save_server", time.Now())
	b, err := encode(record, "server record")
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, keyServers, serverID, b).Err(); err != nil {
		return fmt.Errorf("store: save server record %s: %w", serverID, err)
	}
	return nil
}

func (s *Store) DeleteServerRecord(ctx context.Context, serverID string) error {
	defer s.observe("delete_server", time.Now())
	if err := s.rdb.HDel(ctx, keyServers, serverID).Err(); err != nil {
		return fmt.Errorf("store: delete server record %s: %w", serverID, err)
	}
	return nil
}

// ServerRecords returns every persisted record keyed by server id, raw so
// the registry can decode with its own types.
func (s *Store) ServerRecords(ctx context.Context) (map[string]json.RawMessage, error) {
	defer s.observe("list_servers", time.Now())
	all, err := s.rdb.HGetAll(ctx, keyServers).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list server records: %w", err)
	}
	out := make(map[string]json.RawMessage, len(all))
	for id, raw := range all {
		out[id] = json.RawMessage(raw)
	}
	return out, nil
}

func (s *Store) SetTempID(ctx context.Context, tempID, serverID string) error {
	defer s.observe("set_temp_id", time.Now())
	if err := s.rdb.HSet(ctx, keyTempIDs, tempID, serverID).Err(); err != nil {
		return fmt.Errorf("store: set temp id %s: %w", tempID, err)
	}
	return nil
}

// TempID resolves a temp id to its permanent server id; empty when unknown.
func (s *Store) TempID(ctx context.Context, tempID string) (string, error) {
	defer s.observe("get_temp_id", time.Now())
	v, err := s.rdb.HGet(ctx, keyTempIDs, tempID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get temp id %s: %w", tempID, err)
	}
	return v, nil
}

func (s *Store) DeleteTempID(ctx context.Context, tempID string) error {
	defer s.observe("delete_temp_id", time.Now())
	if err := s.rdb.HDel(ctx, keyTempIDs, tempID).Err(); err != nil {
		return fmt.Errorf("store: delete temp id %s: %w", tempID, err)
	}
	return nil
}

func (s *Store) TempIDs(ctx context.Context) (map[string]string, error) {
	defer s.observe("list_temp_ids", time.Now())
	all, err := s.rdb.HGetAll(ctx, keyTempIDs).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list temp ids: %w", err)
	}
	return all, nil
}
