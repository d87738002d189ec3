package store

import (
	"context"
	"fmt"
	"time"
)

// AcquireProvisionLock takes the per-family provisioning mutex via
// set-if-not-exists with a TTL. The TTL bounds the damage of a coordinator
// crashing mid-provision; a clean path releases explicitly. Returns false
// when another coordinator already holds the lock.
func (s *Store) AcquireProvisionLock(ctx context.Context, family string, ttl time.Duration) (bool, error) {
	defer s.observe("acquire_provision_lock", time.Now())
	ok, err := s.rdb.SetNX(ctx, provisionKey(family), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("store: acquire provision lock for %s: %w", family, err)
	}
	return ok, nil
}

// ReleaseProvisionLock drops the lock. Releasing a lock that already expired
// is a no-op.
func (s *Store) ReleaseProvisionLock(ctx context.Context, family string) error {
	defer s.observe("release_provision_lock", time.Now())
	if err := s.rdb.Del(ctx, provisionKey(family)).Err(); err != nil {
		return fmt.Errorf("store: release provision lock for %s: %w", family, err)
	}
	return nil
}
