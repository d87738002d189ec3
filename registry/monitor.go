package registry

import (
	"context"
	"sync"
	"time"

	"fleet-coordinator/metrics"

	"github.com/rs/zerolog/log"
)

var gaugeStatuses = []ServerStatus{StatusStarting, StatusRunning, StatusAvailable, StatusUnavailable, StatusDead}

// Monitor is a periodic sweeper that removes servers whose heartbeats have
// stopped and keeps their final snapshots around for a while, so a server
// that went quiet over a network blip can be restored with its old id
// instead of registering as a stranger. It also maintains the
// servers-online gauge.
type Monitor struct {
	reg      *Registry
	timeout  time.Duration
	interval time.Duration

	mu        sync.Mutex
	snapshots map[string]removedSnapshot
}

type removedSnapshot struct {
	record    *ServerRecord
	removedAt time.Time
}

func NewMonitor(reg *Registry, timeout, interval time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		reg:       reg,
		timeout:   timeout,
		interval:  interval,
		snapshots: make(map[string]removedSnapshot),
	}
}

func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	m.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.sweepOnce(ctx)
		}
	}
}

func (m *Monitor) sweepOnce(ctx context.Context) {
	now := time.Now().UTC()
	cutoff := now.Add(-m.timeout)

	for _, rec := range m.reg.Servers() {
		if rec.Status == StatusStarting || rec.Status == StatusDead {
			// STARTING servers have not heartbeated yet; DEAD ones are
			// already on their way out.
			continue
		}
		if rec.LastHeartbeat.After(cutoff) {
			continue
		}
		log.Warn().Str("serverId", rec.ServerID).Time("lastHeartbeat", rec.LastHeartbeat).Msg("monitor: heartbeat timeout, removing server")
		if err := m.reg.UpdateStatus(ctx, rec.ServerID, StatusDead); err != nil {
			log.Error().Err(err).Str("serverId", rec.ServerID).Msg("monitor: failed to mark server dead")
			continue
		}
		if err := m.reg.Deregister(ctx, rec.ServerID); err != nil {
			log.Error().Err(err).Str("serverId", rec.ServerID).Msg("monitor: failed to deregister dead server")
			continue
		}
		m.mu.Lock()
		m.snapshots[rec.ServerID] = removedSnapshot{record: rec, removedAt: now}
		m.mu.Unlock()
	}

	m.pruneSnapshots(now)

	counts := m.reg.CountByStatus()
	for _, st := range gaugeStatuses {
		metrics.ServersOnline.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

// Snapshot returns the last-seen record of a removed server, or nil if it
// was never removed or its snapshot has been pruned.
func (m *Monitor) Snapshot(serverID string) *ServerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[serverID]
	if !ok {
		return nil
	}
	return snap.record.Clone()
}

// Forget drops a snapshot, typically after a successful restore.
func (m *Monitor) Forget(serverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, serverID)
}

func (m *Monitor) pruneSnapshots(now time.Time) {
	keepUntil := 10 * m.timeout
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, snap := range m.snapshots {
		if now.Sub(snap.removedAt) > keepUntil {
			delete(m.snapshots, id)
		}
	}
}
