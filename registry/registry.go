// Package registry is the catalog of currently known backend server
// instances and their logical slots. The in-memory maps are a cache: every
// mutating call persists the updated record to the store before returning,
// and Initialize rebuilds the maps from the store after a coordinator
// restart. The store remains the system of record throughout.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fleet-coordinator/broadcast"
	"fleet-coordinator/metrics"
	"fleet-coordinator/store"

	"github.com/rs/zerolog/log"
)

type Registry struct {
	mu      sync.RWMutex
	store   *store.Store
	alloc   *IDAllocator
	pub     broadcast.Publisher
	servers map[string]*ServerRecord
	tempIDs map[string]string
}

// New builds a registry over the given store. pub may be nil, in which case
// capacity/variant updates are persisted but not fanned out.
func New(st *store.Store, alloc *IDAllocator, pub broadcast.Publisher) *Registry {
	return &Registry{
		store:   st,
		alloc:   alloc,
		pub:     pub,
		servers: make(map[string]*ServerRecord),
		tempIDs: make(map[string]string),
	}
}

// Initialize reloads persisted records and temp-id mappings and re-claims
// every restored id, so a live server's id can never be handed to a new
// registrant after a coordinator restart.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	raws, err := r.store.ServerRecords(ctx)
	if err != nil {
		return fmt.Errorf("registry: load server records: %w", err)
	}
	for id, raw := range raws {
		var rec ServerRecord
		if !store.DecodeRecord(raw, &rec, id) {
			continue
		}
		r.servers[id] = &rec
		r.alloc.Claim(id)
		if rec.TempID != "" {
			r.tempIDs[rec.TempID] = id
		}
	}

	mappings, err := r.store.TempIDs(ctx)
	if err != nil {
		return fmt.Errorf("registry: load temp ids: %w", err)
	}
	for tempID, serverID := range mappings {
		r.tempIDs[tempID] = serverID
	}

	log.Info().Int("servers", len(r.servers)).Int("tempIds", len(r.tempIDs)).Msg("registry: state restored from store")
	return nil
}

// Register admits a backend server and returns its permanent id. Safe to
// retry: duplicate registrations with the same temp id yield the same id.
func (r *Registry) Register(ctx context.Context, req *RegistrationRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The "temp id" may actually be a permanent id we already know: the
	// server restarted and kept its identity. Replace the record in place.
	if existing, ok := r.servers[req.TempID]; ok {
		rec := newRecord(existing.ServerID, req)
		rec.TempID = existing.TempID
		if err := r.store.SaveServerRecord(ctx, rec.ServerID, rec); err != nil {
			metrics.RegistrationsTotal.WithLabelValues("failed").Inc()
			return "", err
		}
		r.servers[existing.ServerID] = rec
		metrics.RegistrationsTotal.WithLabelValues("replaced").Inc()
		log.Info().Str("serverId", rec.ServerID).Msg("registry: server re-registered with permanent id")
		return rec.ServerID, nil
	}

	// Duplicate registration racing an earlier one.
	if permID, ok := r.tempIDs[req.TempID]; ok {
		metrics.RegistrationsTotal.WithLabelValues("idempotent").Inc()
		log.Debug().Str("tempId", req.TempID).Str("serverId", permID).Msg("registry: duplicate registration, returning existing id")
		return permID, nil
	}
	// A coordinator that just restarted may not have the mapping in memory
	// yet; the store is authoritative.
	permID, err := r.store.TempID(ctx, req.TempID)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("failed").Inc()
		return "", err
	}
	if permID != "" {
		r.tempIDs[req.TempID] = permID
		metrics.RegistrationsTotal.WithLabelValues("idempotent").Inc()
		log.Debug().Str("tempId", req.TempID).Str("serverId", permID).Msg("registry: registration resolved from persisted mapping")
		return permID, nil
	}

	id := r.alloc.Allocate(req.ServerType)
	if _, exists := r.servers[id]; exists {
		metrics.RegistrationsTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("registry: id allocator returned %s which is already live; refusing to overwrite", id)
	}
	rec := newRecord(id, req)
	// Persist first; the maps and the allocator only commit once the store
	// holds the record, so a failed registration leaves nothing behind and a
	// retry with the same temp id starts clean.
	if err := r.store.SaveServerRecord(ctx, id, rec); err != nil {
		r.alloc.Release(id)
		metrics.RegistrationsTotal.WithLabelValues("failed").Inc()
		return "", err
	}
	if err := r.store.SetTempID(ctx, req.TempID, id); err != nil {
		if derr := r.store.DeleteServerRecord(ctx, id); derr != nil {
			log.Error().Err(derr).Str("serverId", id).Msg("registry: failed to undo record persist after temp-id persist failure")
		}
		r.alloc.Release(id)
		metrics.RegistrationsTotal.WithLabelValues("failed").Inc()
		return "", err
	}
	r.servers[id] = rec
	r.tempIDs[req.TempID] = id
	metrics.RegistrationsTotal.WithLabelValues("new").Inc()
	log.Info().Str("serverId", id).Str("tempId", req.TempID).Str("type", req.ServerType).Msg("registry: server registered")
	return id, nil
}

// Restore re-admits a server whose record was previously removed, e.g. a
// missed-heartbeat timeout that turned out to be a network blip. Fails if
// another live record occupies the id.
func (r *Registry) Restore(ctx context.Context, snapshot *ServerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.servers[snapshot.ServerID]; exists {
		return fmt.Errorf("registry: cannot restore %s, id is occupied by a live record", snapshot.ServerID)
	}
	rec := snapshot.Clone()
	rec.Status = StatusStarting
	rec.LastHeartbeat = time.Now().UTC()
	// Same persist-first ordering as Register: a failed restore leaves no
	// in-memory record behind, so it can simply be retried.
	if err := r.store.SaveServerRecord(ctx, rec.ServerID, rec); err != nil {
		return err
	}
	if rec.TempID != "" {
		if err := r.store.SetTempID(ctx, rec.TempID, rec.ServerID); err != nil {
			if derr := r.store.DeleteServerRecord(ctx, rec.ServerID); derr != nil {
				log.Error().Err(derr).Str("serverId", rec.ServerID).Msg("registry: failed to undo record persist after temp-id persist failure")
			}
			return err
		}
	}
	r.alloc.Claim(rec.ServerID)
	r.servers[rec.ServerID] = rec
	if rec.TempID != "" {
		r.tempIDs[rec.TempID] = rec.ServerID
	}
	metrics.RegistrationsTotal.WithLabelValues("restored").Inc()
	log.Info().Str("serverId", rec.ServerID).Msg("registry: server restored from snapshot")
	return nil
}

// Deregister removes the record, clears its slots, releases the id back to
// the allocator and deletes persisted state.
func (r *Registry) Deregister(ctx context.Context, serverID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.servers[serverID]
	if !ok {
		log.Warn().Str("serverId", serverID).Msg("registry: deregister for unknown server, ignoring")
		return nil
	}
	// Store deletes happen before the in-memory record goes away, so a
	// transient failure leaves the record visible and the call retryable.
	if rec.TempID != "" {
		if err := r.store.DeleteTempID(ctx, rec.TempID); err != nil {
			return err
		}
	}
	if err := r.store.DeleteServerRecord(ctx, serverID); err != nil {
		return err
	}
	delete(r.servers, serverID)
	if rec.TempID != "" {
		delete(r.tempIDs, rec.TempID)
	}
	r.alloc.Release(serverID)
	if r.pub != nil {
		r.publish(ctx, &broadcast.Event{Type: broadcast.EventServerRemoved, ServerID: serverID})
	}
	log.Info().Str("serverId", serverID).Msg("registry: server deregistered")
	return nil
}

// UpdateHeartbeat refreshes liveness and promotes STARTING servers to
// RUNNING on their first heartbeat.
func (r *Registry) UpdateHeartbeat(ctx context.Context, serverID string, playerCount int, tps float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.servers[serverID]
	if !ok {
		log.Warn().Str("serverId", serverID).Msg("registry: heartbeat for unknown server, ignoring")
		return nil
	}
	rec.LastHeartbeat = time.Now().UTC()
	rec.PlayerCount = playerCount
	rec.TPS = tps
	if rec.Status == StatusStarting {
		rec.Status = StatusRunning
		log.Info().Str("serverId", serverID).Msg("registry: server running")
	}
	metrics.HeartbeatsTotal.Inc()
	return r.store.SaveServerRecord(ctx, serverID, rec)
}

// UpdateStatus applies a server-advertised status. Moving to DEAD drops all
// slots, since a dead record must hold none.
func (r *Registry) UpdateStatus(ctx context.Context, serverID string, status ServerStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.servers[serverID]
	if !ok {
		log.Warn().Str("serverId", serverID).Str("status", string(status)).Msg("registry: status update for unknown server, ignoring")
		return nil
	}
	rec.Status = status
	if status == StatusDead {
		rec.Slots = make(map[string]*LogicalSlotRecord)
	}
	return r.store.SaveServerRecord(ctx, serverID, rec)
}

// UpdateSlot applies a slot delta to the owning record.
func (r *Registry) UpdateSlot(ctx context.Context, serverID string, update *SlotUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.servers[serverID]
	if !ok {
		// Expected under benign races, e.g. a deregistration beating a
		// late slot update.
		log.Warn().Str("serverId", serverID).Str("slotId", update.SlotID).Msg("registry: slot update for unknown server, ignoring")
		return nil
	}
	removed := rec.ApplySlotUpdate(update)
	if removed {
		log.Debug().Str("serverId", serverID).Str("slotId", update.SlotID).Msg("registry: slot removed")
	}
	return r.store.SaveServerRecord(ctx, serverID, rec)
}

// UpdateFamilyCapacities replaces the server's family capacity advertisement
// and fans it out on the broadcast channel.
func (r *Registry) UpdateFamilyCapacities(ctx context.Context, serverID string, capacities map[string]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.servers[serverID]
	if !ok {
		log.Warn().Str("serverId", serverID).Msg("registry: capacity update for unknown server, ignoring")
		return nil
	}
	rec.SlotFamilyCapacities = capacities
	if err := r.store.SaveServerRecord(ctx, serverID, rec); err != nil {
		return err
	}
	if r.pub != nil {
		r.publish(ctx, &broadcast.Event{Type: broadcast.EventFamilyCapacities, ServerID: serverID, Capacities: capacities})
	}
	return nil
}

// UpdateFamilyVariants replaces one family's variant advertisement. The
// record keeps the variant names; the limits ride the broadcast event for
// consumer-side aggregation.
func (r *Registry) UpdateFamilyVariants(ctx context.Context, serverID, family string, variants map[string]broadcast.VariantLimits) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.servers[serverID]
	if !ok {
		log.Warn().Str("serverId", serverID).Str("family", family).Msg("registry: variant update for unknown server, ignoring")
		return nil
	}
	names := make([]string, 0, len(variants))
	for v := range variants {
		names = append(names, v)
	}
	if rec.SlotFamilyVariants == nil {
		rec.SlotFamilyVariants = make(map[string][]string)
	}
	rec.SlotFamilyVariants[family] = names
	if err := r.store.SaveServerRecord(ctx, serverID, rec); err != nil {
		return err
	}
	if r.pub != nil {
		r.publish(ctx, &broadcast.Event{Type: broadcast.EventFamilyVariants, ServerID: serverID, Family: family, Variants: variants})
	}
	return nil
}

// publish fans an event out best-effort. The cache layer is eventually
// consistent and rebuilt from fresh advertisements, so a failed publish is
// logged, not propagated.
func (r *Registry) publish(ctx context.Context, ev *broadcast.Event) {
	ev.EnvelopeVersion = "1.0"
	if err := r.pub.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Str("type", string(ev.Type)).Str("serverId", ev.ServerID).Msg("registry: failed to publish broadcast event")
	}
}

// Get returns a snapshot of a server record, or nil if unknown.
func (r *Registry) Get(serverID string) *ServerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.servers[serverID]
	if !ok {
		return nil
	}
	return rec.Clone()
}

// GetByTempID resolves a temp id to its record snapshot, or nil.
func (r *Registry) GetByTempID(tempID string) *ServerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.tempIDs[tempID]
	if !ok {
		return nil
	}
	rec, ok := r.servers[id]
	if !ok {
		return nil
	}
	return rec.Clone()
}

// ByRole returns snapshots of all servers with the given role.
func (r *Registry) ByRole(role string) []*ServerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ServerRecord
	for _, rec := range r.servers {
		if rec.Role == role {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// ByType returns snapshots of all servers of the given type.
func (r *Registry) ByType(serverType string) []*ServerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ServerRecord
	for _, rec := range r.servers {
		if rec.ServerType == serverType {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Servers returns snapshots of every known record.
func (r *Registry) Servers() []*ServerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ServerRecord, 0, len(r.servers))
	for _, rec := range r.servers {
		out = append(out, rec.Clone())
	}
	return out
}

// CountByStatus aggregates record counts per status.
func (r *Registry) CountByStatus() map[ServerStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ServerStatus]int)
	for _, rec := range r.servers {
		out[rec.Status]++
	}
	return out
}
