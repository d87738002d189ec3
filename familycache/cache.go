// Package familycache keeps a read-mostly local mirror of per-server family
// and variant capacity advertisements, fed by the broadcast channel. It is
// eventually consistent and rebuilt incrementally; it never queries backends
// or the store.
package familycache

import (
	"sync"

	"fleet-coordinator/broadcast"

	"github.com/rs/zerolog/log"
)

// VariantInfo is the folded view of a family variant across all servers
// advertising it.
type VariantInfo struct {
	MaxPlayers  int
	MaxTeamSize int
	MaxTeams    int
}

type Cache struct {
	mu         sync.RWMutex
	capacities map[string]map[string]int                    // serverID -> family -> capacity
	variants   map[string]map[string]map[string]VariantInfo // serverID -> family -> variant -> info
}

func New() *Cache {
	return &Cache{
		capacities: make(map[string]map[string]int),
		variants:   make(map[string]map[string]map[string]VariantInfo),
	}
}

// UpdateCapacities replaces the entire family set for a server. Families
// missing from the payload are pruned: the server stopped advertising them.
func (c *Cache) UpdateCapacities(serverID string, capacities map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fresh := make(map[string]int, len(capacities))
	for family, capacity := range capacities {
		fresh[family] = capacity
	}
	c.capacities[serverID] = fresh
}

// UpdateVariants replaces one family's variant map for a server.
func (c *Cache) UpdateVariants(serverID, family string, variants map[string]VariantInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byFamily, ok := c.variants[serverID]
	if !ok {
		byFamily = make(map[string]map[string]VariantInfo)
		c.variants[serverID] = byFamily
	}
	fresh := make(map[string]VariantInfo, len(variants))
	for v, info := range variants {
		fresh[v] = info
	}
	byFamily[family] = fresh
}

// RecordVariant upserts a single variant advertisement.
func (c *Cache) RecordVariant(serverID, family, variant string, info VariantInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byFamily, ok := c.variants[serverID]
	if !ok {
		byFamily = make(map[string]map[string]VariantInfo)
		c.variants[serverID] = byFamily
	}
	byVariant, ok := byFamily[family]
	if !ok {
		byVariant = make(map[string]VariantInfo)
		byFamily[family] = byVariant
	}
	byVariant[variant] = info
}

// Remove drops everything advertised by a server. Idempotent; unknown
// servers are fine.
func (c *Cache) Remove(serverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.capacities, serverID)
	delete(c.variants, serverID)
}

// AggregateCapacities sums advertised capacity per family across all
// servers. A family with a zero sum is not currently queueable.
func (c *Cache) AggregateCapacities() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int)
	for _, byFamily := range c.capacities {
		for family, capacity := range byFamily {
			out[family] += capacity
		}
	}
	return out
}

// VariantInfo folds a family variant across all servers advertising it,
// taking the maximum observed value per field and back-filling any zero
// field from the other two, so one server's partial advertisement cannot
// degrade the aggregate below what another server proves is achievable.
func (c *Cache) VariantInfo(family, variant string) (VariantInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var agg VariantInfo
	found := false
	for _, byFamily := range c.variants {
		info, ok := byFamily[family][variant]
		if !ok {
			continue
		}
		found = true
		if info.MaxPlayers > agg.MaxPlayers {
			agg.MaxPlayers = info.MaxPlayers
		}
		if info.MaxTeamSize > agg.MaxTeamSize {
			agg.MaxTeamSize = info.MaxTeamSize
		}
		if info.MaxTeams > agg.MaxTeams {
			agg.MaxTeams = info.MaxTeams
		}
	}
	if !found {
		return VariantInfo{}, false
	}
	if agg.MaxTeamSize == 0 && agg.MaxTeams > 0 && agg.MaxPlayers > 0 {
		agg.MaxTeamSize = agg.MaxPlayers / agg.MaxTeams
	}
	if agg.MaxTeams == 0 && agg.MaxTeamSize > 0 && agg.MaxPlayers > 0 {
		agg.MaxTeams = agg.MaxPlayers / agg.MaxTeamSize
	}
	if agg.MaxPlayers == 0 && agg.MaxTeamSize > 0 && agg.MaxTeams > 0 {
		agg.MaxPlayers = agg.MaxTeamSize * agg.MaxTeams
	}
	return agg, true
}

// Apply dispatches a broadcast event to the matching cache update. Events
// arrive at-least-once and possibly reordered; every branch is idempotent.
func (c *Cache) Apply(ev *broadcast.Event) {
	switch ev.Type {
	case broadcast.EventFamilyCapacities:
		c.UpdateCapacities(ev.ServerID, ev.Capacities)
	case broadcast.EventFamilyVariants:
		vars := make(map[string]VariantInfo, len(ev.Variants))
		for name, lim := range ev.Variants {
			vars[name] = VariantInfo{MaxPlayers: lim.MaxPlayers, MaxTeamSize: lim.MaxTeamSize, MaxTeams: lim.MaxTeams}
		}
		c.UpdateVariants(ev.ServerID, ev.Family, vars)
	case broadcast.EventVariantRecorded:
		var info VariantInfo
		if ev.Limits != nil {
			info = VariantInfo{MaxPlayers: ev.Limits.MaxPlayers, MaxTeamSize: ev.Limits.MaxTeamSize, MaxTeams: ev.Limits.MaxTeams}
		}
		c.RecordVariant(ev.ServerID, ev.Family, ev.Variant, info)
	case broadcast.EventServerRemoved:
		c.Remove(ev.ServerID)
	default:
		log.Warn().Str("type", string(ev.Type)).Msg("familycache: unknown event type, ignoring")
	}
}
