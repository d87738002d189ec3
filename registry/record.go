package registry

import (
	"strings"
	"time"
)

type ServerStatus string

const (
	StatusStarting    ServerStatus = "STARTING"
	StatusRunning     ServerStatus = "RUNNING"
	StatusAvailable   ServerStatus = "AVAILABLE"
	StatusUnavailable ServerStatus = "UNAVAILABLE"
	StatusDead        ServerStatus = "DEAD"
)

// LogicalSlotRecord is one joinable game instance hosted inside a backend
// server. Owned by its parent ServerRecord; there is no back-pointer to the
// server, callers navigate via the registry's id-keyed lookup.
type LogicalSlotRecord struct {
	SlotID        string            `json:"slotId"`
	SlotSuffix    string            `json:"slotSuffix"`
	Status        string            `json:"status"`
	OnlinePlayers int               `json:"onlinePlayers"`
	MaxPlayers    int               `json:"maxPlayers"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ServerRecord is the registry's view of one backend process instance.
// Unknown JSON fields are ignored on read so the persisted schema can grow.
type ServerRecord struct {
	ServerID   string `json:"serverId"`
	TempID     string `json:"tempId"`
	ServerType string `json:"serverType"`
	Role       string `json:"role,omitempty"`
	Address    string `json:"address"`
	Port       int    `json:"port"`

	Status        ServerStatus `json:"status"`
	LastHeartbeat time.Time    `json:"lastHeartbeat"`
	PlayerCount   int          `json:"playerCount"`
	TPS           float64      `json:"tps"`

	MaxCapacity          int                 `json:"maxCapacity"`
	SlotFamilyCapacities map[string]int      `json:"slotFamilyCapacities,omitempty"`
	SlotFamilyVariants   map[string][]string `json:"slotFamilyVariants,omitempty"`

	Slots map[string]*LogicalSlotRecord `json:"slots,omitempty"`
}

// SlotUpdate is the slot status delta a backend sends for one of its slots.
// A metadata entry removed=true deletes the slot instead of updating it.
type SlotUpdate struct {
	SlotID        string            `json:"slotId"`
	Status        string            `json:"status"`
	OnlinePlayers int               `json:"onlinePlayers"`
	MaxPlayers    int               `json:"maxPlayers"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// RegistrationRequest is what a booting backend sends before it has a
// permanent id.
type RegistrationRequest struct {
	TempID      string `json:"tempId"`
	ServerType  string `json:"serverType"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
	MaxCapacity int    `json:"maxCapacity"`
	Role        string `json:"role,omitempty"`
}

func newRecord(serverID string, req *RegistrationRequest) *ServerRecord {
	return &ServerRecord{
		ServerID:    serverID,
		TempID:      req.TempID,
		ServerType:  req.ServerType,
		Role:        req.Role,
		Address:     req.Address,
		Port:        req.Port,
		MaxCapacity: req.MaxCapacity,
		Status:      StatusStarting,
		Slots:       make(map[string]*LogicalSlotRecord),
	}
}

// slotSuffix reduces a global slot id to the server-local suffix, e.g.
// "mini1-a" on server "mini1" becomes "a". Ids without the server prefix are
// used as-is.
func (r *ServerRecord) slotSuffix(slotID string) string {
	return strings.TrimPrefix(slotID, r.ServerID+"-")
}

// ApplySlotUpdate upserts or removes a slot. Reports whether the update
// carried the removal flag.
func (r *ServerRecord) ApplySlotUpdate(u *SlotUpdate) (removed bool) {
	suffix := r.slotSuffix(u.SlotID)
	if u.Metadata["removed"] == "true" {
		delete(r.Slots, suffix)
		return true
	}
	if r.Slots == nil {
		r.Slots = make(map[string]*LogicalSlotRecord)
	}
	r.Slots[suffix] = &LogicalSlotRecord{
		SlotID:        u.SlotID,
		SlotSuffix:    suffix,
		Status:        u.Status,
		OnlinePlayers: u.OnlinePlayers,
		MaxPlayers:    u.MaxPlayers,
		Metadata:      u.Metadata,
	}
	return false
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (r *ServerRecord) Clone() *ServerRecord {
	c := *r
	if r.SlotFamilyCapacities != nil {
		c.SlotFamilyCapacities = make(map[string]int, len(r.SlotFamilyCapacities))
		for k, v := range r.SlotFamilyCapacities {
			c.SlotFamilyCapacities[k] = v
		}
	}
	if r.SlotFamilyVariants != nil {
		c.SlotFamilyVariants = make(map[string][]string, len(r.SlotFamilyVariants))
		for k, v := range r.SlotFamilyVariants {
			c.SlotFamilyVariants[k] = append([]string(nil), v...)
		}
	}
	if r.Slots != nil {
		c.Slots = make(map[string]*LogicalSlotRecord, len(r.Slots))
		for k, v := range r.Slots {
			sc := *v
			if v.Metadata != nil {
				sc.Metadata = make(map[string]string, len(v.Metadata))
				for mk, mv := range v.Metadata {
					sc.Metadata[mk] = mv
				}
			}
			c.Slots[k] = &sc
		}
	}
	return &c
}
