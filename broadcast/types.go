package broadcast

import "context"

// Events fan per-server family capacity and variant advertisements out to
// every coordinator/consumer instance. Delivery may be duplicated or
// reordered; consumers apply events idempotently.

type EventType string

const (
	EventFamilyCapacities EventType = "family-capacities"
	EventFamilyVariants   EventType = "family-variants"
	EventVariantRecorded  EventType = "variant-recorded"
	EventServerRemoved    EventType = "server-removed"
)

// VariantLimits is one server's advertised limits for a family variant.
// Zero fields mean "not specified"; consumers back-fill from other servers.
type VariantLimits struct {
	MaxPlayers  int `json:"maxPlayers,omitempty"`
	MaxTeamSize int `json:"maxTeamSize,omitempty"`
	MaxTeams    int `json:"maxTeams,omitempty"`
}

type Event struct {
	EnvelopeVersion string    `json:"envelopeVersion"`
	Type            EventType `json:"type"`
	ServerID        string    `json:"serverId"`

	// family-capacities: the server's full family capacity set
	Capacities map[string]int `json:"capacities,omitempty"`

	// family-variants / variant-recorded
	Family   string                   `json:"family,omitempty"`
	Variants map[string]VariantLimits `json:"variants,omitempty"`
	Variant  string                   `json:"variant,omitempty"`
	Limits   *VariantLimits           `json:"limits,omitempty"`
}

// Valid reports whether the event carries enough to be applied. Invalid
// events are poison and get dropped, not retried.
func (e *Event) Valid() bool {
	if e.ServerID == "" {
		return false
	}
	switch e.Type {
	case EventFamilyCapacities, EventServerRemoved:
		return true
	case EventFamilyVariants:
		return e.Family != ""
	case EventVariantRecorded:
		return e.Family != "" && e.Variant != ""
	default:
		return false
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}

type Subscriber interface {
	Start(ctx context.Context, handler func(context.Context, *Event) error) error
}
