package store

import (
	"encoding/json"
	"time"
)

// PlayerQueueEntry is one player's pending placement request. Entries are
// value types: re-enqueuing writes a new entry with refreshed timestamps
// rather than mutating the stored one. Unknown JSON fields are ignored on
// read so older coordinators can share a store with newer ones.
type PlayerQueueEntry struct {
	PlayerID        string          `json:"playerId"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	LastEnqueuedAt  time.Time       `json:"lastEnqueuedAt"`
	CurrentSlotID   string          `json:"currentSlotId,omitempty"`
	BlockedSlotIDs  []string        `json:"blockedSlotIds,omitempty"`
	VariantID       string          `json:"variantId,omitempty"`
	PreferredSlotID string          `json:"preferredSlotId,omitempty"`
	Rejoin          bool            `json:"rejoin,omitempty"`
	Retries         int             `json:"retries,omitempty"`
}

// RouteEntry is an in-flight routing decision, alive between "decision made"
// and "player confirmed placed or routing abandoned". It is never
// auto-expired; the policy layer must remove it.
type RouteEntry struct {
	RequestID string           `json:"requestId"`
	Entry     PlayerQueueEntry `json:"entry"`
	SlotID    string           `json:"slotId"`
	CreatedAt time.Time        `json:"createdAt"`
}

// PartyReservationEntry is a pending placement request for a whole party,
// reserved together against one slot.
type PartyReservationEntry struct {
	ReservationID  string    `json:"reservationId"`
	Family         string    `json:"family"`
	PlayerIDs      []string  `json:"playerIds"`
	VariantID      string    `json:"variantId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastEnqueuedAt time.Time `json:"lastEnqueuedAt"`
	Retries        int       `json:"retries,omitempty"`
}

// PartyAllocationEntry records a party reservation that has been matched to
// a slot. Dispatched/claimed/failure bookkeeping makes partial failure of a
// multi-player placement observable and reconcilable.
type PartyAllocationEntry struct {
	Reservation       PartyReservationEntry `json:"reservation"`
	SlotID            string                `json:"slotId"`
	DispatchedPlayers []string              `json:"dispatchedPlayers,omitempty"`
	ClaimedPlayers    []string              `json:"claimedPlayers,omitempty"`
	ClaimFailures     map[string]int        `json:"claimFailures,omitempty"`
	CreatedAt         time.Time             `json:"createdAt"`
}

// MatchRosterEntry is the authoritative player set for a slot. UpdatedAt is
// monotonically increasing and lets consumers reject stale client messages.
type MatchRosterEntry struct {
	SlotID    string    `json:"slotId"`
	PlayerIDs []string  `json:"playerIds"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecentSlot is one entry in a player's bounded recent-slot history.
type RecentSlot struct {
	SlotID     string    `json:"slotId"`
	RecordedAt time.Time `json:"recordedAt"`
}
