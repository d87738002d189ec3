package registry

import (
	"strconv"
	"strings"
	"sync"
)

// IDAllocator issues unique typed server ids like "mini1" or "mega3". Ids
// are the lowercased server type plus the lowest free number for that type,
// so released ids get recycled instead of the sequence growing forever.
type IDAllocator struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{claimed: make(map[string]bool)}
}

// Allocate returns a fresh id for the server type, never one currently
// claimed.
func (a *IDAllocator) Allocate(serverType string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	prefix := strings.ToLower(serverType)
	for n := 1; ; n++ {
		id := prefix + strconv.Itoa(n)
		if !a.claimed[id] {
			a.claimed[id] = true
			return id
		}
	}
}

// Claim marks an id as in-use without allocating a new one. Used when
// restoring registry state from the store at startup and when a server
// re-registers with a permanent id it already held.
func (a *IDAllocator) Claim(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.claimed[id] = true
}

// Release returns an id to the free pool. Releasing an id that was never
// allocated is a no-op.
func (a *IDAllocator) Release(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.claimed, id)
}

// Claimed reports whether an id is currently in use.
func (a *IDAllocator) Claimed(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.claimed[id]
}
