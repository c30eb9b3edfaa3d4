// Package presence tracks which users currently hold a live realtime
// connection. It is the source of truth for "is this user reachable now".
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle is an addressable realtime connection
type Handle interface {
	// ID uniquely identifies the connection for the life of the process
	ID() string
	// Emit queues an event for delivery on this connection
	Emit(event string, payload any) error
}

// Entry is a snapshot of one registered connection
type Entry struct {
	UserID      uuid.UUID
	Handle      Handle
	ConnectedAt time.Time
}

// Registry maps each user to their most recent connection. Registering
// again replaces the prior entry; deregistration only evicts the handle
// that is still current.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
	now     func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[uuid.UUID]Entry),
		now:     time.Now,
	}
}

// Register makes h the current connection of userID and returns the
// handle it replaced, if any
func (r *Registry) Register(userID uuid.UUID, h Handle) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, replaced := r.entries[userID]
	r.entries[userID] = Entry{
		UserID:      userID,
		Handle:      h,
		ConnectedAt: r.now(),
	}
	return prev.Handle, replaced
}

// Lookup returns the current connection of userID
func (r *Registry) Lookup(userID uuid.UUID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[userID]
	if !ok {
		return nil, false
	}
	return e.Handle, true
}

// Deregister removes userID only while h is still its current handle.
// A late disconnect from a replaced connection returns false and leaves
// the newer registration in place.
func (r *Registry) Deregister(userID uuid.UUID, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok || e.Handle.ID() != h.ID() {
		return false
	}
	delete(r.entries, userID)
	return true
}

// IsOnline reports whether userID has a registered connection
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// ListAll returns every registered entry, oldest connection first
func (r *Registry) ListAll() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ConnectedAt.Equal(entries[j].ConnectedAt) {
			return entries[i].UserID.String() < entries[j].UserID.String()
		}
		return entries[i].ConnectedAt.Before(entries[j].ConnectedAt)
	})
	return entries
}

// Count returns the number of online users
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
