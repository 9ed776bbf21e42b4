// Package presence tracks which users currently hold live session handles.
//
// The registry is strictly process-local: it holds no persisted state and is
// rebuilt purely from future Connect calls after a restart. It is created
// once per process and injected where needed; there is no ambient global.
package presence

import (
	"slices"
	"sync"

	"github.com/parley-chat/parley/internal/bus"
)

// Bus event kinds published on presence transitions. The payload is a
// Transition.
const (
	EventOnline  = "presence.online"
	EventOffline = "presence.offline"
)

// Transition is the payload for EventOnline and EventOffline: the 0->N or
// N->0 edge of a user's live-connection count.
type Transition struct {
	UserID int64
}

// Registry maps user ids to their set of live session handles. H is the
// transport's opaque handle type; the registry never interprets it.
//
// All mutations run under one mutex, so the 0->N and N->0 edges for a user
// are detected exactly once regardless of how many connections open or close
// concurrently. The critical sections are map inserts and deletes; at the
// bounded handle counts this serves, cross-user contention is negligible.
type Registry[H comparable] struct {
	mu    sync.RWMutex
	conns map[int64]map[H]struct{}
	bus   *bus.Bus
}

// NewRegistry creates an empty registry. Transitions are published on b.
func NewRegistry[H comparable](b *bus.Bus) *Registry[H] {
	return &Registry[H]{
		conns: make(map[int64]map[H]struct{}),
		bus:   b,
	}
}

// Connect adds a session handle for the user. Returns true when this is the
// user's first live connection; in that case a single EventOnline is
// published.
func (r *Registry[H]) Connect(userID int64, handle H) bool {
	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[H]struct{})
		r.conns[userID] = set
	}
	wasEmpty := len(set) == 0
	set[handle] = struct{}{}
	if wasEmpty {
		// Published under the mutex so a racing Disconnect cannot reorder
		// the offline event ahead of this one. Bus delivery is non-blocking.
		r.bus.Emit(EventOnline, Transition{UserID: userID})
	}
	r.mu.Unlock()
	return wasEmpty
}

// Disconnect removes a session handle. Returns true when the user's set
// drained to empty; in that case a single EventOffline is published.
// Unknown handles are ignored.
func (r *Registry[H]) Disconnect(userID int64, handle H) bool {
	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if _, held := set[handle]; !held {
		r.mu.Unlock()
		return false
	}
	delete(set, handle)
	drained := len(set) == 0
	if drained {
		delete(r.conns, userID)
		r.bus.Emit(EventOffline, Transition{UserID: userID})
	}
	r.mu.Unlock()
	return drained
}

// Online reports whether the user has at least one live connection.
func (r *Registry[H]) Online(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Snapshot returns the ids of all currently online users, sorted.
func (r *Registry[H]) Snapshot() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.conns))
	for id, set := range r.conns {
		if len(set) > 0 {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Sessions returns the user's current session handles.
func (r *Registry[H]) Sessions(userID int64) []H {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]H, 0, len(r.conns[userID]))
	for h := range r.conns[userID] {
		handles = append(handles, h)
	}
	return handles
}

// AllSessions returns every live session handle across all users.
func (r *Registry[H]) AllSessions() []H {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var handles []H
	for _, set := range r.conns {
		for h := range set {
			handles = append(handles, h)
		}
	}
	return handles
}
