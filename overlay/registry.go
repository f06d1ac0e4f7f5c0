// Package overlay implements the browser-source overlay websocket endpoint:
// connection lifecycle (subscribe deadline, heartbeat liveness), the
// process-wide subscriber registry keyed by broadcaster, and broadcast
// fan-out of typed events to subscribed connections.
package overlay

import "sync"

// Registry maps a broadcaster id to the set of live connections subscribed
// to that broadcaster's overlay events. One instance is shared by all
// connection handlers; Go is multi-threaded so mutation is guarded by an
// RWMutex rather than relying on event-loop turns.
//
// Invariant: a broadcaster id is present as a key iff its set is non-empty.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]map[*Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]map[*Conn]struct{})}
}

// Add inserts a connection into the broadcaster's set, creating the set if
// absent. Adding the same connection twice is a no-op.
func (r *Registry) Add(broadcasterID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[broadcasterID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.subs[broadcasterID] = set
	}
	set[c] = struct{}{}
}

// Remove deletes a connection from the broadcaster's set, pruning the key
// when the set becomes empty.
func (r *Registry) Remove(broadcasterID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[broadcasterID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.subs, broadcasterID)
	}
}

// Get returns a snapshot of the broadcaster's set, or nil when no connection
// is registered under that id. The snapshot keeps broadcast iteration free of
// the registry lock.
func (r *Registry) Get(broadcasterID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.subs[broadcasterID]
	if !ok {
		return nil
	}
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// All returns a snapshot of every registered connection across all
// broadcasters, for global broadcasts.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Conn
	for _, set := range r.subs {
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of registered connections for a broadcaster.
func (r *Registry) Len(broadcasterID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[broadcasterID])
}
