// Package registry tracks which group and session each live websocket
// connection is bound to. Entries exist only between a successful page load
// and the transport disconnect.
package registry

import "sync"

// Binding is the (group, session) pair a connection was bound to on page load.
type Binding struct {
	GroupID   string
	SessionID string
}

// Registry maps connection IDs to their bindings. All methods are safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Binding
}

func New() *Registry {
	return &Registry{conns: make(map[string]Binding)}
}

// Bind records the binding for a connection, replacing any previous one.
func (r *Registry) Bind(connID, groupID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = Binding{GroupID: groupID, SessionID: sessionID}
}

// Lookup returns the binding for a connection. A missing connection is an
// expected case (a socket that disconnected before its load handler ran), so
// it is reported via the bool, not an error.
func (r *Registry) Lookup(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.conns[connID]
	return b, ok
}

// Unbind atomically removes and returns the binding for a connection. A second
// Unbind for the same connection returns false and has no further effect.
func (r *Registry) Unbind(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	return b, ok
}

// SessionRefs counts how many live connections are bound to the session.
func (r *Registry) SessionRefs(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, b := range r.conns {
		if b.SessionID == sessionID {
			n++
		}
	}
	return n
}

// Len reports the number of bound connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
