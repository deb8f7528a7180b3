// Package session holds the live, in-memory state of every connected session
// and the optional Redis-backed transcript archive used to restore a group's
// history after all of its sessions have disconnected.
package session

import (
	"sync"

	"github.com/nicknochnack/whisperd/chat"
)

// State is the mutable application state of one session. Messages is the only
// field synchronized across a group; TaskOutput and Draft are local to the
// session that produced them.
type State struct {
	Messages   []chat.Message `json:"messages"`
	TaskOutput string         `json:"task_output"`
	Draft      string         `json:"-"`
}

// clone returns a State whose Messages do not alias the receiver's.
func (s State) clone() State {
	s.Messages = chat.CloneMessages(s.Messages)
	return s
}

// Notifier is told whenever a session's state changes, whether the change was
// triggered locally or by a sibling's broadcast. The websocket layer uses this
// to push fresh snapshots to clients.
type Notifier interface {
	StateChanged(sessionID string, state State)
}

// entry pairs a session's state with its own mutex. Per-session locks keep
// unrelated sessions from serializing on each other; a fan-out holds at most
// one entry lock at a time.
type entry struct {
	mu    sync.Mutex
	state State
}

// Store is the process-wide session store. Snapshot semantics are
// last-writer-wins: an update replaces the whole Messages field, never a
// field-by-field merge.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*entry)}
}

func (s *Store) lookup(sessionID string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	return e, ok
}

// Get returns a copy of the session's state.
func (s *Store) Get(sessionID string) (State, bool) {
	e, ok := s.lookup(sessionID)
	if !ok {
		return State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone(), true
}

// Set replaces the session's entire state, creating the session if absent.
func (s *Store) Set(sessionID string, state State) {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if !ok {
		e = &entry{}
		s.sessions[sessionID] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	e.state = state.clone()
	e.mu.Unlock()
}

// GetOrCreate returns the session's state, creating it with the default when
// the session is unknown.
func (s *Store) GetOrCreate(sessionID string, def State) State {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if !ok {
		e = &entry{state: def.clone()}
		s.sessions[sessionID] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Update runs fn under the session's exclusive update scope and returns the
// resulting state. A false return means the session does not exist; an
// in-flight broadcast racing a disconnect simply no-ops. fn must not block:
// model invocation and other slow work happen outside the scope, only the
// final state write re-enters it.
func (s *Store) Update(sessionID string, fn func(*State)) (State, bool) {
	e, ok := s.lookup(sessionID)
	if !ok {
		return State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
	return e.state.clone(), true
}

// Delete removes the session. Deleting an unknown session is a no-op.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
