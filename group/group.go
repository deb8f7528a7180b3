// Package group maintains the membership table tying sessions to the shared
// client token they belong to. Membership is exactly the set of sessions
// currently claiming a token; empty groups are deleted eagerly so repeated
// connect/disconnect cycles cannot leak records.
package group

import "sync"

// Table maps a group ID to its member session IDs. All methods are safe for
// concurrent use.
type Table struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{}
}

func NewTable() *Table {
	return &Table{members: make(map[string]map[string]struct{})}
}

// Join adds a session to the group, creating the group if it did not exist.
// Joining twice is a no-op.
func (t *Table) Join(groupID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.members[groupID]
	if !ok {
		set = make(map[string]struct{})
		t.members[groupID] = set
	}
	set[sessionID] = struct{}{}
}

// Leave removes a session from the group. Removing an absent member, or
// leaving an unknown group, is a no-op. The group record itself is dropped
// when its last member leaves.
func (t *Table) Leave(groupID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.members[groupID]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(t.members, groupID)
	}
}

// MembersOf returns a copy of the group's member set, empty if the group is
// unknown.
func (t *Table) MembersOf(groupID string) []string {
	return t.MembersExcluding(groupID, "")
}

// MembersExcluding returns the group's members without the given session. The
// sync engine uses this for fan-out so a session never re-broadcasts to
// itself.
func (t *Table) MembersExcluding(groupID, sessionID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set, ok := t.members[groupID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		if id != sessionID {
			out = append(out, id)
		}
	}
	return out
}

// Contains reports whether the session is currently a member of the group.
func (t *Table) Contains(groupID, sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set, ok := t.members[groupID]
	if !ok {
		return false
	}
	_, ok = set[sessionID]
	return ok
}

// Groups reports the number of live groups.
func (t *Table) Groups() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}
