// Package rooms maintains the mapping from room names to the set of
// connection identifiers subscribed to them. Rooms exist only while they
// have members: the first join creates a room, the last leave deletes it.
// Room names follow the "<scope>:<id>" convention (match:abc123,
// team:xyz789) but the registry never parses them except for diagnostics.
package rooms

import "sync"

// Registry is a thread-safe room membership index.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // room -> set of connection IDs
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]struct{}),
	}
}

// Join adds a connection to a room, creating the room on first join. It is
// idempotent and reports whether the connection was newly added.
func (r *Registry) Join(room, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	if _, ok := members[connID]; ok {
		return false
	}
	members[connID] = struct{}{}
	return true
}

// Leave removes a connection from a room. If the member set becomes empty
// the room is deleted immediately, so a registered room never has zero
// members. Leaving a room the connection is not in is a no-op. Returns true
// if the room was deleted by this leave.
func (r *Registry) Leave(room, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
		return true
	}
	return false
}

// Members returns a snapshot of the connection IDs in a room. An unknown
// room yields an empty slice, never an error.
func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Contains reports whether the connection is a member of the room.
func (r *Registry) Contains(room, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][connID]
	return ok
}

// IsEmpty reports whether the room has no members (equivalently, whether it
// is absent from the registry).
func (r *Registry) IsEmpty(room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room]) == 0
}

// Size returns the member count of a room; zero for an unknown room.
func (r *Registry) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Rooms returns a snapshot of all room names, for diagnostics.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		out = append(out, name)
	}
	return out
}
