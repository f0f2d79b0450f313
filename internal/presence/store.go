// Package presence tracks each user's current connection status as observed
// by the real-time core. It is current-state-only: every write overwrites
// the previous record for that user, and no history is kept. A user with
// several simultaneous connections is represented by the most recently
// active one (last writer wins).
package presence

import (
	"sync"
	"time"
)

// Status is a user's presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Record is the per-user presence snapshot.
type Record struct {
	UserID   string
	Status   Status
	LastSeen time.Time
	Room     string // current primary room, empty if none
}

// Store holds the latest presence record per user.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time // injectable for tests
}

// NewStore creates an empty presence store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

// SetStatus overwrites the user's record with the given status, stamping the
// current time and preserving the user's primary room.
func (s *Store) SetStatus(userID string, status Status) {
	s.mu.Lock()
	rec := s.records[userID]
	rec.UserID = userID
	rec.Status = status
	rec.LastSeen = s.now()
	s.records[userID] = rec
	s.mu.Unlock()
}

// SetRoom records the user's current primary room.
func (s *Store) SetRoom(userID, room string) {
	s.mu.Lock()
	rec := s.records[userID]
	rec.UserID = userID
	rec.Room = room
	rec.LastSeen = s.now()
	s.records[userID] = rec
	s.mu.Unlock()
}

// Touch refreshes the user's last-seen timestamp without changing status.
// A touched idle or away user returns to online.
func (s *Store) Touch(userID string) {
	s.mu.Lock()
	rec, ok := s.records[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.LastSeen = s.now()
	if rec.Status == StatusIdle || rec.Status == StatusAway {
		rec.Status = StatusOnline
	}
	s.records[userID] = rec
	s.mu.Unlock()
}

// Get returns the user's record and whether one exists.
func (s *Store) Get(userID string) (Record, bool) {
	s.mu.RLock()
	rec, ok := s.records[userID]
	s.mu.RUnlock()
	return rec, ok
}

// List returns a snapshot of all records. The snapshot does not reflect
// writes made after the call returns.
func (s *Store) List() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()
	return out
}

// Online returns the number of users currently online or idle, for
// diagnostics and metrics.
func (s *Store) Online() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.records {
		if rec.Status == StatusOnline || rec.Status == StatusIdle {
			n++
		}
	}
	return n
}
