package hub

import (
	"sync"
	"time"
)

// State is a connection's lifecycle position. CONNECTING and AUTHENTICATING
// exist only inside Accept; a registered connection is ACTIVE, IDLE, or
// CLOSED. CLOSED is terminal.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateIdle
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one authenticated transport session. It is created by
// Manager.Accept, mutated on every inbound message and room change, and
// destroyed by Manager.Disconnect. The mutex guards the mutable fields;
// write serialization on the transport is the transport's own concern.
type Conn struct {
	ID          string
	Identity    Identity
	ConnectedAt time.Time

	transport Transport

	mu           sync.Mutex
	state        State
	rooms        map[string]struct{}
	lastActivity time.Time
	messageCount int64
	pingSentAt   time.Time // zero when no ping is outstanding
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastActivity returns the time of the last inbound message or liveness
// signal.
func (c *Conn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// MessageCount returns the number of inbound messages processed.
func (c *Conn) MessageCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messageCount
}

// Rooms returns a snapshot of the rooms this connection has joined.
func (c *Conn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	return out
}

// send writes wire bytes to the transport. Writing to a closed connection
// is a silent no-op: an in-flight broadcast may hold a membership snapshot
// that still names an evicted connection.
func (c *Conn) send(data []byte) error {
	c.mu.Lock()
	closed := c.state == StateClosed
	c.mu.Unlock()
	if closed {
		return nil
	}
	return c.transport.Write(data)
}

// touch records an inbound message: activity refreshes, the message counter
// advances, any outstanding ping counts as answered, and an IDLE connection
// returns to ACTIVE.
func (c *Conn) touch(now time.Time) {
	c.mu.Lock()
	c.lastActivity = now
	c.messageCount++
	c.pingSentAt = time.Time{}
	if c.state == StateIdle {
		c.state = StateActive
	}
	c.mu.Unlock()
}

// markAlive records transport-level liveness without counting a message.
func (c *Conn) markAlive(now time.Time) {
	c.mu.Lock()
	c.lastActivity = now
	c.pingSentAt = time.Time{}
	if c.state == StateIdle {
		c.state = StateActive
	}
	c.mu.Unlock()
}

// markIdle transitions ACTIVE to IDLE; other states are left alone.
func (c *Conn) markIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return false
	}
	c.state = StateIdle
	return true
}

// notePing records that a liveness probe was sent.
func (c *Conn) notePing(now time.Time) {
	c.mu.Lock()
	c.pingSentAt = now
	c.mu.Unlock()
}

// pingExpired reports whether an outstanding ping has gone unanswered for
// longer than timeout.
func (c *Conn) pingExpired(now time.Time, timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingSentAt.IsZero() {
		return false
	}
	return now.Sub(c.pingSentAt) > timeout
}

// addRoom and removeRoom maintain the connection-side room set mirror.
func (c *Conn) addRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) removeRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

// close transitions to CLOSED and closes the transport.
func (c *Conn) close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.mu.Unlock()
	_ = c.transport.Close()
}
