// Package hub owns the lifecycle of real-time connections: it authenticates
// them on accept, rate-checks and dispatches their inbound messages, tracks
// room membership and presence, and fans events out to room members and the
// in-process bus. The hub is transport-agnostic; the ws package adapts
// WebSocket connections onto the Transport interface.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitchconnect/realtime/internal/metrics"
	"github.com/pitchconnect/realtime/internal/moderation"
	"github.com/pitchconnect/realtime/internal/presence"
	"github.com/pitchconnect/realtime/internal/protocol"
	"github.com/pitchconnect/realtime/internal/pubsub"
	"github.com/pitchconnect/realtime/internal/ratelimit"
	"github.com/pitchconnect/realtime/internal/rooms"
)

// ErrAuthentication is returned by Accept when the identity collaborator
// rejects the claim. The connection is closed and never registered.
var ErrAuthentication = errors.New("hub: authentication failed")

// ErrUnknownConnection is returned for operations on a connection ID that is
// not (or no longer) registered.
var ErrUnknownConnection = errors.New("hub: unknown connection")

// Disconnect reasons, reported to presence listeners, metrics, and the
// audit sink.
const (
	ReasonClientClose      = "client_close"
	ReasonTransportError   = "transport_error"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonIdleTimeout      = "idle_timeout"
	ReasonShutdown         = "server_shutdown"
	ReasonAdmin            = "admin"
)

// Transport is the write side of one client connection. Implementations
// must serialize concurrent writes themselves.
type Transport interface {
	Write(data []byte) error
	Ping() error
	Close() error
}

// Identity is what the external identity collaborator supplies at accept
// time.
type Identity struct {
	UserID      string
	DisplayName string
	Avatar      string
	Role        string
}

// Authenticator validates an opaque claim (e.g. a bearer token) into an
// Identity. It is the only external call on the accept path; a connection
// is invisible to rooms and broadcast until it returns.
type Authenticator interface {
	Authenticate(ctx context.Context, claim string) (Identity, error)
}

// CommentSink is the extension point invoked when a COMMENT message is
// routed, so an external collaborator can persist it. Sink failures are
// logged and never block the broadcast.
type CommentSink interface {
	Persist(ctx context.Context, room string, env protocol.Envelope) error
}

// Manager orchestrates connections, rooms, presence, rate limiting, and bus
// fan-out. It is the only component that mutates Connections and room
// membership.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	rooms    *rooms.Registry
	presence *presence.Store
	limiter  *ratelimit.Limiter
	bus      *pubsub.Bus
	auth     Authenticator

	comments     CommentSink
	filter       *moderation.Filter
	onConnect    func(c *Conn)
	onDisconnect func(connID, userID, reason string)

	now func() time.Time // injectable for tests
}

// NewManager wires the hub to its collaborators. All of them are process
// singletons constructed at startup and injected here so tests can build
// isolated instances.
func NewManager(auth Authenticator, limiter *ratelimit.Limiter, registry *rooms.Registry, pres *presence.Store, bus *pubsub.Bus) *Manager {
	return &Manager{
		conns:    make(map[string]*Conn),
		rooms:    registry,
		presence: pres,
		limiter:  limiter,
		bus:      bus,
		auth:     auth,
		now:      time.Now,
	}
}

// SetCommentSink registers the comment persistence extension point.
func (m *Manager) SetCommentSink(sink CommentSink) {
	m.comments = sink
}

// SetFilter attaches a content filter applied to comment text before
// routing. Without one, comments pass unmoderated.
func (m *Manager) SetFilter(f *moderation.Filter) {
	m.filter = f
}

// SetOnConnect registers a callback invoked after a connection is accepted
// and registered.
func (m *Manager) SetOnConnect(fn func(c *Conn)) {
	m.onConnect = fn
}

// SetOnDisconnect registers a callback invoked after a connection has been
// fully removed (rooms left, presence updated).
func (m *Manager) SetOnDisconnect(fn func(connID, userID, reason string)) {
	m.onDisconnect = fn
}

// Accept authenticates the claim with the identity collaborator and, on
// success, registers a new connection: presence goes online, USER_ONLINE is
// broadcast to all connections, and the new connection receives a private
// CONNECTION_ESTABLISHED confirmation. On failure the transport is closed
// and ErrAuthentication returned; the connection is never registered.
func (m *Manager) Accept(ctx context.Context, transport Transport, claim string) (*Conn, error) {
	identity, err := m.auth.Authenticate(ctx, claim)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	now := m.now()
	c := &Conn{
		ID:           uuid.New().String(),
		Identity:     identity,
		transport:    transport,
		state:        StateActive,
		rooms:        make(map[string]struct{}),
		ConnectedAt:  now,
		lastActivity: now,
	}

	m.mu.Lock()
	m.conns[c.ID] = c
	total := len(m.conns)
	m.mu.Unlock()
	metrics.ConnectionsActive.Set(float64(total))

	m.presence.SetStatus(identity.UserID, presence.StatusOnline)

	if env, err := protocol.New(protocol.TypeUserOnline, protocol.PresenceData{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Status:      string(presence.StatusOnline),
	}); err == nil {
		m.Broadcast(env)
	}

	if data, err := protocol.Marshal(protocol.TypeConnectionEstablished, protocol.ConnectionEstablishedData{
		ConnectionID: c.ID,
		UserID:       identity.UserID,
	}); err == nil {
		if err := c.send(data); err != nil {
			log.Printf("hub: failed to send connection_established conn=%s: %v", c.ID, err)
		}
	}

	if m.onConnect != nil {
		m.onConnect(c)
	}

	log.Printf("hub: connection accepted conn=%s user=%s (total=%d)", c.ID, identity.UserID, total)
	return c, nil
}

// Get returns the connection for the given ID.
func (m *Manager) Get(connID string) (*Conn, bool) {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	return c, ok
}

// Count returns the number of registered connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// All returns a snapshot of all current connections, safe to iterate
// without holding the lock.
func (m *Manager) All() []*Conn {
	m.mu.RLock()
	out := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	m.mu.RUnlock()
	return out
}

// MarkAlive records transport-level liveness (pong frames, control traffic)
// for a connection without counting a message.
func (m *Manager) MarkAlive(connID string) {
	if c, ok := m.Get(connID); ok {
		c.markAlive(m.now())
		m.presence.Touch(c.Identity.UserID)
	}
}

// Subscribe adds the connection to a room, creating the room on first join.
// Idempotent: joining a room twice is not an error.
func (m *Manager) Subscribe(connID, room string) error {
	c, ok := m.Get(connID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}

	m.rooms.Join(room, connID)
	c.addRoom(room)
	m.presence.SetRoom(c.Identity.UserID, room)
	metrics.RoomsActive.Set(float64(len(m.rooms.Rooms())))
	return nil
}

// Unsubscribe removes the connection from a room; the room is deleted when
// its last member leaves. A no-op if the connection was not a member.
func (m *Manager) Unsubscribe(connID, room string) error {
	c, ok := m.Get(connID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}

	m.rooms.Leave(room, connID)
	c.removeRoom(room)
	metrics.RoomsActive.Set(float64(len(m.rooms.Rooms())))
	return nil
}

// BroadcastToRoom delivers the envelope to every current member of the room
// except the optional excluded connection, and mirrors the bytes on the bus
// channel room:<name> for non-local listeners. Membership is snapshotted
// before delivery; members removed mid-iteration are a harmless no-op.
// Broadcasting to an empty room is a silent no-op. Returns the number of
// connections delivered to.
func (m *Manager) BroadcastToRoom(room string, env protocol.Envelope, excludeConnID string) int {
	members := m.rooms.Members(room)
	if len(members) == 0 {
		return 0
	}

	data, err := env.Encode()
	if err != nil {
		log.Printf("hub: broadcast encode failed room=%s: %v", room, err)
		return 0
	}

	delivered := m.deliverToMembers(members, data, excludeConnID)
	m.bus.Publish("room:"+room, data)
	return delivered
}

// DeliverLocal sends pre-encoded wire bytes to the room's current members
// without mirroring them on the bus. It is the entry point for traffic that
// arrived over the bus or a cross-instance bridge, where re-publishing
// would loop the message back to its source.
func (m *Manager) DeliverLocal(room string, data []byte) int {
	members := m.rooms.Members(room)
	if len(members) == 0 {
		return 0
	}
	return m.deliverToMembers(members, data, "")
}

func (m *Manager) deliverToMembers(members []string, data []byte, excludeConnID string) int {
	delivered := 0
	for _, id := range members {
		if id == excludeConnID {
			continue
		}
		c, ok := m.Get(id)
		if !ok {
			continue // removed after the snapshot; skip silently
		}
		if err := c.send(data); err != nil {
			continue // dead transports are reaped by the heartbeat
		}
		delivered++
	}

	metrics.MessagesTotal.WithLabelValues("delivered").Add(float64(delivered))
	metrics.BroadcastFanout.Observe(float64(delivered))
	return delivered
}

// Broadcast delivers the envelope to every registered connection.
func (m *Manager) Broadcast(env protocol.Envelope) int {
	data, err := env.Encode()
	if err != nil {
		log.Printf("hub: broadcast encode failed: %v", err)
		return 0
	}

	delivered := 0
	for _, c := range m.All() {
		if err := c.send(data); err == nil {
			delivered++
		}
	}
	metrics.MessagesTotal.WithLabelValues("delivered").Add(float64(delivered))
	return delivered
}

// Disconnect removes the connection from every room it joined (cleaning up
// now-empty rooms), marks the user offline, closes the transport, and
// broadcasts USER_OFFLINE. It always succeeds and is idempotent; callers
// are the transport close path, the heartbeat monitor, and admin actions.
func (m *Manager) Disconnect(connID, reason string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if ok {
		delete(m.conns, connID)
	}
	total := len(m.conns)
	m.mu.Unlock()
	if !ok {
		return
	}

	for _, room := range c.Rooms() {
		m.rooms.Leave(room, connID)
	}
	c.close()

	m.presence.SetStatus(c.Identity.UserID, presence.StatusOffline)

	metrics.ConnectionsActive.Set(float64(total))
	metrics.RoomsActive.Set(float64(len(m.rooms.Rooms())))
	metrics.DisconnectsTotal.WithLabelValues(reason).Inc()

	if env, err := protocol.New(protocol.TypeUserOffline, protocol.PresenceData{
		UserID: c.Identity.UserID,
		Status: string(presence.StatusOffline),
	}); err == nil {
		m.Broadcast(env)
	}

	if m.onDisconnect != nil {
		m.onDisconnect(connID, c.Identity.UserID, reason)
	}

	log.Printf("hub: connection closed conn=%s user=%s reason=%s (total=%d)", connID, c.Identity.UserID, reason, total)
}

// Shutdown disconnects every connection with the server_shutdown reason.
func (m *Manager) Shutdown() {
	for _, c := range m.All() {
		m.Disconnect(c.ID, ReasonShutdown)
	}
}
