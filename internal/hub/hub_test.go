package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pitchconnect/realtime/internal/moderation"
	"github.com/pitchconnect/realtime/internal/presence"
	"github.com/pitchconnect/realtime/internal/protocol"
	"github.com/pitchconnect/realtime/internal/pubsub"
	"github.com/pitchconnect/realtime/internal/ratelimit"
	"github.com/pitchconnect/realtime/internal/rooms"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// fakeTransport records everything written to it.
type fakeTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	pings    int
	closed   bool
	writeErr error
	pingErr  error
}

func (ft *fakeTransport) Write(data []byte) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.writeErr != nil {
		return ft.writeErr
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	ft.frames = append(ft.frames, frame)
	return nil
}

func (ft *fakeTransport) Ping() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.pingErr != nil {
		return ft.pingErr
	}
	ft.pings++
	return nil
}

func (ft *fakeTransport) Close() error {
	ft.mu.Lock()
	ft.closed = true
	ft.mu.Unlock()
	return nil
}

// received decodes every frame written so far into envelopes.
func (ft *fakeTransport) received(t *testing.T) []protocol.Envelope {
	t.Helper()
	ft.mu.Lock()
	defer ft.mu.Unlock()

	out := make([]protocol.Envelope, 0, len(ft.frames))
	for _, frame := range ft.frames {
		env, err := protocol.Parse(frame)
		if err != nil {
			t.Fatalf("transport received unparseable frame %q: %v", frame, err)
		}
		out = append(out, env)
	}
	return out
}

// lastOfType returns the most recent envelope of the given type, if any.
func (ft *fakeTransport) lastOfType(t *testing.T, msgType string) (protocol.Envelope, bool) {
	t.Helper()
	envs := ft.received(t)
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Type == msgType {
			return envs[i], true
		}
	}
	return protocol.Envelope{}, false
}

func (ft *fakeTransport) countOfType(t *testing.T, msgType string) int {
	t.Helper()
	n := 0
	for _, env := range ft.received(t) {
		if env.Type == msgType {
			n++
		}
	}
	return n
}

// authFunc adapts a function to the Authenticator interface.
type authFunc func(ctx context.Context, claim string) (Identity, error)

func (f authFunc) Authenticate(ctx context.Context, claim string) (Identity, error) {
	return f(ctx, claim)
}

// claimAuth treats the claim string as "<userID>" and rejects "bad".
var claimAuth = authFunc(func(_ context.Context, claim string) (Identity, error) {
	if claim == "bad" || claim == "" {
		return Identity{}, errors.New("invalid token")
	}
	return Identity{UserID: claim, DisplayName: "User " + claim}, nil
})

// fakeSink records persisted comments and optionally fails.
type fakeSink struct {
	mu    sync.Mutex
	calls []string // room names
	err   error
}

func (fs *fakeSink) Persist(_ context.Context, room string, _ protocol.Envelope) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.calls = append(fs.calls, room)
	return fs.err
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type testHub struct {
	manager  *Manager
	registry *rooms.Registry
	presence *presence.Store
	bus      *pubsub.Bus
	clock    time.Time
}

func newTestHub(t *testing.T, msgConfig ratelimit.Config) *testHub {
	t.Helper()

	limiter, err := ratelimit.NewLimiter(map[string]ratelimit.Config{
		ratelimit.CategorySocketMessage: msgConfig,
	})
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}

	th := &testHub{
		registry: rooms.NewRegistry(),
		presence: presence.NewStore(),
		bus:      pubsub.NewBus(),
		clock:    time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
	}
	th.manager = NewManager(claimAuth, limiter, th.registry, th.presence, th.bus)
	th.manager.now = func() time.Time { return th.clock }
	return th
}

func generousMsgConfig() ratelimit.Config {
	return ratelimit.Config{Requests: 1000, Window: time.Minute, Strategy: ratelimit.StrategyTokenBucket, Burst: 1000}
}

func (th *testHub) advance(d time.Duration) { th.clock = th.clock.Add(d) }

// connect accepts a connection for the given user and returns it with its
// transport.
func (th *testHub) connect(t *testing.T, userID string) (*Conn, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	c, err := th.manager.Accept(context.Background(), ft, userID)
	if err != nil {
		t.Fatalf("Accept(%s): %v", userID, err)
	}
	return c, ft
}

// inbound builds and feeds a client envelope into the manager.
func (th *testHub) inbound(t *testing.T, connID, msgType, room string, payload interface{}) {
	t.Helper()
	data := json.RawMessage(`{}`)
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		data = raw
	}
	env := protocol.Envelope{Type: msgType, Data: data, Timestamp: th.clock.UnixMilli(), Room: room}
	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	if err := th.manager.HandleInbound(connID, raw); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: Accept registers, announces, and confirms
// ---------------------------------------------------------------------------

func TestAccept_RegistersAndAnnounces(t *testing.T) {
	th := newTestHub(t, generousMsgConfig())

	_, ftA := th.connect(t, "alice")
	connB, ftB := th.connect(t, "bob")

	if th.manager.Count() != 2 {
		t.Fatalf("expected 2 connections, got %d", th.manager.Count())
	}

	// The earlier connection saw bob's USER_ONLINE broadcast.
	env, ok := ftA.lastOfType(t, protocol.TypeUserOnline)
	if !ok {
		t.Fatalf("expected USER_ONLINE at the earlier connection")
	}
	var pd protocol.PresenceData
	if err := env.Decode(&pd); err != nil {
		t.Fatalf("decode presence data: %v", err)
	}
	if pd.UserID != "bob" || pd.Status != "online" {
		t.Fatalf("unexpected presence payload %+v", pd)
	}

	// The new connection got its private confirmation.
	env, ok = ftB.lastOfType(t, protocol.TypeConnectionEstablished)
	if !ok {
		t.Fatalf("expected CONNECTION_ESTABLISHED at the new connection")
	}
	var ce protocol.ConnectionEstablishedData
	if err := env.Decode(&ce); err != nil {
		t.Fatalf("decode confirmation: %v", err)
	}
	if ce.ConnectionID != connB.ID || ce.UserID != "bob" {
		t.Fatalf("unexpected confirmation payload %+v", ce)
	}

	rec, ok := th.presence.Get("bob")
	if !ok || rec.Status != presence.StatusOnline {
		t.Fatalf("expected bob online in presence, got %+v", rec)
	}
}

// ---------------------------------------------------------------------------
// Test: Failed authentication rejects and never registers
// ---------------------------------------------------------------------------

func TestAccept_AuthFailure(t *testing.T) {
	th := newTestHub(t, generousMsgConfig())

	ft := &fakeTransport{}
	_, err := th.manager.Accept(context.Background(), ft, "bad")
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if th.manager.Count() != 0 {
		t.Fatalf("rejected connection must not be registered")
	}
	if !ft.closed {
		t.Errorf("rejected transport must be closed")
	}
}

// ---------------------------------------------------------------------------
// Test: Malformed envelopes notify the sender and keep the connection open
// ---------------------------------------------------------------------------

func TestHandleInbound_MalformedEnvelope(t *testing.T) {
	th := newTestHub(t, generousMsgConfig())
	c, ft := th.connect(t, "alice")

	if err := th.manager.HandleInbound(c.ID, []byte(`{not json`)); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	env, ok := ft.lastOfType(t, protocol.TypeError)
	if !ok {
		t.Fatalf("expected ERROR envelope")
	}
	var ed protocol.ErrorData
	if err := env.Decode(&ed); err != nil {
		t.Fatalf("decode error data: %v", err)
	}
	if ed.Code != protocol.CodeValidation {
		t.Fatalf("expected code %q, got %q", protocol.CodeValidation, ed.Code)
	}
	if c.State() == StateClosed {
		t.Fatalf("connection must stay open after a validation error")
	}

	// A missing type field is the same class of failure.
	if err := th.manager.HandleInbound(c.ID, []byte(`{"data":{}}`)); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if got := ft.countOfType(t, protocol.TypeError); got != 2 {
		t.Fatalf("expected 2 validation errors, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Test: Exceeding the message budget drops the message with a retry hint
// ---------------------------------------------------------------------------

func TestHandleInbound_RateLimited(t *testing.T) {
	th := newTestHub(t, ratelimit.Config{
		Requests: 60, Window: time.Minute, Strategy: ratelimit.StrategyTokenBucket, Burst: 2,
	})

	a, ftA := th.connect(t, "alice")
	b, ftB := th.connect(t, "bob")
	th.inbound(t, a.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match:1"})
	th.inbound(t, b.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match:1"})

	// Alice's bucket (burst 2) is already drained by the subscribe; one
	// comment goes through, the next is dropped.
	th.inbound(t, a.ID, protocol.TypeComment, "match:1", protocol.CommentData{Text: "first"})
	received := ftB.countOfType(t, protocol.TypeComment)
	th.inbound(t, a.ID, protocol.TypeComment, "match:1", protocol.CommentData{Text: "second"})

	env, ok := ftA.lastOfType(t, protocol.TypeError)
	if !ok {
		t.Fatalf("expected rate limit ERROR envelope")
	}
	var ed protocol.ErrorData
	if err := env.Decode(&ed); err != nil {
		t.Fatalf("decode error data: %v", err)
	}
	if ed.Code != protocol.CodeRateLimited {
		t.Fatalf("expected code %q, got %q", protocol.CodeRateLimited, ed.Code)
	}
	if ed.RetryAfter <= 0 {
		t.Errorf("expected positive retry_after, got %d", ed.RetryAfter)
	}

	if got := ftB.countOfType(t, protocol.TypeComment); got != received {
		t.Fatalf("rate-limited message must be dropped, bob got %d extra", got-received)
	}
	if a.State() == StateClosed {
		t.Fatalf("rate-limited connection must stay open")
	}
}

// ---------------------------------------------------------------------------
// Test: Subscribe/unsubscribe are idempotent and confirm to the caller only
// ---------------------------------------------------------------------------

func TestSubscribeUnsubscribe_Idempotent(t *testing.T) {
	th := newTestHub(t, generousMsgConfig())
	a, ftA := th.connect(t, "alice")
	_, ftB := th.connect(t, "bob")

	th.inbound(t, a.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match:1"})
	th.inbound(t, a.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match:1"})

	if got := th.registry.Size("match:1"); got != 1 {
		t.Fatalf("duplicate subscribe must not duplicate membership, size=%d", got)
	}
	if got := ftA.countOfType(t, protocol.TypeSubscribed); got != 2 {
		t.Fatalf("each subscribe gets a confirmation, got %d", got)
	}
	if got := ftB.countOfType(t, protocol.TypeSubscribed); got != 0 {
		t.Fatalf("confirmations must not be broadcast, bob got %d", got)
	}

	th.inbound(t, a.ID, protocol.TypeUnsubscribe, "", protocol.UnsubscribeData{Room: "match:1"})
	th.inbound(t, a.ID, protocol.TypeUnsubscribe, "", protocol.UnsubscribeData{Room: "match:1"})

	if !th.registry.IsEmpty("match:1") {
		t.Fatalf("room must be gone after the last member left")
	}
	if len(a.Rooms()) != 0 {
		t.Fatalf("connection room set must be empty, got %v", a.Rooms())
	}
}

// ---------------------------------------------------------------------------
// Test: Room comment scenario — sender excluded, member receives exactly once
// ---------------------------------------------------------------------------

func TestComment_RoomScenario(t *testing.T) {
	th := newTestHub(t, generousMsgConfig())
	sink := &fakeSink{}
	th.manager.SetCommentSink(sink)

	a, ftA := th.connect(t, "alice")
	b, ftB := th.connect(t, "bob")
	outsider, ftC := th.connect(t, "carol")
	_ = outsider

	th.inbound(t, a.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match:1"})
	th.inbound(t, b.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match:1"})

	th.inbound(t, a.ID, protocol.TypeComment, "match:1", protocol.CommentData{Text: "what a goal"})

	if got := ftB.countOfType(t, protocol.TypeComment); got != 1 {
		t.Fatalf("bob must receive exactly one comment, got %d", got)
	}
	env, _ := ftB.lastOfType(t, protocol.TypeComment)
	if env.Room != "match:1" {
		t.Errorf("expected room match:1, got %q", env.Room)
	}
	if env.Sender != "alice" {
		t.Errorf("expected sender alice, got %q", env.Sender)
	}

	if got := ftA.countOfType(t, protocol.TypeComment); got != 0 {
		t.Fatalf("sender is excluded from its own comment, got %d", got)
	}
	if got := ftC.countOfType(t, protocol.TypeComment); got != 0 {
		t.Fatalf("non-members must not receive room comments, got %d", got)
	}

	if len(sink.calls) != 1 || sink.calls[0] != "match:1" {
		t.Fatalf("comment sink must be invoked once for match:1, got %v", sink.calls)
	}
}

// ---------------------------------------------------------------------------
// Test: Sink failure never blocks the broadcast
// ---------------------------------------------------------------------------

func TestComment_SinkFailureDoesNotBlockBroadcast(t *testing.T) {
	th := newTestHub(t, generousMsgConfig())
	th.manager.SetCommentSink(&fakeSink{err: fmt.Errorf("database down")})

	a, _ := th.connect(t, "alice")
	b, ftB := th.connect(t, "bob")
	th.inbound(t, a.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match:1"})
	th.inbound(t, b.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match:1"})

	th.inbound(t, a.ID, protocol.TypeComment, "match:1", protocol.CommentData{Text: "still delivered"})

	if got := ftB.countOfType(t, protocol.TypeComment); got != 1 {
		t.Fatalf("broadcast must proceed despite sink failure, bob got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Test: Filtered comments are rejected and never broadcast
// ---------------------------------------------------------------------------

func TestComment_ContentFilterBlocks(t *testing.T) {
	th := newTestHub(t, generousMsgConfig())
	th.manager.SetFilter(moderation.NewFilterWithTerms([]string{"badword"}))

	a, ftA := th.connect(t, "alice")
	b, ftB := th.connect(t, "bob")
	th.inbound(t, a.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match:1"})
	th.inbound(t, b.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match:1"})

	th.inbound(t, a.ID, protocol.TypeComment, "match:1", protocol.CommentData{Text: "such a badword ref"})

	env, ok := ftA.lastOfType(t, protocol.TypeError)
	if !ok {
		t.Fatalf("expected content filter ERROR envelope")
	}
	var ed protocol.ErrorData
	if err := env.Decode(&ed); err != nil {
		t.Fatalf("decode error data: %v", err)
	}
	if ed.Code != protocol.CodeContentBlocked {
		t.Fatalf("expected code %q, got %q", protocol.CodeContentBlocked, ed.Code)
	}
	if got := ftB.countOfType(t, protocol.TypeComment); got != 0 {
		t.Fatalf("blocked comment must not be broadcast, bob got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Test: Non-core types with a room are routed opaquely
// ---------------------------------------------------------------------------

func TestDispatch_OpaqueDomainBroadcast(t *testing.T) {
	th := newTestHub(t, generousMsgConfig())
	a, _ := th.connect(t, "alice")
	b, ftB := th.connect(t, "bob")
	th.inbound(t, a.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match:1"})
	th.inbound(t, b.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match:1"})

	th.inbound(t, a.ID, "SCORE_UPDATE", "match:1", map[string]int{"home": 2, "away": 1})

	env, ok := ftB.lastOfType(t, "SCORE_UPDATE")
	if !ok {
		t.Fatalf("domain broadcast must be routed to room members")
	}
	var score map[string]int
	if err := env.Decode(&score); err != nil {
		t.Fatalf("decode score: %v", err)
	}
	if score["home"] != 2 || score["away"] != 1 {
		t.Fatalf("payload must pass through untouched, got %v", score)
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown types without a room are logged no-ops with a notice
// ---------------------------------------------------------------------------

func TestDispatch_UnknownType(t *testing.T) {
	th := newTestHub(t, generousMsgConfig())
	a, ftA := th.connect(t, "alice")

	th.inbound(t, a.ID, "BOGUS", "", map[string]string{"x": "y"})

	env, ok := ftA.lastOfType(t, protocol.TypeError)
	if !ok {
		t.Fatalf("expected ERROR notice for unknown type")
	}
	var ed protocol.ErrorData
	if err := env.Decode(&ed); err != nil {
		t.Fatalf("decode error data: %v", err)
	}
	if ed.Code != protocol.CodeUnknownType {
		t.Fatalf("expected code %q, got %q", protocol.CodeUnknownType, ed.Code)
	}
	if a.State() == StateClosed {
		t.Fatalf("unknown types are not fatal")
	}
}

// ---------------------------------------------------------------------------
// Test: Broadcast to an empty room is a silent no-op
// ---------------------------------------------------------------------------

func TestBroadcastToRoom_EmptyRoom(t *testing.T) {
	th := newTestHub(t, generousMsgConfig())

	busHits := 0
	th.bus.Subscribe("room:match:none", func(string, []byte) { busHits++ })

	env, _ := protocol.New(protocol.TypeComment, protocol.CommentData{Text: "x"})
	env.Room = "match:none"
	if got := th.manager.BroadcastToRoom("match:none", env, ""); got != 0 {
		t.Fatalf("expected 0 deliveries, got %d", got)
	}
	if busHits != 0 {
		t.Fatalf("empty-room broadcast must not publish on the bus")
	}
}

// ---------------------------------------------------------------------------
// Test: Room broadcasts are mirrored on the bus channel
// ---------------------------------------------------------------------------

func TestBroadcastToRoom_PublishesOnBus(t *testing.T) {
	th := newTestHub(t, generousMsgConfig())
	a, _ := th.connect(t, "alice")
	th.inbound(t, a.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match:1"})

	var seen [][]byte
	th.bus.Subscribe("room:match:1", func(_ string, data []byte) {
		seen = append(seen, data)
	})

	env, _ := protocol.New(protocol.TypeNotification, map[string]string{"text": "kickoff"})
	env.Room = "match:1"
	th.manager.BroadcastToRoom("match:1", env, "")

	if len(seen) != 1 {
		t.Fatalf("expected 1 bus publication, got %d", len(seen))
	}
	round, err := protocol.Parse(seen[0])
	if err != nil {
		t.Fatalf("bus payload must be the wire envelope: %v", err)
	}
	if round.Type != protocol.TypeNotification || round.Room != "match:1" {
		t.Fatalf("unexpected bus envelope %+v", round)
	}
}

// ---------------------------------------------------------------------------
// Test: Disconnect removes the connection from every joined room
// ---------------------------------------------------------------------------

func TestDisconnect_CleansRoomsAndPresence(t *testing.T) {
	th := newTestHub(t, generousMsgConfig())
	a, _ := th.connect(t, "alice")
	b, ftB := th.connect(t, "bob")

	th.inbound(t, a.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match:1"})
	th.inbound(t, a.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "team:2"})
	th.inbound(t, b.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match:1"})

	var gotReason string
	th.manager.SetOnDisconnect(func(connID, userID, reason string) {
		gotReason = reason
	})

	th.manager.Disconnect(a.ID, ReasonClientClose)

	for _, room := range []string{"match:1", "team:2"} {
		for _, id := range th.registry.Members(room) {
			if id == a.ID {
				t.Fatalf("disconnected connection still member of %s", room)
			}
		}
	}
	if !th.registry.IsEmpty("team:2") {
		t.Errorf("team:2 must be deleted once empty")
	}
	if th.registry.Size("match:1") != 1 {
		t.Errorf("match:1 must retain bob")
	}

	rec, _ := th.presence.Get("alice")
	if rec.Status != presence.StatusOffline {
		t.Errorf("expected alice offline, got %s", rec.Status)
	}

	if _, ok := ftB.lastOfType(t, protocol.TypeUserOffline); !ok {
		t.Errorf("expected USER_OFFLINE broadcast to remaining connections")
	}
	if gotReason != ReasonClientClose {
		t.Errorf("expected disconnect hook with reason %q, got %q", ReasonClientClose, gotReason)
	}

	// Idempotent: a second disconnect of the same ID is a no-op.
	th.manager.Disconnect(a.ID, ReasonAdmin)
	if th.manager.Count() != 1 {
		t.Fatalf("expected 1 remaining connection, got %d", th.manager.Count())
	}
}

// ---------------------------------------------------------------------------
// Test: Sends to an evicted connection are silently dropped
// ---------------------------------------------------------------------------

func TestSend_ClosedConnectionIsNoop(t *testing.T) {
	th := newTestHub(t, generousMsgConfig())
	a, ft := th.connect(t, "alice")

	th.manager.Disconnect(a.ID, ReasonClientClose)
	frames := len(ft.received(t))

	if err := a.send([]byte(`{"type":"NOTIFICATION","data":{}}`)); err != nil {
		t.Fatalf("send to closed connection must not error, got %v", err)
	}
	if got := len(ft.received(t)); got != frames {
		t.Fatalf("send to closed connection must not write, frames %d -> %d", frames, got)
	}
}

// ---------------------------------------------------------------------------
// Test: Explicit presence updates change status and are announced
// ---------------------------------------------------------------------------

func TestPresenceUpdate_SetsStatusAndAnnounces(t *testing.T) {
	th := newTestHub(t, generousMsgConfig())
	a, _ := th.connect(t, "alice")
	_, ftB := th.connect(t, "bob")

	th.inbound(t, a.ID, protocol.TypePresenceUpdate, "", protocol.PresenceData{Status: "away"})

	rec, ok := th.presence.Get("alice")
	if !ok || rec.Status != presence.StatusAway {
		t.Fatalf("expected alice away, got %+v (ok=%v)", rec, ok)
	}

	env, ok := ftB.lastOfType(t, protocol.TypePresenceUpdate)
	if !ok {
		t.Fatalf("expected PRESENCE_UPDATE at the other connection")
	}
	var pd protocol.PresenceData
	if err := env.Decode(&pd); err != nil {
		t.Fatalf("decode presence data: %v", err)
	}
	if pd.UserID != "alice" || pd.Status != "away" {
		t.Fatalf("unexpected presence payload %+v", pd)
	}

	// Any later activity from alice restores her to online.
	th.inbound(t, a.ID, protocol.TypeSubscribe, "", protocol.SubscribeData{Room: "match-42"})
	rec, _ = th.presence.Get("alice")
	if rec.Status != presence.StatusOnline {
		t.Fatalf("expected activity to restore online, got %s", rec.Status)
	}
}

// Test: A presence update with an unknown status is rejected
func TestPresenceUpdate_InvalidStatus(t *testing.T) {
	th := newTestHub(t, generousMsgConfig())
	a, ft := th.connect(t, "alice")

	for _, status := range []string{"offline", "invisible", ""} {
		th.inbound(t, a.ID, protocol.TypePresenceUpdate, "", protocol.PresenceData{Status: status})
	}

	if got := ft.countOfType(t, protocol.TypeError); got != 3 {
		t.Fatalf("expected 3 ERROR envelopes, got %d", got)
	}
	rec, _ := th.presence.Get("alice")
	if rec.Status != presence.StatusOnline {
		t.Fatalf("status must be unchanged, got %s", rec.Status)
	}
}
