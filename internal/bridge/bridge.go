// Package bridge fans room traffic out across server instances over NATS.
// Each instance taps its local bus for room broadcasts and republishes them
// on rooms.<name> subjects; frames arriving from other instances are
// delivered to local room members only, so a message never crosses the
// bridge twice.
package bridge

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pitchconnect/realtime/internal/pubsub"
)

// SubjectPrefix is the NATS subject namespace for room traffic. The room
// name is appended as the final token: rooms.<name>.
const SubjectPrefix = "rooms."

// busChannelPrefix is the local bus channel namespace mirrored by the
// bridge. Only channels under it cross instances.
const busChannelPrefix = "room:"

// Deliverer delivers wire bytes to local room members without echoing them
// back onto the bus. The hub's manager satisfies it.
type Deliverer interface {
	DeliverLocal(room string, data []byte) int
}

// frame is the cross-instance wire format. Origin identifies the publishing
// instance so it can discard its own frames coming back from the broker.
type frame struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Data   json.RawMessage `json:"data"`
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "realtime",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Bridge connects one server instance's room traffic to the NATS mesh.
type Bridge struct {
	conn    *nats.Conn
	origin  string
	deliver Deliverer
	bus     *pubsub.Bus
	sub     *nats.Subscription
	untap   func()
}

// New connects to NATS with the given config. origin must be unique per
// instance; the instance's connection ID or hostname works.
func New(config Config, origin string, deliver Deliverer, bus *pubsub.Bus) (*Bridge, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[bridge] disconnected: %v", err)
			} else {
				log.Printf("[bridge] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[bridge] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[bridge] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("bridge: nats connect: %w", err)
	}

	log.Printf("[bridge] connected to %s origin=%s", nc.ConnectedUrl(), origin)

	return &Bridge{
		conn:    nc,
		origin:  origin,
		deliver: deliver,
		bus:     bus,
	}, nil
}

// Start wires both directions: local room broadcasts flow out to NATS, and
// frames from other instances flow in to local members.
func (b *Bridge) Start() error {
	sub, err := b.conn.Subscribe(SubjectPrefix+">", b.handleInbound)
	if err != nil {
		return fmt.Errorf("bridge: nats subscribe %s>: %w", SubjectPrefix, err)
	}
	b.sub = sub

	b.untap = b.bus.SubscribeAll(b.handleOutbound)
	return nil
}

// handleOutbound forwards a local bus publication to the mesh. Non-room
// channels stay local.
func (b *Bridge) handleOutbound(channel string, data []byte) {
	room, ok := strings.CutPrefix(channel, busChannelPrefix)
	if !ok || room == "" {
		return
	}

	payload, err := json.Marshal(frame{Origin: b.origin, Room: room, Data: data})
	if err != nil {
		log.Printf("[bridge] marshal frame room=%s: %v", room, err)
		return
	}

	if err := b.conn.Publish(SubjectPrefix+room, payload); err != nil {
		log.Printf("[bridge] publish room=%s: %v", room, err)
	}
}

// handleInbound delivers a mesh frame to local room members. Frames this
// instance published come back from the broker and are dropped by the
// origin check.
func (b *Bridge) handleInbound(msg *nats.Msg) {
	var f frame
	if err := json.Unmarshal(msg.Data, &f); err != nil {
		log.Printf("[bridge] malformed frame on %s: %v", msg.Subject, err)
		return
	}
	if f.Origin == b.origin {
		return
	}
	if f.Room == "" || len(f.Data) == 0 {
		return
	}

	b.deliver.DeliverLocal(f.Room, f.Data)
}

// Close detaches the bus tap, drains the subscription, and closes the NATS
// connection.
func (b *Bridge) Close() {
	if b.untap != nil {
		b.untap()
	}
	if b.sub != nil {
		if err := b.sub.Drain(); err != nil {
			log.Printf("[bridge] drain: %v", err)
		}
	}
	if err := b.conn.Drain(); err != nil {
		log.Printf("[bridge] connection drain: %v", err)
	}
	log.Printf("[bridge] closed")
}
