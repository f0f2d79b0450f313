package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// transport adapts a raw upgraded socket to the hub's Transport interface.
// The write mutex serializes outbound frames so concurrent broadcasts do
// not interleave bytes on the wire.
type transport struct {
	conn         net.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func newTransport(conn net.Conn, writeTimeout time.Duration) *transport {
	return &transport{conn: conn, writeTimeout: writeTimeout}
}

// Write sends a WebSocket text frame.
func (t *transport) Write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
		defer func() { _ = t.conn.SetWriteDeadline(time.Time{}) }()
	}
	return wsutil.WriteServerMessage(t.conn, ws.OpText, data)
}

// Ping sends a WebSocket ping control frame. The client's pong (or any
// data frame) counts as the answer.
func (t *transport) Ping() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
		defer func() { _ = t.conn.SetWriteDeadline(time.Time{}) }()
	}
	return wsutil.WriteServerMessage(t.conn, ws.OpPing, nil)
}

// Close closes the underlying network connection.
func (t *transport) Close() error {
	return t.conn.Close()
}
