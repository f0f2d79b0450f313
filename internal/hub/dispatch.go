package hub

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pitchconnect/realtime/internal/metrics"
	"github.com/pitchconnect/realtime/internal/presence"
	"github.com/pitchconnect/realtime/internal/protocol"
	"github.com/pitchconnect/realtime/internal/ratelimit"
)

// sinkTimeout bounds a single comment persistence call so a slow sink
// cannot stall the connection's read loop.
const sinkTimeout = 3 * time.Second

// HandleInbound processes one raw message from the connection's transport.
// Messages from a single connection arrive here sequentially (the transport
// reader is one goroutine per connection), which gives the per-connection
// ordering guarantee. Every per-message failure is converted into an ERROR
// envelope back to the sender; nothing propagates across the connection
// boundary.
func (m *Manager) HandleInbound(connID string, raw []byte) error {
	c, ok := m.Get(connID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}

	c.touch(m.now())
	m.presence.Touch(c.Identity.UserID)
	metrics.MessagesTotal.WithLabelValues("received").Inc()

	env, err := protocol.Parse(raw)
	if err != nil {
		log.Printf("hub: invalid envelope conn=%s: %v", connID, err)
		m.sendError(c, protocol.CodeValidation, "invalid message format", 0)
		return nil
	}

	res, err := m.limiter.Check(connID, ratelimit.CategorySocketMessage)
	if err != nil {
		// A missing category is a server configuration bug; log loudly and
		// deny rather than letting traffic through unmetered.
		log.Printf("hub: rate limit config error conn=%s: %v", connID, err)
		m.sendError(c, protocol.CodeRateLimited, "message rejected", 0)
		return nil
	}
	result := "allowed"
	if !res.Allowed {
		result = "denied"
	}
	metrics.RateLimitChecks.WithLabelValues(ratelimit.CategorySocketMessage, result).Inc()

	if !res.Allowed {
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		m.sendError(c, protocol.CodeRateLimited, "message rate limit exceeded", int(res.RetryAfter.Seconds()))
		return nil
	}

	m.dispatch(c, env)
	return nil
}

// dispatch routes a parsed envelope by its type tag.
func (m *Manager) dispatch(c *Conn, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSubscribe:
		var sub protocol.SubscribeData
		if err := env.Decode(&sub); err != nil || sub.Room == "" {
			m.sendError(c, protocol.CodeValidation, "subscribe requires a room", 0)
			return
		}
		if err := m.Subscribe(c.ID, sub.Room); err != nil {
			return
		}
		m.sendTo(c, protocol.TypeSubscribed, protocol.SubscribedData{
			Room:    sub.Room,
			Members: m.rooms.Size(sub.Room),
		})

	case protocol.TypeUnsubscribe:
		var unsub protocol.UnsubscribeData
		if err := env.Decode(&unsub); err != nil || unsub.Room == "" {
			m.sendError(c, protocol.CodeValidation, "unsubscribe requires a room", 0)
			return
		}
		if err := m.Unsubscribe(c.ID, unsub.Room); err != nil {
			return
		}
		m.sendTo(c, protocol.TypeUnsubscribed, protocol.UnsubscribedData{Room: unsub.Room})

	case protocol.TypeComment:
		if !m.requireRoom(c, env) {
			return
		}
		var cd protocol.CommentData
		if err := env.Decode(&cd); err != nil {
			m.sendError(c, protocol.CodeValidation, "malformed comment payload", 0)
			return
		}
		if err := protocol.ValidateCommentText(cd.Text); err != nil {
			m.sendError(c, protocol.CodeValidation, err.Error(), 0)
			return
		}
		if m.filter != nil {
			if res := m.filter.Check(cd.Text); res.Blocked {
				log.Printf("hub: comment blocked conn=%s reason=%s term=%q", c.ID, res.Reason, res.Term)
				m.sendError(c, protocol.CodeContentBlocked, "comment rejected by content filter", 0)
				return
			}
		}
		env.Sender = c.Identity.UserID
		m.persistComment(env)
		m.BroadcastToRoom(env.Room, env, c.ID)

	case protocol.TypePresenceUpdate:
		var pd protocol.PresenceData
		if err := env.Decode(&pd); err != nil {
			m.sendError(c, protocol.CodeValidation, "malformed presence payload", 0)
			return
		}
		status, ok := clientStatus(pd.Status)
		if !ok {
			m.sendError(c, protocol.CodeValidation, "unsupported presence status", 0)
			return
		}
		m.presence.SetStatus(c.Identity.UserID, status)
		if out, err := protocol.New(protocol.TypePresenceUpdate, protocol.PresenceData{
			UserID:      c.Identity.UserID,
			DisplayName: c.Identity.DisplayName,
			Status:      string(status),
		}); err == nil {
			m.Broadcast(out)
		}

	case protocol.TypeTyping, protocol.TypeReaction:
		if !m.requireRoom(c, env) {
			return
		}
		env.Sender = c.Identity.UserID
		m.BroadcastToRoom(env.Room, env, c.ID)

	default:
		// Non-core types carrying a room are domain broadcasts; the core
		// routes them opaquely. Everything else is an unknown no-op.
		if !protocol.IsCoreType(env.Type) && env.Room != "" {
			env.Sender = c.Identity.UserID
			m.BroadcastToRoom(env.Room, env, c.ID)
			return
		}
		log.Printf("hub: unsupported message type=%q conn=%s", env.Type, c.ID)
		m.sendError(c, protocol.CodeUnknownType, "unsupported message type", 0)
	}
}

// clientStatus maps a client-supplied status string to a presence Status.
// Offline is only ever set by disconnect, never by request.
func clientStatus(s string) (presence.Status, bool) {
	switch status := presence.Status(s); status {
	case presence.StatusOnline, presence.StatusIdle, presence.StatusAway:
		return status, true
	}
	return "", false
}

// requireRoom validates that a room-scoped message names a room.
func (m *Manager) requireRoom(c *Conn, env protocol.Envelope) bool {
	if env.Room == "" {
		m.sendError(c, protocol.CodeValidation, env.Type+" requires a room", 0)
		return false
	}
	return true
}

// persistComment hands a COMMENT envelope to the external sink. Failures
// are logged and swallowed: persistence must never block the broadcast.
func (m *Manager) persistComment(env protocol.Envelope) {
	if m.comments == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := m.comments.Persist(ctx, env.Room, env); err != nil {
		log.Printf("hub: comment sink failed room=%s: %v", env.Room, err)
	}
}

// sendTo builds an envelope and writes it to a single connection.
func (m *Manager) sendTo(c *Conn, msgType string, payload interface{}) {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		log.Printf("hub: failed to build %s conn=%s: %v", msgType, c.ID, err)
		return
	}
	if err := c.send(data); err != nil {
		log.Printf("hub: failed to send %s conn=%s: %v", msgType, c.ID, err)
	}
}

// sendError reports a per-message failure back to the originating
// connection. The connection stays open.
func (m *Manager) sendError(c *Conn, code, message string, retryAfter int) {
	data, err := protocol.Marshal(protocol.TypeError, protocol.ErrorData{
		Code:       code,
		Message:    message,
		RetryAfter: retryAfter,
	})
	if err != nil {
		log.Printf("hub: failed to build error message conn=%s: %v", c.ID, err)
		return
	}
	if err := c.send(data); err != nil {
		log.Printf("hub: failed to send error message conn=%s: %v", c.ID, err)
	}
}
