// Package protocol defines the wire envelope exchanged over real-time
// connections. Every message is a JSON envelope carrying a type
// discriminator, a type-specific data object, and routing metadata. The
// event type set is closed for core events; domain layers may route their
// own types through rooms, which this package treats opaquely.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Core event types. Client -> server: Subscribe, Unsubscribe, Typing,
// Comment, Reaction. Server -> client: everything else.
const (
	TypeConnectionEstablished = "CONNECTION_ESTABLISHED"
	TypeSubscribe             = "SUBSCRIBE"
	TypeSubscribed            = "SUBSCRIBED"
	TypeUnsubscribe           = "UNSUBSCRIBE"
	TypeUnsubscribed          = "UNSUBSCRIBED"
	TypeUserOnline            = "USER_ONLINE"
	TypeUserOffline           = "USER_OFFLINE"
	TypePresenceUpdate        = "PRESENCE_UPDATE"
	TypeTyping                = "TYPING"
	TypeComment               = "COMMENT"
	TypeReaction              = "REACTION"
	TypeNotification          = "NOTIFICATION"
	TypeError                 = "ERROR"
)

// coreTypes is the closed set of event types this core interprets itself.
// Anything outside the set is a domain broadcast and is routed by its room
// field without inspection.
var coreTypes = map[string]bool{
	TypeConnectionEstablished: true,
	TypeSubscribe:             true,
	TypeSubscribed:            true,
	TypeUnsubscribe:           true,
	TypeUnsubscribed:          true,
	TypeUserOnline:            true,
	TypeUserOffline:           true,
	TypePresenceUpdate:        true,
	TypeTyping:                true,
	TypeComment:               true,
	TypeReaction:              true,
	TypeNotification:          true,
	TypeError:                 true,
}

// IsCoreType reports whether t belongs to the closed core event type set.
func IsCoreType(t string) bool {
	return coreTypes[t]
}

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope is the wire unit: a type discriminator, a raw data object decoded
// lazily according to the type, an epoch-millisecond timestamp, and optional
// sender, room, and message id fields.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Sender    string          `json:"sender,omitempty"`
	Room      string          `json:"room,omitempty"`
	ID        string          `json:"id,omitempty"`
}

// Parse decodes raw bytes into an Envelope. It fails on malformed JSON, a
// missing or empty type field, or a missing data object — the three
// conditions the dispatcher reports back to the sender as validation errors.
func Parse(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: malformed envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	if len(env.Data) == 0 {
		return Envelope{}, fmt.Errorf("protocol: missing \"data\" field")
	}
	return env, nil
}

// Decode unmarshals the envelope's data object into the given payload struct.
func (e Envelope) Decode(payload interface{}) error {
	if err := json.Unmarshal(e.Data, payload); err != nil {
		return fmt.Errorf("protocol: failed to decode %q payload: %w", e.Type, err)
	}
	return nil
}

// Encode serializes the envelope to wire bytes.
func (e Envelope) Encode() ([]byte, error) {
	out, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal envelope: %w", err)
	}
	return out, nil
}

// New builds an envelope of the given type around payload, stamping the
// current time. The payload is marshalled into the data object; a nil
// payload becomes an empty object so that Parse on the far side accepts it.
func New(msgType string, payload interface{}) (Envelope, error) {
	data := json.RawMessage(`{}`)
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("protocol: failed to marshal %q payload: %w", msgType, err)
		}
		data = raw
	}
	return Envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Marshal is a convenience wrapper combining New and Encode.
func Marshal(msgType string, payload interface{}) ([]byte, error) {
	env, err := New(msgType, payload)
	if err != nil {
		return nil, err
	}
	return env.Encode()
}

// ---------------------------------------------------------------------------
// Payload structs
// ---------------------------------------------------------------------------

// ConnectionEstablishedData confirms a successful accept to the new
// connection, carrying its server-assigned identifier.
type ConnectionEstablishedData struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

// SubscribeData asks to join a room; UnsubscribeData asks to leave one.
type SubscribeData struct {
	Room string `json:"room"`
}

// UnsubscribeData mirrors SubscribeData for room leave requests.
type UnsubscribeData struct {
	Room string `json:"room"`
}

// SubscribedData confirms a join to the requesting connection only.
type SubscribedData struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

// UnsubscribedData confirms a leave to the requesting connection only.
type UnsubscribedData struct {
	Room string `json:"room"`
}

// PresenceData announces a user's presence change (USER_ONLINE,
// USER_OFFLINE, PRESENCE_UPDATE).
type PresenceData struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Status      string `json:"status"`
}

// TypingData relays a typing indicator within a room.
type TypingData struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// CommentData is a chat comment posted to a room. Persistence of comments is
// delegated to an external sink; the core only routes them.
type CommentData struct {
	Text string `json:"text"`
}

// ReactionData is an emoji reaction routed to a room.
type ReactionData struct {
	TargetID string `json:"target_id"`
	Emoji    string `json:"emoji"`
}

// ErrorData reports a per-message failure back to the originating
// connection. RetryAfter is set (seconds) for rate-limit denials.
type ErrorData struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// Error codes used in ErrorData.Code.
const (
	CodeValidation     = "validation_error"
	CodeRateLimited    = "rate_limited"
	CodeUnknownType    = "unknown_type"
	CodeContentBlocked = "content_blocked"
)

// NewError builds an ERROR envelope with the given code and message.
func NewError(code, message string) (Envelope, error) {
	return New(TypeError, ErrorData{Code: code, Message: message})
}
