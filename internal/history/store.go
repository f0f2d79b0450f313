// Package history persists recent room comments in Redis. Each room keeps a
// capped list so late joiners can backfill the tail of the conversation;
// lists expire when a room goes quiet.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitchconnect/realtime/internal/protocol"
)

const (
	// HistoryPrefix is the Redis key prefix for per-room comment lists.
	HistoryPrefix = "history:"

	// HistoryTTL expires a room's list after a period with no comments.
	HistoryTTL = 24 * time.Hour

	// DefaultKeep is the number of most recent comments retained per room.
	DefaultKeep = 200
)

// Entry is one persisted comment as stored on the list.
type Entry struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Store keeps per-room comment history in Redis. It implements the hub's
// CommentSink interface.
type Store struct {
	rdb  *redis.Client
	keep int64
}

// NewStore creates a history store backed by Redis. keep bounds the list
// length per room; zero or negative means DefaultKeep.
func NewStore(rdb *redis.Client, keep int) *Store {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Store{rdb: rdb, keep: int64(keep)}
}

// Persist appends one comment to the room's history list, trims the list to
// the retention bound, and refreshes the TTL. The three commands run in a
// pipeline so a slow Redis costs one round trip, not three.
func (s *Store) Persist(ctx context.Context, room string, env protocol.Envelope) error {
	var cd protocol.CommentData
	if err := env.Decode(&cd); err != nil {
		return err
	}

	entry, err := json.Marshal(Entry{
		Sender:    env.Sender,
		Text:      cd.Text,
		Timestamp: env.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("history: failed to marshal entry: %w", err)
	}

	key := HistoryPrefix + room
	pipe := s.rdb.Pipeline()
	pipe.LPush(ctx, key, entry)
	pipe.LTrim(ctx, key, 0, s.keep-1)
	pipe.Expire(ctx, key, HistoryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("history: failed to persist comment for %s: %w", room, err)
	}
	return nil
}

// Recent returns up to limit of the room's most recent comments, newest
// first. An unknown room yields an empty slice.
func (s *Store) Recent(ctx context.Context, room string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = int(s.keep)
	}

	raw, err := s.rdb.LRange(ctx, HistoryPrefix+room, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("history: failed to read history for %s: %w", room, err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			// Skip corrupt entries rather than failing the whole read.
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Clear drops a room's history list.
func (s *Store) Clear(ctx context.Context, room string) error {
	return s.rdb.Del(ctx, HistoryPrefix+room).Err()
}
