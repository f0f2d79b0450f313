// Package ban provides user-level ban management backed by Redis. Ban
// records are stored as simple key-value pairs with TTL-based expiry:
//
//	Key:   ban:<user_id>
//	Value: <reason>
//	TTL:   ban duration
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// BanPrefix is the Redis key prefix for ban records.
	BanPrefix = "ban:"

	// OffensePrefix is the Redis key prefix for offense counters used by
	// the escalating ban system.
	OffensePrefix = "offenses:"

	// Escalating ban durations.
	Ban15Min  = 15 * time.Minute // 1st offense
	Ban1Hour  = 1 * time.Hour    // 2nd offense
	Ban24Hour = 24 * time.Hour   // 3rd+ offense

	// OffenseTTL is how long the offense counter lives in Redis. After
	// 24h without new offenses the counter resets to zero.
	OffenseTTL = 24 * time.Hour
)

// Store manages ban records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new ban store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsBanned checks if a user is currently banned.
// Returns (isBanned, remainingSeconds, reason, error).
// If the user is not banned, isBanned is false and the other return values
// are zero/empty. Redis errors are returned so callers can decide how to
// handle them (the recommended policy is fail-open).
func (s *Store) IsBanned(ctx context.Context, userID string) (bool, int, string, error) {
	key := BanPrefix + userID

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// We know the ban exists but can't read the TTL. Report banned
		// with 0 remaining rather than swallowing the ban.
		return true, 0, reason, nil
	}

	remaining := 0
	if ttl > 0 {
		remaining = int(ttl.Seconds())
	}

	return true, remaining, reason, nil
}

// Ban sets a ban on a user with the given duration and reason. The ban
// automatically expires after the specified duration.
func (s *Store) Ban(ctx context.Context, userID string, duration time.Duration, reason string) error {
	key := BanPrefix + userID
	return s.client.Set(ctx, key, reason, duration).Err()
}

// Unban removes a ban from a user immediately.
func (s *Store) Unban(ctx context.Context, userID string) error {
	key := BanPrefix + userID
	return s.client.Del(ctx, key).Err()
}

// escalationDuration returns the ban duration for a given offense count.
func escalationDuration(offenseCount int) time.Duration {
	switch {
	case offenseCount <= 1:
		return Ban15Min
	case offenseCount == 2:
		return Ban1Hour
	default:
		return Ban24Hour
	}
}

// GetOffenseCount returns the current offense counter for a user. Returns 0
// if the key does not exist (no offenses recorded or counter expired).
func (s *Store) GetOffenseCount(ctx context.Context, userID string) (int, error) {
	key := OffensePrefix + userID
	val, err := s.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// Escalate increments the offense counter for a user and applies a ban
// whose duration escalates with the number of offenses:
//
//	1st offense  -> 15 minutes
//	2nd offense  -> 1 hour
//	3rd+ offense -> 24 hours
//
// The offense counter has a 24h TTL that is set on first increment, so
// counters naturally expire if there is no new activity.
//
// Returns the ban duration that was applied.
func (s *Store) Escalate(ctx context.Context, userID string, reason string) (time.Duration, error) {
	key := OffensePrefix + userID

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ban: escalate incr: %w", err)
	}

	// Set TTL only on first increment so the window doesn't slide.
	if count == 1 {
		if err := s.client.Expire(ctx, key, OffenseTTL).Err(); err != nil {
			return 0, fmt.Errorf("ban: escalate expire: %w", err)
		}
	}

	duration := escalationDuration(int(count))
	if err := s.Ban(ctx, userID, duration, reason); err != nil {
		return 0, fmt.Errorf("ban: escalate ban: %w", err)
	}

	return duration, nil
}
