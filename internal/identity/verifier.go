// Package identity resolves client auth tokens against Redis. A token is
// valid while a hash exists at identity:<token>; the hash carries the user
// profile issued at login by the account service.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitchconnect/realtime/internal/ban"
	"github.com/pitchconnect/realtime/internal/hub"
)

const (
	// TokenPrefix is the Redis key prefix for all token hashes.
	TokenPrefix = "identity:"

	// TokenTTL is the time-to-live refreshed on every successful lookup,
	// so active users stay logged in.
	TokenTTL = 24 * time.Hour
)

// ErrInvalidToken is returned when a token is unknown or expired.
var ErrInvalidToken = errors.New("identity: invalid token")

// ErrBanned is returned when the token resolves but the user is banned.
var ErrBanned = errors.New("identity: user is banned")

// record is the Redis hash layout for one issued token.
type record struct {
	UserID      string `redis:"user_id"`
	DisplayName string `redis:"display_name"`
	Avatar      string `redis:"avatar"`
	Role        string `redis:"role"`
}

// Verifier authenticates connection attempts against token hashes in Redis.
// It implements the hub's Authenticator interface.
type Verifier struct {
	client *redis.Client
	bans   *ban.Store
}

// NewVerifier creates a verifier connected to Redis.
func NewVerifier(redisAddr string) (*Verifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("identity: redis connection failed: %w", err)
	}

	return &Verifier{client: client}, nil
}

// NewVerifierWithClient wraps an existing Redis client. Used when several
// stores share one connection pool.
func NewVerifierWithClient(client *redis.Client) *Verifier {
	return &Verifier{client: client}
}

// SetBans attaches a ban store consulted on every Authenticate call. Banned
// users fail authentication even with a valid token.
func (v *Verifier) SetBans(bans *ban.Store) {
	v.bans = bans
}

// Authenticate resolves a token to the identity it was issued for. A hit
// refreshes the token's TTL; a miss or an empty token fails with
// ErrInvalidToken.
func (v *Verifier) Authenticate(ctx context.Context, token string) (hub.Identity, error) {
	if token == "" {
		return hub.Identity{}, ErrInvalidToken
	}

	key := TokenPrefix + token
	var rec record
	if err := v.client.HGetAll(ctx, key).Scan(&rec); err != nil {
		return hub.Identity{}, fmt.Errorf("identity: token lookup failed: %w", err)
	}
	if rec.UserID == "" {
		return hub.Identity{}, ErrInvalidToken
	}

	if v.bans != nil {
		// A failed ban check is treated as not banned (fail open).
		banned, remaining, reason, banErr := v.bans.IsBanned(ctx, rec.UserID)
		if banErr == nil && banned {
			return hub.Identity{}, fmt.Errorf("%w: %s (%ds remaining)", ErrBanned, reason, remaining)
		}
	}

	if err := v.client.Expire(ctx, key, TokenTTL).Err(); err != nil {
		return hub.Identity{}, fmt.Errorf("identity: ttl refresh failed: %w", err)
	}

	return hub.Identity{
		UserID:      rec.UserID,
		DisplayName: rec.DisplayName,
		Avatar:      rec.Avatar,
		Role:        rec.Role,
	}, nil
}

// Issue stores a token hash for the given identity. The account service
// normally does this at login; it is exposed here for provisioning tools
// and tests against a real Redis.
func (v *Verifier) Issue(ctx context.Context, token string, id hub.Identity) error {
	key := TokenPrefix + token

	pipe := v.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":      id.UserID,
		"display_name": id.DisplayName,
		"avatar":       id.Avatar,
		"role":         id.Role,
	})
	pipe.Expire(ctx, key, TokenTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Revoke deletes a token so subsequent connection attempts fail.
func (v *Verifier) Revoke(ctx context.Context, token string) error {
	return v.client.Del(ctx, TokenPrefix+token).Err()
}

// Close closes the Redis connection.
func (v *Verifier) Close() error {
	return v.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (v *Verifier) Client() *redis.Client {
	return v.client
}
