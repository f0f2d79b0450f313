package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pitchconnect/realtime/internal/hub"
	"github.com/pitchconnect/realtime/internal/presence"
	"github.com/pitchconnect/realtime/internal/pubsub"
	"github.com/pitchconnect/realtime/internal/ratelimit"
	"github.com/pitchconnect/realtime/internal/rooms"
)

// ============================================================
// Helpers
// ============================================================

type allowAllAuth struct{}

func (allowAllAuth) Authenticate(_ context.Context, claim string) (hub.Identity, error) {
	return hub.Identity{UserID: "user_" + claim}, nil
}

func newTestServer(t *testing.T, maxConns, connectLimit int) *Server {
	t.Helper()

	configs := ratelimit.DefaultConfigs()
	configs[ratelimit.CategoryConnect] = ratelimit.Config{
		Requests: connectLimit,
		Window:   time.Minute,
		Strategy: ratelimit.StrategyFixedWindow,
	}
	limiter, err := ratelimit.NewLimiter(configs)
	if err != nil {
		t.Fatalf("failed to build limiter: %v", err)
	}

	manager := hub.NewManager(allowAllAuth{}, limiter, rooms.NewRegistry(), presence.NewStore(), pubsub.NewBus())

	config := DefaultServerConfig()
	config.MaxConnections = maxConns
	return NewServer(config, manager, limiter)
}

func upgradeRequest(remoteIP string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	r.RemoteAddr = remoteIP + ":51234"
	return r
}

// ============================================================
// Pre-upgrade gate
// ============================================================

// Test: the connect rate limit answers 429 with the standard headers
func TestHandleUpgrade_RateLimitHeaders(t *testing.T) {
	s := newTestServer(t, 10, 1)

	// First attempt passes the limiter. The recorder cannot be hijacked,
	// so the upgrade itself fails, but the gate has already stamped the
	// rate-limit headers on the response.
	rec := httptest.NewRecorder()
	s.handleUpgrade(rec, upgradeRequest("10.0.0.9"))
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Errorf("X-RateLimit-Limit = %q, want %q", got, "1")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want %q", got, "0")
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset header not set")
	}

	// Second attempt from the same IP is over budget.
	rec = httptest.NewRecorder()
	s.handleUpgrade(rec, upgradeRequest("10.0.0.9"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header not set on denial")
	}

	// A different IP has its own budget.
	rec = httptest.NewRecorder()
	s.handleUpgrade(rec, upgradeRequest("10.0.0.10"))
	if rec.Code == http.StatusTooManyRequests {
		t.Error("unrelated IP was rate limited")
	}
}

// Test: a full server turns attempts away with 503 before the limiter
func TestHandleUpgrade_OverCapacity(t *testing.T) {
	s := newTestServer(t, 0, 100)

	var gotIP, gotReason string
	s.SetOnReject(func(remoteIP, reason string) {
		gotIP, gotReason = remoteIP, reason
	})

	rec := httptest.NewRecorder()
	s.handleUpgrade(rec, upgradeRequest("10.0.0.9"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if gotIP != "10.0.0.9" || gotReason != "over_capacity" {
		t.Errorf("reject callback = (%q, %q), want (%q, %q)",
			gotIP, gotReason, "10.0.0.9", "over_capacity")
	}
}

// Test: a rate-limited attempt reports the rejection reason
func TestHandleUpgrade_RejectCallbackOnRateLimit(t *testing.T) {
	s := newTestServer(t, 10, 1)

	var reasons []string
	s.SetOnReject(func(_, reason string) {
		reasons = append(reasons, reason)
	})

	s.handleUpgrade(httptest.NewRecorder(), upgradeRequest("10.0.0.9"))
	s.handleUpgrade(httptest.NewRecorder(), upgradeRequest("10.0.0.9"))
	if len(reasons) != 1 || reasons[0] != "rate_limited" {
		t.Errorf("reject reasons = %v, want [rate_limited]", reasons)
	}
}
