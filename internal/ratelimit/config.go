// Package ratelimit enforces per-identifier request budgets entirely in
// memory. Each category of work carries its own limit, window, and strategy
// (fixed window, sliding window, or token bucket). It is designed for
// high-throughput real-time servers where each action (socket message,
// connection attempt, API call) needs per-identity throttling without a
// network round trip on the hot path.
package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Strategy selects the limiting algorithm for a category.
type Strategy string

const (
	// StrategyFixedWindow counts requests in windows aligned to the first
	// request for a key. Up to 2x the limit can pass in a rolling interval
	// spanning a window boundary; this imprecision is accepted for O(1)
	// bookkeeping per key.
	StrategyFixedWindow Strategy = "fixed_window"

	// StrategySlidingWindow reuses fixed-window bookkeeping but restarts the
	// window at the first check observed after the previous window has fully
	// elapsed, trading exactness for O(1) memory per key.
	StrategySlidingWindow Strategy = "sliding_window"

	// StrategyTokenBucket refills a budget continuously at limit/window
	// tokens per second up to a burst cap; each allowed check consumes one
	// token. Smooths bursts instead of cliff-rejecting at a boundary.
	StrategyTokenBucket Strategy = "token_bucket"
)

// ErrUnknownCategory is returned by Check when the named category has no
// registered config. It indicates a programming error in the caller, not a
// denied request.
var ErrUnknownCategory = errors.New("ratelimit: unknown category")

// Config is the immutable per-category limiting policy.
type Config struct {
	Requests      int           // max units of work per window
	Window        time.Duration // window length
	Strategy      Strategy      // limiting algorithm
	Burst         int           // token bucket cap; defaults to Requests
	BlockDuration time.Duration // optional penalty applied after a denial
}

// Validate reports configuration errors. A zero Burst is valid and defaults
// to Requests at check time.
func (c Config) Validate() error {
	if c.Requests <= 0 {
		return fmt.Errorf("ratelimit: requests must be positive, got %d", c.Requests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("ratelimit: window must be positive, got %s", c.Window)
	}
	switch c.Strategy {
	case StrategyFixedWindow, StrategySlidingWindow, StrategyTokenBucket:
	default:
		return fmt.Errorf("ratelimit: unsupported strategy %q", c.Strategy)
	}
	if c.Burst < 0 {
		return fmt.Errorf("ratelimit: burst must not be negative, got %d", c.Burst)
	}
	return nil
}

// Built-in category names.
const (
	CategoryDefault       = "default"
	CategoryAuth          = "auth"
	CategoryUpload        = "upload"
	CategoryPayment       = "payment"
	CategoryExport        = "export"
	CategoryStreaming     = "streaming"
	CategoryConnect       = "connect"
	CategorySocketMessage = "socket_message"
)

// DefaultConfigs returns the standard category table. Callers may register
// additional categories or per-endpoint overrides on top of it.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		// General API traffic.
		CategoryDefault: {Requests: 100, Window: time.Minute, Strategy: StrategyFixedWindow},

		// Login attempts: 5 per 15 minutes, then a 15 minute lockout.
		CategoryAuth: {Requests: 5, Window: 15 * time.Minute, Strategy: StrategyFixedWindow, BlockDuration: 15 * time.Minute},

		// Media uploads are expensive; smooth them with a token bucket.
		CategoryUpload: {Requests: 10, Window: time.Hour, Strategy: StrategyTokenBucket, Burst: 3},

		// Payment endpoints get a hard fixed window and a long penalty.
		CategoryPayment: {Requests: 10, Window: time.Hour, Strategy: StrategyFixedWindow, BlockDuration: time.Hour},

		// Report/CSV exports.
		CategoryExport: {Requests: 5, Window: 10 * time.Minute, Strategy: StrategySlidingWindow},

		// Live stream polling.
		CategoryStreaming: {Requests: 120, Window: time.Minute, Strategy: StrategySlidingWindow},

		// WebSocket upgrade attempts per client IP.
		CategoryConnect: {Requests: 5, Window: time.Minute, Strategy: StrategyFixedWindow},

		// Inbound socket messages per connection: token bucket so chatty
		// moments degrade gracefully instead of cliff-rejecting.
		CategorySocketMessage: {Requests: 60, Window: time.Minute, Strategy: StrategyTokenBucket, Burst: 20},
	}
}
