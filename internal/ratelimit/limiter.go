package ratelimit

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// Unlimited is the budget reported for whitelisted identifiers.
const Unlimited = math.MaxInt32

// Result is the outcome of a single check. A denied check is a normal
// negative result, not an error; callers turn it into a 429 response or a
// dropped message with a rate-limit notice.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when allowed
}

// IdentifierMetrics are rolling per-identifier counters across categories.
type IdentifierMetrics struct {
	TotalRequests   int64
	BlockedRequests int64
}

// entry is the mutable per-(category, identifier) state. count/resetAt serve
// the window strategies; tokens/lastRefill serve the token bucket. resetAt
// doubles as the sweep horizon: once it has passed the entry carries no
// information and can be dropped.
type entry struct {
	count        int
	resetAt      time.Time
	tokens       float64
	lastRefill   time.Time
	blockedUntil time.Time
}

// Limiter enforces per-identifier budgets for named categories. All state is
// in memory behind a single mutex; checks are O(1) and allocation-free on
// the hot path once an entry exists.
type Limiter struct {
	mu        sync.Mutex
	configs   map[string]Config
	entries   map[string]*entry
	metrics   map[string]*IdentifierMetrics
	whitelist map[string]struct{}
	now       func() time.Time // injectable for tests
}

// NewLimiter builds a limiter from a category table. Every config is
// validated up front so a bad table fails at startup, not per request.
func NewLimiter(configs map[string]Config) (*Limiter, error) {
	table := make(map[string]Config, len(configs))
	for name, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("ratelimit: category %q: %w", name, err)
		}
		table[name] = cfg
	}
	return &Limiter{
		configs:   table,
		entries:   make(map[string]*entry),
		metrics:   make(map[string]*IdentifierMetrics),
		whitelist: make(map[string]struct{}),
		now:       time.Now,
	}, nil
}

// SetConfig registers or replaces a category at runtime (per-endpoint
// overrides are registered this way by the HTTP layer).
func (l *Limiter) SetConfig(category string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.configs[category] = cfg
	l.mu.Unlock()
	return nil
}

// Whitelist exempts identifiers from all limits. Intended for internal
// service ids and health checkers that must never trip a budget.
func (l *Limiter) Whitelist(identifiers ...string) {
	l.mu.Lock()
	for _, id := range identifiers {
		l.whitelist[id] = struct{}{}
	}
	l.mu.Unlock()
}

// Check decides whether one more unit of work is allowed right now for the
// (identifier, category) pair. An unknown category returns
// ErrUnknownCategory; a denial is reported in the Result, not as an error.
func (l *Limiter) Check(identifier, category string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, ok := l.configs[category]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return l.check(identifier, category, cfg), nil
}

// CheckWith applies a caller-supplied config instead of the registered one,
// still keyed under the given category. Used for per-endpoint overrides.
func (l *Limiter) CheckWith(identifier, category string, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.check(identifier, category, cfg), nil
}

func (l *Limiter) check(identifier, category string, cfg Config) Result {
	now := l.now()

	m := l.metrics[identifier]
	if m == nil {
		m = &IdentifierMetrics{}
		l.metrics[identifier] = m
	}
	m.TotalRequests++

	if _, ok := l.whitelist[identifier]; ok {
		return Result{Allowed: true, Limit: Unlimited, Remaining: Unlimited, ResetAt: now}
	}

	key := category + "|" + identifier
	e := l.entries[key]
	if e == nil {
		e = &entry{}
		l.entries[key] = e
	}

	// An active penalty block denies regardless of strategy.
	if now.Before(e.blockedUntil) {
		m.BlockedRequests++
		return Result{
			Allowed:    false,
			Limit:      cfg.Requests,
			Remaining:  0,
			ResetAt:    e.blockedUntil,
			RetryAfter: ceilSeconds(e.blockedUntil.Sub(now)),
		}
	}

	var res Result
	switch cfg.Strategy {
	case StrategyTokenBucket:
		res = checkTokenBucket(e, cfg, now)
	case StrategySlidingWindow:
		res = checkWindow(e, cfg, now, true)
	default:
		res = checkWindow(e, cfg, now, false)
	}

	if !res.Allowed {
		m.BlockedRequests++
		if cfg.BlockDuration > 0 {
			e.blockedUntil = now.Add(cfg.BlockDuration)
			res.ResetAt = e.blockedUntil
			res.RetryAfter = ceilSeconds(cfg.BlockDuration)
		}
	}
	return res
}

// checkWindow implements both window strategies. They share bookkeeping and
// differ only in how an expired window restarts: fixed stays on the grid
// established by the first request, sliding restarts at the current check.
func checkWindow(e *entry, cfg Config, now time.Time, sliding bool) Result {
	if e.resetAt.IsZero() {
		// Window clock aligns to the first request for this key.
		e.resetAt = now.Add(cfg.Window)
		e.count = 0
	} else if !now.Before(e.resetAt) {
		if sliding {
			e.resetAt = now.Add(cfg.Window)
		} else {
			elapsed := now.Sub(e.resetAt)
			steps := elapsed/cfg.Window + 1
			e.resetAt = e.resetAt.Add(steps * cfg.Window)
		}
		e.count = 0
	}

	if e.count >= cfg.Requests {
		return Result{
			Allowed:    false,
			Limit:      cfg.Requests,
			Remaining:  0,
			ResetAt:    e.resetAt,
			RetryAfter: ceilSeconds(e.resetAt.Sub(now)),
		}
	}

	e.count++
	return Result{
		Allowed:   true,
		Limit:     cfg.Requests,
		Remaining: cfg.Requests - e.count,
		ResetAt:   e.resetAt,
	}
}

func checkTokenBucket(e *entry, cfg Config, now time.Time) Result {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.Requests
	}
	rate := float64(cfg.Requests) / cfg.Window.Seconds()

	if e.lastRefill.IsZero() {
		e.tokens = float64(burst)
	} else {
		e.tokens += now.Sub(e.lastRefill).Seconds() * rate
		if e.tokens > float64(burst) {
			e.tokens = float64(burst)
		}
	}
	e.lastRefill = now

	if e.tokens < 1 {
		retry := time.Duration(math.Ceil((1-e.tokens)/rate)) * time.Second
		e.resetAt = refillHorizon(e.tokens, burst, rate, now)
		return Result{
			Allowed:    false,
			Limit:      cfg.Requests,
			Remaining:  0,
			ResetAt:    now.Add(retry),
			RetryAfter: retry,
		}
	}

	e.tokens--
	e.resetAt = refillHorizon(e.tokens, burst, rate, now)
	return Result{
		Allowed:   true,
		Limit:     cfg.Requests,
		Remaining: int(e.tokens),
		ResetAt:   e.resetAt,
	}
}

// refillHorizon is the moment the bucket is full again; after it the entry
// holds no state worth keeping and the sweep may drop it.
func refillHorizon(tokens float64, burst int, rate float64, now time.Time) time.Time {
	missing := float64(burst) - tokens
	if missing <= 0 {
		return now
	}
	return now.Add(time.Duration(missing / rate * float64(time.Second)))
}

// Reset clears the entry for the (identifier, category) pair, restarting its
// window or refilling its bucket on the next check.
func (l *Limiter) Reset(identifier, category string) {
	l.mu.Lock()
	delete(l.entries, category+"|"+identifier)
	l.mu.Unlock()
}

// Metrics returns the rolling counters for an identifier.
func (l *Limiter) Metrics(identifier string) (IdentifierMetrics, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.metrics[identifier]
	if !ok {
		return IdentifierMetrics{}, false
	}
	return *m, true
}

// EntryCount returns the number of live entries, for diagnostics.
func (l *Limiter) EntryCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Sweep removes entries whose reset time and penalty block have both passed,
// along with metrics for identifiers that no longer have any entry. This
// bounds memory to recently active identifiers rather than all identifiers
// ever seen. Returns the number of entries removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	active := make(map[string]struct{}, len(l.entries))

	for key, e := range l.entries {
		if !now.Before(e.resetAt) && !now.Before(e.blockedUntil) {
			delete(l.entries, key)
			removed++
			continue
		}
		if i := strings.IndexByte(key, '|'); i >= 0 {
			active[key[i+1:]] = struct{}{}
		}
	}

	for id := range l.metrics {
		if _, ok := active[id]; !ok {
			delete(l.metrics, id)
		}
	}
	return removed
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	secs := math.Ceil(d.Seconds())
	return time.Duration(secs) * time.Second
}
