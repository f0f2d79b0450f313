package ratelimit

import (
	"log"
	"time"
)

// Janitor periodically sweeps expired limiter entries in the background.
// Construct one per limiter, Start it at process startup, Stop it during
// shutdown. Tests call Limiter.Sweep directly instead of running a janitor.
type Janitor struct {
	limiter  *Limiter
	interval time.Duration
	done     chan struct{}
}

// NewJanitor creates a janitor sweeping the limiter at the given interval.
// A non-positive interval falls back to one minute.
func NewJanitor(l *Limiter, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		limiter:  l,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in a background goroutine. It returns
// immediately; the goroutine exits when Stop is called.
func (j *Janitor) Start() {
	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-j.done:
				return
			case <-ticker.C:
				if n := j.limiter.Sweep(); n > 0 {
					log.Printf("[ratelimit] swept %d expired entries (live=%d)", n, j.limiter.EntryCount())
				}
			}
		}
	}()
}

// Stop terminates the sweep loop. Safe to call once.
func (j *Janitor) Stop() {
	close(j.done)
}
