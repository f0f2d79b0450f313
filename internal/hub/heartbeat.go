package hub

import (
	"log"
	"time"

	"github.com/pitchconnect/realtime/internal/presence"
)

// MonitorConfig holds heartbeat and idle-sweep tuning parameters.
type MonitorConfig struct {
	PingInterval      time.Duration // how often to probe live connections
	PingTimeout       time.Duration // max wait for a probe answer
	IdleSweepInterval time.Duration // how often to scan lastActivity
	IdleAfter         time.Duration // inactivity before ACTIVE becomes IDLE
	IdleTimeout       time.Duration // inactivity before eviction
}

// DefaultMonitorConfig returns sensible production defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PingInterval:      30 * time.Second,
		PingTimeout:       5 * time.Second,
		IdleSweepInterval: time.Minute,
		IdleAfter:         2 * time.Minute,
		IdleTimeout:       5 * time.Minute,
	}
}

// Monitor runs two independently scheduled sweeps over the hub's
// connections: a ping sweep that probes liveness and evicts connections
// whose probe goes unanswered, and an idle sweep that marks inactive
// connections IDLE and evicts those idle past the timeout. Both sweeps only
// ever remove connections, which commutes with concurrent disconnects, so
// no coordination beyond the hub's own locking is needed.
type Monitor struct {
	manager *Manager
	config  MonitorConfig
	done    chan struct{}
}

// NewMonitor creates a monitor over the manager's connections. Call Start
// to begin sweeping and Stop during shutdown. Tests drive pingSweep and
// idleSweep directly against a manipulated manager clock instead of
// starting the tickers.
func NewMonitor(manager *Manager, config MonitorConfig) *Monitor {
	return &Monitor{
		manager: manager,
		config:  config,
		done:    make(chan struct{}),
	}
}

// Start launches both sweep loops in background goroutines. It returns
// immediately; the goroutines exit when Stop is called.
func (mon *Monitor) Start() {
	go mon.loop(mon.config.PingInterval, mon.pingSweep)
	go mon.loop(mon.config.IdleSweepInterval, mon.idleSweep)
}

// Stop terminates both sweep loops. Safe to call once.
func (mon *Monitor) Stop() {
	close(mon.done)
}

func (mon *Monitor) loop(interval time.Duration, sweep func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-mon.done:
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// pingSweep evicts connections whose previous probe went unanswered past
// the timeout, then probes the rest. An answer is any inbound frame: the
// transport reader reports pongs and data frames alike via MarkAlive or
// HandleInbound, which clears the outstanding probe. An expired probe is
// only noticed on the sweep after the timeout elapses, so a dead
// connection lives at most PingTimeout plus one PingInterval.
func (mon *Monitor) pingSweep() {
	now := mon.manager.now()

	for _, c := range mon.manager.All() {
		if c.pingExpired(now, mon.config.PingTimeout) {
			log.Printf("hub: heartbeat timeout conn=%s last_activity=%s ago",
				c.ID, now.Sub(c.LastActivity()).Round(time.Second))
			mon.manager.Disconnect(c.ID, ReasonHeartbeatTimeout)
			continue
		}

		if err := c.transport.Ping(); err != nil {
			log.Printf("hub: heartbeat ping failed conn=%s: %v", c.ID, err)
			mon.manager.Disconnect(c.ID, ReasonTransportError)
			continue
		}
		c.notePing(now)
	}
}

// idleSweep checks lastActivity: connections past IdleTimeout are evicted,
// connections past IdleAfter drop from ACTIVE to IDLE and their user's
// presence follows.
func (mon *Monitor) idleSweep() {
	now := mon.manager.now()

	for _, c := range mon.manager.All() {
		idle := now.Sub(c.LastActivity())

		if idle > mon.config.IdleTimeout {
			log.Printf("hub: idle timeout conn=%s idle=%s", c.ID, idle.Round(time.Second))
			mon.manager.Disconnect(c.ID, ReasonIdleTimeout)
			continue
		}

		if idle > mon.config.IdleAfter && c.markIdle() {
			mon.manager.presence.SetStatus(c.Identity.UserID, presence.StatusIdle)
		}
	}
}
