// Package metrics provides Prometheus instrumentation for the real-time
// core. It exposes gauges for connection and room counts, counters for
// message and rate-limit activity, and a histogram for broadcast fan-out.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of registered connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections_active",
		Help: "Current number of active real-time connections",
	})

	// RoomsActive tracks the current number of non-empty rooms.
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_rooms_active",
		Help: "Current number of rooms with at least one member",
	})

	// MessagesTotal counts messages processed, labeled by direction:
	// "received", "delivered", or "dropped".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_messages_total",
		Help: "Total number of messages processed",
	}, []string{"direction"})

	// RateLimitChecks counts limiter decisions by category and result
	// ("allowed" or "denied").
	RateLimitChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_ratelimit_checks_total",
		Help: "Total number of rate limit checks",
	}, []string{"category", "result"})

	// DisconnectsTotal counts connection removals by reason.
	DisconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_disconnects_total",
		Help: "Total number of disconnects",
	}, []string{"reason"})

	// BroadcastFanout records the number of members delivered per room
	// broadcast.
	BroadcastFanout = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "realtime_broadcast_fanout",
		Help:    "Recipients per room broadcast",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		RoomsActive,
		MessagesTotal,
		RateLimitChecks,
		DisconnectsTotal,
		BroadcastFanout,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
