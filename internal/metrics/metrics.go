// Package metrics exposes the relay's Prometheus instrumentation: gauges for
// what's live right now, counters for what's happened since start.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"clipsync/internal/session"
)

// Metrics holds every collector the relay reports. The zero value is unsafe
// to use; construct one with New and pass it down to the components that
// observe it.
type Metrics struct {
	LiveSessions     prometheus.Gauge
	BoundConnections prometheus.Gauge
	InFlightFiles    prometheus.Gauge
	ChunksForwarded  prometheus.Counter
	ChunksRetried    prometheus.Counter
	ChunksDropped    prometheus.Counter
}

// New registers the relay's collectors against reg and returns the handle
// used to report into them. Call with prometheus.NewRegistry() in tests to
// avoid colliding with the global default registry across test binaries.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "clipsync_live_sessions",
			Help: "Number of pair sessions currently registered.",
		}),
		BoundConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "clipsync_bound_connections",
			Help: "Number of websocket connections currently bound to a role slot.",
		}),
		InFlightFiles: f.NewGauge(prometheus.GaugeOpts{
			Name: "clipsync_in_flight_files",
			Help: "Number of file records not yet completed.",
		}),
		ChunksForwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "clipsync_chunks_forwarded_total",
			Help: "Total chunks successfully relayed to a receiver.",
		}),
		ChunksRetried: f.NewCounter(prometheus.CounterOpts{
			Name: "clipsync_chunks_retried_total",
			Help: "Total chunk relay attempts that were retried after a failed send.",
		}),
		ChunksDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "clipsync_chunks_dropped_total",
			Help: "Total chunks dropped after exhausting the retry limit.",
		}),
	}
}

// ReportSessions recomputes the gauges that reflect current registry state.
// Piggybacked on the heartbeat ticker rather than run on its own, since both
// want the same cadence and neither needs sub-second freshness.
func (m *Metrics) ReportSessions(reg *session.Registry) {
	sessions := reg.Snapshot()

	bound := 0
	inFlight := 0
	for _, sess := range sessions {
		for _, role := range []session.Role{session.RolePC, session.RoleApp} {
			if _, ok := sess.Peer(role); ok {
				bound++
			}
		}
		inFlight += sess.NonCompletedFileCount()
	}

	m.LiveSessions.Set(float64(len(sessions)))
	m.BoundConnections.Set(float64(bound))
	m.InFlightFiles.Set(float64(inFlight))
}
