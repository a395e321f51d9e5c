// Package heartbeat runs the single liveness-probing timer described in
// spec §4.7: iterate every live connection, terminate the ones that missed
// the previous cycle, and ping the rest.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"clipsync/internal/metrics"
	"clipsync/internal/session"
)

// Run ticks every interval until ctx is canceled, sweeping the registry
// each time. m may be nil, in which case no gauges are reported.
func Run(ctx context.Context, reg *session.Registry, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Sweep(reg, m)
		}
	}
}

// Sweep performs one heartbeat cycle over every bound connection, then
// refreshes the session gauges if m is non-nil.
func Sweep(reg *session.Registry, m *metrics.Metrics) {
	reg.ForEachPeer(func(sess *session.Session, peer *session.Peer) {
		if !peer.IsAlive() {
			slog.Info("heartbeat missed, terminating connection", "pair_id", sess.PairID(), "role", peer.Role)
			peer.Terminate("heartbeat timeout")
			return
		}
		peer.ClearAlive()
		if err := peer.Ping(); err != nil {
			slog.Debug("ping failed, terminating connection", "pair_id", sess.PairID(), "role", peer.Role, "err", err)
			peer.Terminate("heartbeat timeout")
		}
	})

	if m != nil {
		m.ReportSessions(reg)
	}
}
