// Package reaper runs the per-session sweep described in spec §4.7 and
// §3's lifecycles: evict idle, non-completed file records, and remove
// sessions that have sat empty past the pair idle timeout.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"clipsync/internal/session"
)

// Run ticks every interval until ctx is canceled, sweeping every session in
// reg each time.
func Run(ctx context.Context, reg *session.Registry, fileTimeout, pairTimeout time.Duration, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Sweep(reg, fileTimeout, pairTimeout)
		}
	}
}

// Sweep performs one reaping pass over every registered session.
func Sweep(reg *session.Registry, fileTimeout, pairTimeout time.Duration) {
	for _, sess := range reg.Snapshot() {
		for _, rec := range sess.Files() {
			// Completed records are reaped FILE_CLEANUP_TIMEOUT after
			// completion; non-completed ones are reaped after the same
			// idle window with no other activity. Both collapse to one
			// idle-clock check since completion itself touches the clock.
			if rec.IdleSince() <= fileTimeout {
				continue
			}
			slog.Debug("reaping file record", "pair_id", sess.PairID(), "file_id", rec.FileID, "status", rec.Status())
			rec.Close()
			sess.RemoveFile(rec.FileID)
		}

		if sess.EmptySlots() && sess.IdleSince() > pairTimeout {
			slog.Info("reaping idle pair", "pair_id", sess.PairID())
			reg.Remove(sess.PairID())
		}
	}
}
