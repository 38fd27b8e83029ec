package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/connection counter.
var Stats = &stats{}

type stats struct {
	OpenedSessions atomic.Int64 // cumulative count of tunnel sessions since process start
	ClosedSessions atomic.Int64 // cumulative count of finished tunnel sessions
	BytesSent      atomic.Int64 // cumulative frame bytes written to peer connections
	BytesRecv      atomic.Int64 // cumulative frame bytes read from peer connections
}

func (s *stats) AddSession()    { s.OpenedSessions.Add(1) }
func (s *stats) RemoveSession() { s.ClosedSessions.Add(1) }
func (s *stats) AddSent(n int)  { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)  { s.BytesRecv.Add(int64(n)) }

// Active returns the number of sessions currently open.
func (s *stats) Active() int64 {
	return s.OpenedSessions.Load() - s.ClosedSessions.Load()
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs tunnel statistics
// every 10 seconds while there is traffic or session churn. It stops when
// ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevTotal, prevClosed int64
		for {
			select {
			case <-ticker.C:
				total := Stats.OpenedSessions.Load()
				closed := Stats.ClosedSessions.Load()
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()

				upS := float64(sent-prevSent) / 10.0
				downS := float64(recv-prevRecv) / 10.0
				opened := total - prevTotal
				finished := closed - prevClosed

				if opened > 0 || finished > 0 || upS > 10 || downS > 10 {
					pterm.DefaultLogger.Info(formatStats(upS, downS, opened, finished, Stats.Active()))
				}

				prevSent = sent
				prevRecv = recv
				prevTotal = total
				prevClosed = closed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(upS, downS float64, opened, finished, active int64) string {
	return fmt.Sprintf("Up: %s/s | Down: %s/s | Sessions: +%d -%d (%d open)",
		formatBytes(upS),
		formatBytes(downS),
		opened,
		finished,
		active,
	)
}
