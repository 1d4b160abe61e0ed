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

// Stats is the process-wide signaling/call counter set.
var Stats = &stats{}

type stats struct {
	MessagesSent   atomic.Int64 // socket frames written (heartbeats included)
	MessagesRecv   atomic.Int64 // socket frames read
	BytesSent      atomic.Int64 // socket payload bytes written
	BytesRecv      atomic.Int64 // socket payload bytes read
	Reconnects     atomic.Int64 // reconnect attempts fired
	CandidatesSent atomic.Int64 // local ICE candidates handed to the sink
	CandidatesRecv atomic.Int64 // remote ICE candidates submitted
	CallsStarted   atomic.Int64 // offers and answers produced
	CallsEnded     atomic.Int64 // EndCall teardowns that released a peer connection
	RTCPFeedback   atomic.Int64 // RTCP packets read back from local senders
	LatencyMillis  atomic.Int64 // last measured heartbeat round trip, -1 when unknown
}

func (s *stats) AddSent(n int) {
	s.MessagesSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.MessagesRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddReconnect()              { s.Reconnects.Add(1) }
func (s *stats) AddCandidateSent()          { s.CandidatesSent.Add(1) }
func (s *stats) AddCandidateRecv()          { s.CandidatesRecv.Add(1) }
func (s *stats) AddCallStarted()            { s.CallsStarted.Add(1) }
func (s *stats) AddCallEnded()              { s.CallsEnded.Add(1) }
func (s *stats) AddRTCP(n int)              { s.RTCPFeedback.Add(int64(n)) }
func (s *stats) SetLatency(d time.Duration) { s.LatencyMillis.Store(d.Milliseconds()) }

func init() {
	Stats.LatencyMillis.Store(-1)
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every interval. Quiet periods are skipped. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevSent, prevRecv, prevReconnects int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				reconnects := Stats.Reconnects.Load()

				secs := interval.Seconds()
				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs
				newReconnects := reconnects - prevReconnects

				if inS > 0 || outS > 0 || newReconnects > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, newReconnects, Stats.LatencyMillis.Load()))
				}

				prevSent = sent
				prevRecv = recv
				prevReconnects = reconnects

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed width (exactly 8 chars)
// string, e.g. "99.0   B", " 1.5 KiB", " 0.1 MiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one reporter line.
func formatStats(inS, outS float64, reconnects, latencyMs int64) string {
	latency := "   n/a"
	if latencyMs >= 0 {
		latency = fmt.Sprintf("%4dms", latencyMs)
	}
	return fmt.Sprintf("In: %s/s | Out: %s/s | Reconnects: %2d | RTT: %s",
		formatBytes(inS),
		formatBytes(outS),
		reconnects,
		latency,
	)
}
