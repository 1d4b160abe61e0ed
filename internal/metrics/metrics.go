// Package metrics exports the process-wide util.Stats counters to
// Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/p2pcall/internal/util"
)

const namespace = "p2pcall"

func counter(subsystem, name, help string, v *atomic.Int64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(v.Load()) })
}

// Collectors returns one collector per util.Stats field. Values are read at
// scrape time.
func Collectors() []prometheus.Collector {
	s := util.Stats
	return []prometheus.Collector{
		counter("socket", "messages_sent_total", "WebSocket frames written, heartbeats included.", &s.MessagesSent),
		counter("socket", "messages_received_total", "WebSocket frames read.", &s.MessagesRecv),
		counter("socket", "sent_bytes_total", "WebSocket payload bytes written.", &s.BytesSent),
		counter("socket", "received_bytes_total", "WebSocket payload bytes read.", &s.BytesRecv),
		counter("socket", "reconnects_total", "Reconnect attempts fired.", &s.Reconnects),
		counter("call", "candidates_sent_total", "Local ICE candidates handed to signaling.", &s.CandidatesSent),
		counter("call", "candidates_received_total", "Remote ICE candidates submitted.", &s.CandidatesRecv),
		counter("call", "started_total", "Offers and answers produced.", &s.CallsStarted),
		counter("call", "ended_total", "Calls torn down.", &s.CallsEnded),
		counter("call", "rtcp_packets_total", "RTCP packets read back from local senders.", &s.RTCPFeedback),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "heartbeat_latency_seconds",
			Help:      "Round trip of the last acknowledged heartbeat, -1 before the first ack.",
		}, func() float64 {
			ms := s.LatencyMillis.Load()
			if ms < 0 {
				return -1
			}
			return float64(ms) / 1000
		}),
	}
}

// NewRegistry returns a registry holding the stats collectors plus the
// standard Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(Collectors()...)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(NewRegistry()))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	util.LogInfo("metrics available at http://%s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
