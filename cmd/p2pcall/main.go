// Command p2pcall places or answers a peer-to-peer audio/video call. Offers, answers and ICE
// candidates travel through an external WebSocket relay; media flows
// directly between the peers once ICE connects.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -url, -config, -metrics, -debug).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/pterm/pterm"

	"github.com/1ureka/p2pcall/internal/call"
	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/media"
	"github.com/1ureka/p2pcall/internal/metrics"
	"github.com/1ureka/p2pcall/internal/signaling"
	"github.com/1ureka/p2pcall/internal/socket"
	"github.com/1ureka/p2pcall/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "Path to a YAML config file")
	role := flag.String("role", "", "Role: caller or callee")
	relayURL := flag.String("url", "", "WebSocket relay URL")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address, e.g. :9090")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	// Flags win over file and environment.
	if *role != "" {
		cfg.Role = config.Role(*role)
	}
	if *relayURL != "" {
		cfg.Signaling.URL = *relayURL
	}
	if *metricsAddr != "" {
		cfg.Monitoring.MetricsAddress = *metricsAddr
	}
	if *debugMode {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("p2pcall v%s", version))
	pterm.Println()

	if cfg.Role == "" {
		cfg.Role = askRole()
	}
	if cfg.Signaling.URL == "" {
		cfg.Signaling.URL = askURL()
	}
	wsURL, err := config.NormalizeURL(cfg.Signaling.URL)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, wsURL); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("call closed")
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// run wires config → socket → session → relay and blocks until Ctrl+C or
// the other peer hangs up.
func run(ctx context.Context, cfg *config.Config, wsURL string) error {
	if addr := cfg.Monitoring.MetricsAddress; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				util.LogError("metrics server stopped: %v", err)
			}
		}()
	}
	util.StartStatsReporter(ctx, cfg.Monitoring.StatsInterval)

	sock := socket.New(wsURL, cfg.SocketOptions())
	defer sock.Close()

	session := call.New(cfg.CallOptions())
	defer session.Close()

	relay := signaling.NewRelay(ctx, session, sock, cfg.Debug)
	defer relay.Close()

	done := make(chan struct{})
	closeDone := sync.OnceFunc(func() { close(done) })

	maxAttempts := 0
	if cfg.Signaling.Reconnect {
		maxAttempts = cfg.Signaling.MaxReconnectAttempts
	}
	watchSocket(sock, maxAttempts, closeDone)
	watchSession(session)
	relay.OnHangup(func() {
		util.LogInfo("the other peer hung up")
		closeDone()
	})

	// The caller places the call on the first open; later reopens only
	// restore signaling.
	if cfg.Role == config.RoleCaller {
		placeCall := sync.OnceFunc(func() {
			go func() {
				if err := relay.Call(ctx); err != nil {
					util.LogError("failed to place call: %v", err)
					closeDone()
					return
				}
				util.LogInfo("offer sent, waiting for answer")
			}()
		})
		sock.On(socket.EventOpen, func(socket.Event) { placeCall() })
	} else {
		util.LogInfo("waiting for an incoming call")
	}

	util.LogInfo("connecting to %s", wsURL)
	if err := sock.Connect(); err != nil && !cfg.Signaling.Reconnect {
		return fmt.Errorf("failed to reach relay: %w", err)
	}

	select {
	case <-ctx.Done():
		if session.State().IsCalling {
			if err := relay.Hangup(); err != nil {
				util.LogWarning("hangup not delivered: %v", err)
			}
		}
	case <-done:
	}
	return nil
}

// watchSocket logs relay connectivity and gives up once a dial fails with
// no reconnect attempt left.
func watchSocket(sock *socket.Client, maxAttempts int, giveUp func()) {
	sock.On(socket.EventOpen, func(socket.Event) {
		util.LogSuccess("relay connected")
	})
	sock.On(socket.EventReconnect, func(ev socket.Event) {
		util.LogWarning("reconnecting to relay (attempt %d/%d)", ev.Attempt, maxAttempts)
	})
	sock.On(socket.EventClose, func(ev socket.Event) {
		util.LogWarning("relay closed: %d %s", ev.Close.Code, ev.Close.Reason)
	})
	sock.On(socket.EventError, func(ev socket.Event) {
		util.LogDebug("relay error: %v", ev.Err)

		var te *socket.TransportError
		if errors.As(ev.Err, &te) && te.Op == "dial" && sock.ReconnectAttempts() >= maxAttempts {
			util.LogError("relay unreachable, giving up")
			giveUp()
		}
	})
}

func watchSession(session *call.Session) {
	w := &stateWatcher{}
	session.OnStateChange(w.observe)
	session.OnRemoteStream(func(r *media.RemoteStream) {
		if r == nil {
			return
		}
		for _, t := range r.Tracks() {
			util.LogInfo("receiving remote %s track %s", t.Kind(), t.ID())
		}
	})
}

// stateWatcher logs call transitions. State changes arrive from pion
// callbacks and operations alike, so the previous state is guarded.
type stateWatcher struct {
	mu   sync.Mutex
	last call.SessionState
}

func (w *stateWatcher) observe(st call.SessionState) {
	w.mu.Lock()
	last := w.last
	w.last = st
	w.mu.Unlock()

	switch {
	case st.IsConnected && !last.IsConnected:
		util.LogSuccess("call connected")
	case !st.IsCalling && last.IsCalling:
		util.LogInfo("call ended")
	}
	if st.Err != nil && st.Err != last.Err {
		util.LogWarning("%v", st.Err)
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askRole prompts for caller or callee.
func askRole() config.Role {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Caller: place a call", "Callee: wait for a call"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Caller") {
		return config.RoleCaller
	}
	return config.RoleCallee
}

// askURL prompts the user for a valid relay URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. wss://relay.example.com/ws)").
			Show()

		wsURL, err := config.NormalizeURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
