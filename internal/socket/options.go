package socket

import (
	"net/http"
	"time"

	"github.com/1ureka/p2pcall/internal/util"
)

// Options configures a Client. Start from DefaultOptions; zero intervals are
// replaced by their defaults in New.
type Options struct {
	// Reconnect schedules a new connection attempt after any close whose
	// code is not 1000.
	Reconnect            bool
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int

	// Heartbeat sends HeartbeatMessage every HeartbeatInterval while
	// connected. An inbound JSON object whose "type" equals HeartbeatAckType
	// is consumed as the reply and updates Latency.
	Heartbeat         bool
	HeartbeatInterval time.Duration
	HeartbeatMessage  any
	HeartbeatAckType  string
	// HeartbeatTimeout, when positive, drops the connection abnormally if
	// no ack arrives in time.
	HeartbeatTimeout time.Duration

	// HistoryLimit keeps only the newest N received messages. Zero keeps all.
	HistoryLimit int

	HandshakeTimeout time.Duration
	Protocols        []string
	Header           http.Header

	// Debug traces lifecycle events at info level.
	Debug bool
	// OnNonFatal receives absorbed errors such as a failed close handshake.
	// Defaults to util.ReportNonFatal.
	OnNonFatal func(error)
}

const (
	defaultReconnectInterval = 3 * time.Second
	defaultHeartbeatInterval = 15 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second

	writeWait = 5 * time.Second
)

// DefaultOptions returns the stock reconnect and heartbeat policy.
func DefaultOptions() Options {
	return Options{
		Reconnect:            true,
		ReconnectInterval:    defaultReconnectInterval,
		MaxReconnectAttempts: 5,
		Heartbeat:            true,
		HeartbeatInterval:    defaultHeartbeatInterval,
		HeartbeatMessage:     map[string]string{"type": "heartbeat"},
		HeartbeatAckType:     "heartbeat-ack",
		HandshakeTimeout:     defaultHandshakeTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = defaultReconnectInterval
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.HeartbeatMessage == nil {
		o.HeartbeatMessage = map[string]string{"type": "heartbeat"}
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.OnNonFatal == nil {
		o.OnNonFatal = util.ReportNonFatal
	}
	return o
}
