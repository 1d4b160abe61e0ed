// Package config holds the CLI configuration: defaults, an optional YAML
// file and P2PCALL_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1ureka/p2pcall/internal/call"
	"github.com/1ureka/p2pcall/internal/media"
	"github.com/1ureka/p2pcall/internal/socket"
	rtc "github.com/1ureka/p2pcall/internal/webrtc"
)

// Role is the side of the call this process plays.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Config stores every parameter the CLI needs. Zero-length Role and
// Signaling.URL are allowed here; the CLI prompts for them.
type Config struct {
	Role  Role `yaml:"role"`
	Debug bool `yaml:"debug"`

	Signaling struct {
		URL                  string        `yaml:"url"`
		Protocols            []string      `yaml:"protocols"`
		Reconnect            bool          `yaml:"reconnect"`
		ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
		Heartbeat            bool          `yaml:"heartbeat"`
		HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
		HeartbeatTimeout     time.Duration `yaml:"heartbeat_timeout"`
		HistoryLimit         int           `yaml:"history_limit"`
		HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	} `yaml:"signaling"`

	Call struct {
		ICEServers              []string `yaml:"ice_servers"`
		StopLocalMediaOnEndCall bool     `yaml:"stop_local_media_on_end_call"`
		EndCallOnDisconnect     bool     `yaml:"end_call_on_disconnect"`
		Audio                   bool     `yaml:"audio"`
		Video                   bool     `yaml:"video"`
		// AudioFile (Ogg/Opus) and VideoFile (IVF/VP8) switch capture to
		// looping file playback.
		AudioFile string `yaml:"audio_file"`
		VideoFile string `yaml:"video_file"`
	} `yaml:"call"`

	Monitoring struct {
		// MetricsAddress serves /metrics when set, e.g. ":9090".
		MetricsAddress string        `yaml:"metrics_address"`
		StatsInterval  time.Duration `yaml:"stats_interval"`
	} `yaml:"monitoring"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	so := socket.DefaultOptions()
	co := call.DefaultOptions()

	cfg := &Config{}
	cfg.Signaling.Reconnect = so.Reconnect
	cfg.Signaling.ReconnectInterval = so.ReconnectInterval
	cfg.Signaling.MaxReconnectAttempts = so.MaxReconnectAttempts
	cfg.Signaling.Heartbeat = so.Heartbeat
	cfg.Signaling.HeartbeatInterval = so.HeartbeatInterval
	cfg.Signaling.HandshakeTimeout = so.HandshakeTimeout

	cfg.Call.ICEServers = append([]string(nil), rtc.DefaultSTUNServers...)
	cfg.Call.StopLocalMediaOnEndCall = co.StopLocalMediaOnEndCall
	cfg.Call.EndCallOnDisconnect = co.EndCallOnDisconnect
	cfg.Call.Audio = true
	cfg.Call.Video = true

	cfg.Monitoring.StatsInterval = time.Second
	return cfg
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("P2PCALL_ROLE"); v != "" {
		c.Role = Role(v)
	}
	if v := os.Getenv("P2PCALL_SIGNALING_URL"); v != "" {
		c.Signaling.URL = v
	}
	if v := os.Getenv("P2PCALL_ICE_SERVERS"); v != "" {
		c.Call.ICEServers = splitList(v)
	}
	if v := os.Getenv("P2PCALL_METRICS_ADDRESS"); v != "" {
		c.Monitoring.MetricsAddress = v
	}
	if v := os.Getenv("P2PCALL_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("P2PCALL_DEBUG: %w", err)
		}
		c.Debug = debug
	}
	return nil
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	switch c.Role {
	case "", RoleCaller, RoleCallee:
	default:
		return fmt.Errorf("role must be %q or %q, got %q", RoleCaller, RoleCallee, c.Role)
	}

	if c.Signaling.URL != "" {
		if _, err := NormalizeURL(c.Signaling.URL); err != nil {
			return err
		}
	}
	if c.Signaling.Reconnect {
		if c.Signaling.ReconnectInterval <= 0 {
			return fmt.Errorf("signaling.reconnect_interval must be > 0")
		}
		if c.Signaling.MaxReconnectAttempts < 0 {
			return fmt.Errorf("signaling.max_reconnect_attempts must be >= 0")
		}
	}
	if c.Signaling.Heartbeat && c.Signaling.HeartbeatInterval <= 0 {
		return fmt.Errorf("signaling.heartbeat_interval must be > 0")
	}
	if c.Signaling.HeartbeatTimeout < 0 {
		return fmt.Errorf("signaling.heartbeat_timeout must be >= 0")
	}
	if c.Signaling.HistoryLimit < 0 {
		return fmt.Errorf("signaling.history_limit must be >= 0")
	}

	if k := c.constraints(); !k.Audio && !k.Video {
		return fmt.Errorf("call: no media kind left to capture (check audio/video and the configured files)")
	}
	for _, s := range c.Call.ICEServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") && !strings.HasPrefix(s, "turns:") {
			return fmt.Errorf("call.ice_servers: unsupported URL %q", s)
		}
	}

	if c.Monitoring.StatsInterval <= 0 {
		return fmt.Errorf("monitoring.stats_interval must be > 0")
	}
	return nil
}

// SocketOptions converts the signaling section for socket.New.
func (c *Config) SocketOptions() socket.Options {
	o := socket.DefaultOptions()
	o.Reconnect = c.Signaling.Reconnect
	o.ReconnectInterval = c.Signaling.ReconnectInterval
	o.MaxReconnectAttempts = c.Signaling.MaxReconnectAttempts
	o.Heartbeat = c.Signaling.Heartbeat
	o.HeartbeatInterval = c.Signaling.HeartbeatInterval
	o.HeartbeatTimeout = c.Signaling.HeartbeatTimeout
	o.HistoryLimit = c.Signaling.HistoryLimit
	o.HandshakeTimeout = c.Signaling.HandshakeTimeout
	o.Protocols = c.Signaling.Protocols
	o.Debug = c.Debug
	return o
}

// CallOptions converts the call section for call.New.
func (c *Config) CallOptions() call.Options {
	o := call.DefaultOptions()
	o.ICEServers = c.Call.ICEServers
	o.StopLocalMediaOnEndCall = c.Call.StopLocalMediaOnEndCall
	o.EndCallOnDisconnect = c.Call.EndCallOnDisconnect
	o.Constraints = c.constraints()
	o.Device = c.Device()
	o.Debug = c.Debug
	return o
}

// constraints narrows the requested kinds to the files given, if any.
func (c *Config) constraints() media.Constraints {
	if c.usesFiles() {
		return media.Constraints{
			Audio: c.Call.Audio && c.Call.AudioFile != "",
			Video: c.Call.Video && c.Call.VideoFile != "",
		}
	}
	return media.Constraints{Audio: c.Call.Audio, Video: c.Call.Video}
}

func (c *Config) usesFiles() bool {
	return c.Call.AudioFile != "" || c.Call.VideoFile != ""
}

// Device picks file playback when a file is configured, synthetic media
// otherwise.
func (c *Config) Device() media.Device {
	if c.usesFiles() {
		return &media.FileDevice{AudioPath: c.Call.AudioFile, VideoPath: c.Call.VideoFile}
	}
	return &media.SyntheticDevice{}
}

// NormalizeURL validates a relay URL and defaults its scheme to wss and
// its path to /ws.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
