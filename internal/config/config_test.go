package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/p2pcall/internal/media"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "p2pcall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Signaling.Reconnect)
	assert.Equal(t, 3*time.Second, cfg.Signaling.ReconnectInterval)
	assert.Equal(t, 5, cfg.Signaling.MaxReconnectAttempts)
	assert.Equal(t, 15*time.Second, cfg.Signaling.HeartbeatInterval)
	assert.True(t, cfg.Call.StopLocalMediaOnEndCall)
	assert.True(t, cfg.Call.EndCallOnDisconnect)
	assert.NotEmpty(t, cfg.Call.ICEServers)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, `
role: callee
debug: true
signaling:
  url: wss://relay.example.com/ws
  reconnect_interval: 500ms
  max_reconnect_attempts: 2
  heartbeat_timeout: 5s
  history_limit: 100
call:
  ice_servers: ["stun:stun.example.com:3478"]
  stop_local_media_on_end_call: false
  video: false
monitoring:
  metrics_address: ":9100"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, RoleCallee, cfg.Role)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "wss://relay.example.com/ws", cfg.Signaling.URL)
	assert.Equal(t, 500*time.Millisecond, cfg.Signaling.ReconnectInterval)
	assert.Equal(t, 2, cfg.Signaling.MaxReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.Signaling.HeartbeatTimeout)
	assert.Equal(t, 100, cfg.Signaling.HistoryLimit)
	// Unset keys keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Signaling.HeartbeatInterval)
	assert.True(t, cfg.Call.Audio)
	assert.False(t, cfg.Call.Video)
	assert.False(t, cfg.Call.StopLocalMediaOnEndCall)
	assert.Equal(t, ":9100", cfg.Monitoring.MetricsAddress)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "signaling: [unclosed"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("P2PCALL_ROLE", "caller")
	t.Setenv("P2PCALL_SIGNALING_URL", "ws://localhost:8080/ws")
	t.Setenv("P2PCALL_ICE_SERVERS", "stun:a.example.com:3478, turn:b.example.com:3478")
	t.Setenv("P2PCALL_METRICS_ADDRESS", ":9200")
	t.Setenv("P2PCALL_DEBUG", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, RoleCaller, cfg.Role)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Signaling.URL)
	assert.Equal(t, []string{"stun:a.example.com:3478", "turn:b.example.com:3478"}, cfg.Call.ICEServers)
	assert.Equal(t, ":9200", cfg.Monitoring.MetricsAddress)
	assert.True(t, cfg.Debug)
}

func TestEnvOverrideRejectsBadBool(t *testing.T) {
	t.Setenv("P2PCALL_DEBUG", "sometimes")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown role", func(c *Config) { c.Role = "host" }},
		{"bad url", func(c *Config) { c.Signaling.URL = "::not a url" }},
		{"zero reconnect interval", func(c *Config) { c.Signaling.ReconnectInterval = 0 }},
		{"negative attempts", func(c *Config) { c.Signaling.MaxReconnectAttempts = -1 }},
		{"zero heartbeat interval", func(c *Config) { c.Signaling.HeartbeatInterval = 0 }},
		{"negative heartbeat timeout", func(c *Config) { c.Signaling.HeartbeatTimeout = -time.Second }},
		{"negative history limit", func(c *Config) { c.Signaling.HistoryLimit = -1 }},
		{"no media", func(c *Config) { c.Call.Audio, c.Call.Video = false, false }},
		{"video file but video off", func(c *Config) {
			c.Call.Audio = false
			c.Call.Video = false
			c.Call.VideoFile = "clip.ivf"
		}},
		{"bad ice server", func(c *Config) { c.Call.ICEServers = []string{"http://stun.example.com"} }},
		{"zero stats interval", func(c *Config) { c.Monitoring.StatsInterval = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateIgnoresDisabledFeatures(t *testing.T) {
	cfg := Default()
	cfg.Signaling.Reconnect = false
	cfg.Signaling.ReconnectInterval = 0
	cfg.Signaling.Heartbeat = false
	cfg.Signaling.HeartbeatInterval = 0

	assert.NoError(t, cfg.Validate())
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"wss://relay.example.com/ws":    "wss://relay.example.com/ws",
		"ws://localhost:8080":           "ws://localhost:8080/ws",
		"https://relay.example.com":     "wss://relay.example.com/ws",
		" wss://relay.example.com/room": "wss://relay.example.com/room",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := NormalizeURL("relay")
	assert.Error(t, err)
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Debug = true
	cfg.Signaling.HistoryLimit = 10
	cfg.Signaling.Protocols = []string{"p2pcall.v1"}
	cfg.Call.EndCallOnDisconnect = false

	so := cfg.SocketOptions()
	assert.Equal(t, 10, so.HistoryLimit)
	assert.Equal(t, []string{"p2pcall.v1"}, so.Protocols)
	assert.True(t, so.Debug)
	assert.Equal(t, "heartbeat-ack", so.HeartbeatAckType)

	co := cfg.CallOptions()
	assert.False(t, co.EndCallOnDisconnect)
	assert.Equal(t, media.AudioVideo, co.Constraints)
	assert.IsType(t, &media.SyntheticDevice{}, co.Device)
	assert.True(t, co.Debug)
}

func TestFileDeviceNarrowsConstraints(t *testing.T) {
	cfg := Default()
	cfg.Call.AudioFile = "voice.ogg"

	co := cfg.CallOptions()
	assert.Equal(t, media.Constraints{Audio: true}, co.Constraints)
	require.IsType(t, &media.FileDevice{}, co.Device)
	assert.Equal(t, "voice.ogg", co.Device.(*media.FileDevice).AudioPath)
}
