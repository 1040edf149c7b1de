package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"FEED_API_URL", "FEED_WS_URL", "FEED_LOG_LEVEL", "FEED_BIND"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livefeed.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, validate(Default()))
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileLayersOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[feed]
api_url = "http://backend:9000"

[channel]
event_cap = 20
exponential = true

[poll]
overview_seconds = 15
race_policy = "last-started"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://backend:9000", cfg.Feed.APIURL)
	assert.Equal(t, 20, cfg.Channel.EventCap)
	assert.True(t, cfg.Channel.Exponential)
	assert.Equal(t, 15, cfg.Poll.OverviewSeconds)
	assert.Equal(t, "last-started", cfg.Poll.RacePolicy)
	assert.Equal(t, 60, cfg.Poll.PrioritiesSeconds, "unset keys keep defaults")

	ws, err := cfg.WebSocketURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://backend:9000/ws", ws)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("FEED_API_URL", "https://feed.example.org")
	t.Setenv("FEED_WS_URL", "wss://push.example.org/live")
	t.Setenv("FEED_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "[feed]\napi_url = \"http://ignored:1\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://feed.example.org", cfg.Feed.APIURL)
	assert.True(t, cfg.Debug())

	ws, err := cfg.WebSocketURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://push.example.org/live", ws)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_BadTOML(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "[poll\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"log level without effect", func(c *Config) { c.Logging.Level = "warn" }},
		{"bind", func(c *Config) { c.Server.Bind = "" }},
		{"api url", func(c *Config) { c.Feed.APIURL = "" }},
		{"ws scheme", func(c *Config) { c.Feed.WSURL = "ftp://x" }},
		{"event cap", func(c *Config) { c.Channel.EventCap = 0 }},
		{"reconnect", func(c *Config) { c.Channel.ReconnectSeconds = 0 }},
		{"ping", func(c *Config) { c.Channel.PingSeconds = 0 }},
		{"max below base", func(c *Config) { c.Channel.Exponential = true; c.Channel.MaxReconnectSeconds = 1 }},
		{"jitter", func(c *Config) { c.Channel.Jitter = 1 }},
		{"overview interval", func(c *Config) { c.Poll.OverviewSeconds = 0 }},
		{"priorities interval", func(c *Config) { c.Poll.PrioritiesSeconds = -1 }},
		{"timeout", func(c *Config) { c.Poll.TimeoutSeconds = -1 }},
		{"limit", func(c *Config) { c.Poll.PrioritiesLimit = 51 }},
		{"policy", func(c *Config) { c.Poll.RacePolicy = "random" }},
		{"demo interval", func(c *Config) { c.Demo.IntervalSeconds = -1 }},
		{"demo villages", func(c *Config) { c.Demo.Villages = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mod(&cfg)
			assert.Error(t, validate(cfg))
		})
	}
}

func TestChannelOptions(t *testing.T) {
	cfg := Default()
	cfg.Channel.Exponential = true
	cfg.Channel.Jitter = 0.2

	opts := cfg.ChannelOptions()
	assert.Equal(t, 50, opts.EventCap)
	assert.Equal(t, 5*time.Second, opts.ReconnectDelay)
	assert.Equal(t, 20*time.Second, opts.PingInterval)
	assert.True(t, opts.Backoff.Exponential)
	assert.Equal(t, time.Minute, opts.Backoff.Max)
	assert.InDelta(t, 0.2, opts.Backoff.Jitter, 1e-9)
}
