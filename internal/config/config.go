// Package config handles loading, defaulting, and validation of the livefeed
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups. A handful of
// environment variables override the file, which is convenient when pointing
// feedctl at a different backend.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"go-simpler.org/env"

	"github.com/large-farva/livefeed/internal/channel"
	"github.com/large-farva/livefeed/internal/poll"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Logging LoggingConfig `toml:"logging" json:"logging"`
	Server  ServerConfig  `toml:"server"  json:"server"`
	Feed    FeedConfig    `toml:"feed"    json:"feed"`
	Channel ChannelConfig `toml:"channel" json:"channel"`
	Poll    PollConfig    `toml:"poll"    json:"poll"`
	Demo    DemoConfig    `toml:"demo"    json:"demo"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

type ServerConfig struct {
	Bind string `toml:"bind" json:"bind"`
}

// FeedConfig locates the backend. WSURL may be empty, in which case it is
// derived from APIURL.
type FeedConfig struct {
	APIURL string `toml:"api_url" json:"api_url"`
	WSURL  string `toml:"ws_url"  json:"ws_url"`
}

type ChannelConfig struct {
	EventCap            int     `toml:"event_cap"             json:"event_cap"`
	ReconnectSeconds    int     `toml:"reconnect_seconds"     json:"reconnect_seconds"`
	PingSeconds         int     `toml:"ping_seconds"          json:"ping_seconds"`
	Exponential         bool    `toml:"exponential"           json:"exponential"`
	MaxReconnectSeconds int     `toml:"max_reconnect_seconds" json:"max_reconnect_seconds"`
	Jitter              float64 `toml:"jitter"                json:"jitter"`
}

type PollConfig struct {
	OverviewSeconds   int    `toml:"overview_seconds"   json:"overview_seconds"`
	PrioritiesSeconds int    `toml:"priorities_seconds" json:"priorities_seconds"`
	TimeoutSeconds    int    `toml:"timeout_seconds"    json:"timeout_seconds"`
	PrioritiesLimit   int    `toml:"priorities_limit"   json:"priorities_limit"`
	RacePolicy        string `toml:"race_policy"        json:"race_policy"`
}

type DemoConfig struct {
	Enabled         bool `toml:"enabled"          json:"enabled"`
	IntervalSeconds int  `toml:"interval_seconds" json:"interval_seconds"`
	Villages        int  `toml:"villages"         json:"villages"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Bind: "0.0.0.0:8000",
		},
		Feed: FeedConfig{
			APIURL: "http://127.0.0.1:8000",
		},
		Channel: ChannelConfig{
			EventCap:            channel.DefaultEventCap,
			ReconnectSeconds:    int(channel.DefaultReconnectDelay / time.Second),
			PingSeconds:         int(channel.DefaultPingInterval / time.Second),
			MaxReconnectSeconds: 60,
		},
		Poll: PollConfig{
			OverviewSeconds:   30,
			PrioritiesSeconds: 60,
			TimeoutSeconds:    10,
			PrioritiesLimit:   10,
			RacePolicy:        poll.LastResolved.String(),
		},
		Demo: DemoConfig{
			Enabled:         true,
			IntervalSeconds: 4,
			Villages:        24,
		},
	}
}

// Overrides are the environment variables that win over the file.
type Overrides struct {
	APIURL   string `env:"FEED_API_URL"`
	WSURL    string `env:"FEED_WS_URL"`
	LogLevel string `env:"FEED_LOG_LEVEL"`
	Bind     string `env:"FEED_BIND"`
}

// Load reads the TOML file at path, layers it on top of the defaults, applies
// environment overrides, and validates the result. An empty path skips the
// file. A .env file in the working directory, if present, seeds the
// environment without replacing variables that are already set.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	}

	_ = godotenv.Load()
	var ov Overrides
	if err := env.Load(&ov, nil); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}
	cfg.Apply(ov)

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Apply copies every non-empty override into cfg.
func (cfg *Config) Apply(ov Overrides) {
	if ov.APIURL != "" {
		cfg.Feed.APIURL = ov.APIURL
	}
	if ov.WSURL != "" {
		cfg.Feed.WSURL = ov.WSURL
	}
	if ov.LogLevel != "" {
		cfg.Logging.Level = ov.LogLevel
	}
	if ov.Bind != "" {
		cfg.Server.Bind = ov.Bind
	}
}

// WebSocketURL returns the push channel address, derived from the API URL
// unless set explicitly.
func (cfg Config) WebSocketURL() (string, error) {
	if cfg.Feed.WSURL != "" {
		return channel.ResolveURL(cfg.Feed.WSURL)
	}
	return channel.ResolveURL(cfg.Feed.APIURL)
}

// ChannelOptions translates the [channel] section. URL, clock and logger are
// left for the caller.
func (cfg Config) ChannelOptions() channel.Options {
	c := cfg.Channel
	return channel.Options{
		EventCap:       c.EventCap,
		ReconnectDelay: time.Duration(c.ReconnectSeconds) * time.Second,
		PingInterval:   time.Duration(c.PingSeconds) * time.Second,
		Backoff: channel.BackoffOptions{
			Exponential: c.Exponential,
			Max:         time.Duration(c.MaxReconnectSeconds) * time.Second,
			Jitter:      c.Jitter,
		},
	}
}

// Debug reports whether per-fetch and per-frame logging is enabled.
func (cfg Config) Debug() bool {
	return cfg.Logging.Level == "debug"
}

func validate(cfg Config) error {
	switch cfg.Logging.Level {
	case "debug", "info":
	default:
		return fmt.Errorf("logging.level %q must be debug or info", cfg.Logging.Level)
	}
	if cfg.Server.Bind == "" {
		return errors.New("server.bind must not be empty")
	}
	if cfg.Feed.APIURL == "" {
		return errors.New("feed.api_url must not be empty")
	}
	if _, err := cfg.WebSocketURL(); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	if cfg.Channel.EventCap < 1 {
		return errors.New("channel.event_cap must be >= 1")
	}
	if cfg.Channel.ReconnectSeconds < 1 {
		return errors.New("channel.reconnect_seconds must be >= 1")
	}
	if cfg.Channel.PingSeconds < 1 {
		return errors.New("channel.ping_seconds must be >= 1")
	}
	if cfg.Channel.Exponential && cfg.Channel.MaxReconnectSeconds < cfg.Channel.ReconnectSeconds {
		return errors.New("channel.max_reconnect_seconds must be >= channel.reconnect_seconds")
	}
	if cfg.Channel.Jitter < 0 || cfg.Channel.Jitter >= 1 {
		return errors.New("channel.jitter must be in [0, 1)")
	}
	if cfg.Poll.OverviewSeconds < 1 {
		return errors.New("poll.overview_seconds must be >= 1")
	}
	if cfg.Poll.PrioritiesSeconds < 1 {
		return errors.New("poll.priorities_seconds must be >= 1")
	}
	if cfg.Poll.TimeoutSeconds < 0 {
		return errors.New("poll.timeout_seconds must be >= 0")
	}
	if cfg.Poll.PrioritiesLimit < 1 || cfg.Poll.PrioritiesLimit > 50 {
		return errors.New("poll.priorities_limit must be between 1 and 50")
	}
	if _, err := poll.ParseRacePolicy(cfg.Poll.RacePolicy); err != nil {
		return err
	}
	if cfg.Demo.IntervalSeconds < 0 {
		return errors.New("demo.interval_seconds must be >= 0")
	}
	if cfg.Demo.Villages < 1 {
		return errors.New("demo.villages must be >= 1")
	}
	return nil
}
