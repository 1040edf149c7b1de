package ctl

import (
	"context"
	"fmt"

	"github.com/large-farva/livefeed/internal/config"
)

// Config fetches and displays the backend's running configuration.
func Config(baseURL string, jsonOutput bool) error {
	var cfg config.Config
	if err := newClient(baseURL).GetJSON(context.Background(), "/api/config", &cfg); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cfg)
	}
	renderConfig(cfg, "BACKEND CONFIGURATION")
	return nil
}

// ShowLocalConfig prints the configuration feedctl itself resolved from its
// file, .env, and environment.
func ShowLocalConfig(cfg config.Config, jsonOutput bool) error {
	if jsonOutput {
		return printJSON(cfg)
	}
	renderConfig(cfg, "LOCAL CONFIGURATION")
	return nil
}

func renderConfig(cfg config.Config, title string) {
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  "+title))
	fmt.Fprintln(stdout, rule(50))

	section := func(name string) {
		fmt.Fprintf(stdout, "\n  %s\n", colorize(bold, "["+name+"]"))
	}
	field := func(key string, val any) {
		fmt.Fprintf(stdout, "    %-24s %v\n", colorize(dim, key+":"), val)
	}

	section("logging")
	field("level", cfg.Logging.Level)

	section("server")
	field("bind", cfg.Server.Bind)

	section("feed")
	field("api_url", cfg.Feed.APIURL)
	field("ws_url", cfg.Feed.WSURL)

	section("channel")
	field("event_cap", cfg.Channel.EventCap)
	field("reconnect_seconds", cfg.Channel.ReconnectSeconds)
	field("ping_seconds", cfg.Channel.PingSeconds)
	field("exponential", cfg.Channel.Exponential)
	field("max_reconnect_seconds", cfg.Channel.MaxReconnectSeconds)
	field("jitter", cfg.Channel.Jitter)

	section("poll")
	field("overview_seconds", cfg.Poll.OverviewSeconds)
	field("priorities_seconds", cfg.Poll.PrioritiesSeconds)
	field("timeout_seconds", cfg.Poll.TimeoutSeconds)
	field("priorities_limit", cfg.Poll.PrioritiesLimit)
	field("race_policy", cfg.Poll.RacePolicy)

	section("demo")
	field("enabled", cfg.Demo.Enabled)
	field("interval_seconds", cfg.Demo.IntervalSeconds)
	field("villages", cfg.Demo.Villages)

	fmt.Fprintln(stdout)
}
