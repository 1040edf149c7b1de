// Feedctl is the command-line client for a livefeed backend. It queries the
// dashboard REST endpoints over HTTP, streams push events over WebSocket, and
// runs a live terminal dashboard that combines both.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/large-farva/livefeed/internal/channel"
	"github.com/large-farva/livefeed/internal/config"
	"github.com/large-farva/livefeed/internal/ctl"
	"github.com/large-farva/livefeed/internal/poll"
)

func main() {
	var (
		host       = pflag.StringP("host", "H", "", "Backend URL (default: [feed].api_url, http://127.0.0.1:8000)")
		configPath = pflag.StringP("config", "c", "", "Path to config TOML")
		jsonOut    = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter     = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter new_request,alert_escalation)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --limit are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: config:", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Feed.APIURL = *host
		cfg.Feed.WSURL = ""
	}
	baseURL := cfg.Feed.APIURL

	var logger *log.Logger
	if cfg.Debug() {
		logger = log.New(os.Stderr, "feedctl ", log.LstdFlags|log.Lmicroseconds)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(baseURL, *jsonOut)

	case "health":
		err = ctl.Health(baseURL, *jsonOut)

	case "version":
		err = ctl.VersionInfo(baseURL, *jsonOut)

	case "config":
		err = ctl.Config(baseURL, *jsonOut)

	case "config-local":
		err = ctl.ShowLocalConfig(cfg, *jsonOut)

	case "overview":
		opts := ctl.OverviewOptions{JSON: *jsonOut}
		ovFlags := pflag.NewFlagSet("overview", pflag.ContinueOnError)
		ovFlags.IntVar(&opts.Limit, "limit", cfg.Poll.PrioritiesLimit, "Priority rows to show")
		_ = ovFlags.Parse(subArgs)
		err = ctl.Overview(baseURL, opts)

	case "tankers":
		err = ctl.Tankers(baseURL, *jsonOut)

	case "requests":
		var status string
		reqFlags := pflag.NewFlagSet("requests", pflag.ContinueOnError)
		reqFlags.StringVar(&status, "status", "", "Filter by status (pending, fulfilled)")
		_ = reqFlags.Parse(subArgs)
		err = ctl.Requests(baseURL, status, *jsonOut)

	case "grievances":
		var status string
		grvFlags := pflag.NewFlagSet("grievances", pflag.ContinueOnError)
		grvFlags.StringVar(&status, "status", "", "Filter by status (open, in_progress, resolved)")
		_ = grvFlags.Parse(subArgs)
		err = ctl.Grievances(baseURL, status, *jsonOut)

	// ── Control commands ──────────────────────────────────────────
	case "allocate":
		err = ctl.Allocate(baseURL, *jsonOut)

	// ── Live commands ─────────────────────────────────────────────
	case "poll":
		err = runPoll(ctx, cfg, baseURL, subArgs, *jsonOut, logger)

	case "watch":
		types := *filter
		watchFlags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
		watchFlags.StringSliceVar(&types, "filter", types, "Event types to show")
		_ = watchFlags.Parse(subArgs)
		var chOpts channel.Options
		if chOpts, err = channelOptions(cfg, logger); err == nil {
			err = ctl.Watch(ctx, ctl.WatchOptions{
				Filter:  types,
				JSON:    *jsonOut,
				Channel: chOpts,
			})
		}

	case "dashboard":
		err = runDashboard(ctx, cfg, baseURL, subArgs, logger)

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func channelOptions(cfg config.Config, logger *log.Logger) (channel.Options, error) {
	url, err := cfg.WebSocketURL()
	if err != nil {
		return channel.Options{}, err
	}
	opts := cfg.ChannelOptions()
	opts.URL = url
	opts.Logger = logger
	return opts, nil
}

func runPoll(ctx context.Context, cfg config.Config, baseURL string, args []string, jsonOut bool, logger *log.Logger) error {
	var (
		interval = 10
		timeout  = cfg.Poll.TimeoutSeconds
		policy   = cfg.Poll.RacePolicy
		count    int
		noInput  bool
	)
	fs := pflag.NewFlagSet("poll", pflag.ContinueOnError)
	fs.IntVar(&interval, "interval", interval, "Seconds between fetches")
	fs.IntVar(&timeout, "timeout", timeout, "Per-fetch timeout in seconds (0 disables)")
	fs.StringVar(&policy, "policy", policy, "Overlapping fetch policy (last-resolved, last-started)")
	fs.IntVar(&count, "count", 0, "Stop after N successful fetches")
	fs.BoolVar(&noInput, "no-input", false, "Do not read refresh requests from stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("poll: missing endpoint path (e.g. /api/dashboard/overview)")
	}
	rp, err := poll.ParseRacePolicy(policy)
	if err != nil {
		return err
	}

	opts := ctl.PollOptions{
		Path:     fs.Arg(0),
		Interval: time.Duration(interval) * time.Second,
		Timeout:  time.Duration(timeout) * time.Second,
		Policy:   rp,
		Count:    count,
		JSON:     jsonOut,
		Logger:   logger,
	}
	if !noInput {
		opts.Input = stdin()
	}
	return ctl.Poll(ctx, baseURL, opts)
}

func runDashboard(ctx context.Context, cfg config.Config, baseURL string, args []string, logger *log.Logger) error {
	var (
		limit       = cfg.Poll.PrioritiesLimit
		policy      = cfg.Poll.RacePolicy
		metricsBind string
	)
	fs := pflag.NewFlagSet("dashboard", pflag.ContinueOnError)
	fs.IntVar(&limit, "limit", limit, "Priority rows to show")
	fs.StringVar(&policy, "policy", policy, "Overlapping fetch policy (last-resolved, last-started)")
	fs.StringVar(&metricsBind, "metrics-bind", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9108)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rp, err := poll.ParseRacePolicy(policy)
	if err != nil {
		return err
	}
	chOpts, err := channelOptions(cfg, logger)
	if err != nil {
		return err
	}

	return ctl.Dashboard(ctx, baseURL, ctl.DashboardOptions{
		OverviewInterval:   time.Duration(cfg.Poll.OverviewSeconds) * time.Second,
		PrioritiesInterval: time.Duration(cfg.Poll.PrioritiesSeconds) * time.Second,
		Timeout:            time.Duration(cfg.Poll.TimeoutSeconds) * time.Second,
		Policy:             rp,
		Limit:              limit,
		Channel:            chOpts,
		Input:              stdin(),
		MetricsBind:        metricsBind,
		Logger:             logger,
	})
}

// stdin returns os.Stdin when it is an interactive terminal, nil otherwise.
func stdin() io.Reader {
	fi, err := os.Stdin.Stat()
	if err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		return nil
	}
	return os.Stdin
}

func usage() {
	fmt.Print(`
  feedctl - livefeed dashboard CLI

  USAGE
    feedctl [flags] <command> [command-flags]

  COMMANDS (query)
    status          Show backend mode, uptime, and connected clients
    health          Check backend liveness
    version         Show CLI and backend version information
    config          Show the backend's running configuration
    config-local    Show the configuration feedctl resolved locally
    overview        Show the dashboard overview and allocation priorities
    tankers         List the tanker fleet
    requests        List water requests
    grievances      List citizen grievances

  COMMANDS (control)
    allocate        Dispatch every available tanker to the neediest villages

  COMMANDS (live)
    poll PATH       Fetch an endpoint on an interval (type r + Enter to refresh)
    watch           Stream live events from the backend (Ctrl-C to stop)
    dashboard       Live dashboard: polled overview plus pushed events

  GLOBAL FLAGS
    -H, --host URL      Backend base URL (default: [feed].api_url)
    -c, --config PATH   Config TOML (FEED_API_URL, FEED_WS_URL, FEED_LOG_LEVEL override it)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  COMMAND FLAGS
    overview:
        --limit N           Priority rows to show

    requests, grievances:
        --status STATUS     Filter by status

    poll:
        --interval SECS     Seconds between fetches (default: 10)
        --timeout SECS      Per-fetch timeout in seconds
        --policy POLICY     last-resolved or last-started
        --count N           Stop after N successful fetches
        --no-input          Do not read refresh requests from stdin

    dashboard:
        --limit N           Priority rows to show
        --policy POLICY     last-resolved or last-started
        --metrics-bind ADDR Serve Prometheus metrics while running

  EXAMPLES
    feedctl status
    feedctl --json overview --limit 5
    feedctl --host http://10.0.0.4:8000 watch
    feedctl watch --filter new_request,alert_escalation
    feedctl requests --status pending
    feedctl allocate
    feedctl poll /api/dashboard/overview --interval 5 --count 3
    feedctl dashboard --metrics-bind 127.0.0.1:9108

`)
}
