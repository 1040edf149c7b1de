package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/large-farva/livefeed/internal/api"
	"github.com/large-farva/livefeed/internal/channel"
	"github.com/large-farva/livefeed/internal/poll"
	"github.com/large-farva/livefeed/internal/view"
)

// DashboardOptions controls the dashboard command.
type DashboardOptions struct {
	OverviewInterval   time.Duration
	PrioritiesInterval time.Duration
	Timeout            time.Duration
	Policy             poll.RacePolicy
	Limit              int

	Channel     channel.Options   // URL must be set
	Registry    *channel.Registry // shared channels when embedded; nil builds a private one
	Input       io.Reader         // lines reading "r" refresh both pollers; nil disables
	MetricsBind string            // serve /metrics here when non-empty
	Clock       clockwork.Clock
	Logger      *log.Logger
}

// Dashboard runs the live dashboard: the overview and the allocation queue
// are polled on their own intervals, the push channel streams events, and a
// frame is redrawn every second until ctx is cancelled.
func Dashboard(ctx context.Context, baseURL string, opts DashboardOptions) error {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	redraw := make(chan struct{}, 1)
	poke := func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	}

	c := newClient(baseURL)
	overview, err := poll.New(api.Fetch[api.Overview](c, api.PathOverview), poll.Options[api.Overview]{
		Name:     "overview",
		Interval: opts.OverviewInterval,
		Timeout:  opts.Timeout,
		Policy:   opts.Policy,
		Clock:    clock,
		Logger:   logger,
		OnChange: func(poll.State[api.Overview]) { poke() },
	})
	if err != nil {
		return fmt.Errorf("overview poller: %w", err)
	}
	priorities, err := poll.New[[]api.Priority](c.PrioritiesFetcher(opts.Limit), poll.Options[[]api.Priority]{
		Name:     "priorities",
		Interval: opts.PrioritiesInterval,
		Timeout:  opts.Timeout,
		Policy:   opts.Policy,
		Clock:    clock,
		Logger:   logger,
		OnChange: func(poll.State[[]api.Priority]) { poke() },
	})
	if err != nil {
		return fmt.Errorf("priorities poller: %w", err)
	}

	base := opts.Channel
	if base.Clock == nil {
		base.Clock = clock
	}
	if base.Logger == nil {
		base.Logger = logger
	}
	reg := opts.Registry
	if reg == nil {
		reg = channel.NewRegistry(base)
	}
	ch, release, err := reg.Acquire(base.URL)
	if err != nil {
		return fmt.Errorf("push channel: %w", err)
	}
	defer release()

	g, ctx := errgroup.WithContext(ctx)

	if opts.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		srv := &http.Server{Addr: opts.MetricsBind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Printf("metrics on http://%s/metrics", opts.MetricsBind)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := overview.Start(ctx); err != nil {
		return err
	}
	defer overview.Stop()
	if err := priorities.Start(ctx); err != nil {
		return err
	}
	defer priorities.Stop()

	if opts.Input != nil {
		go readRefresh(ctx, opts.Input, func() {
			overview.Refresh()
			priorities.Refresh()
		})
	}

	g.Go(func() error {
		ticker := clock.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			renderDashboard(view.Compose(overview.State(), priorities.State(), ch.State()))
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.Chan():
			case <-redraw:
			}
		}
	})

	return g.Wait()
}

// clearScreen homes the cursor and clears the terminal. It is a no-op when
// output is not a terminal so piped output stays a plain sequence of frames.
func clearScreen() {
	if colorEnabled() {
		fmt.Fprint(stdout, "\033[H\033[2J")
	}
}

func renderDashboard(d view.Dashboard) {
	clearScreen()
	fmt.Fprintln(stdout)
	renderBadge(d.Badge)
	fmt.Fprintln(stdout)

	if !d.Overview.HasData {
		msg := "loading..."
		if d.Overview.Err != "" {
			msg = d.Overview.Err
		}
		fmt.Fprintf(stdout, "  %s\n\n", colorize(dim, msg))
	} else {
		renderOverview(d.Live)
		if d.Pushed > 0 {
			fmt.Fprintf(stdout, "  %s\n\n", colorize(dim, fmt.Sprintf("%d live updates since last poll", d.Pushed)))
		}
	}

	if d.Priorities.HasData {
		renderPriorities(d.Priorities.Data)
	}

	fmt.Fprintln(stdout, header("  RECENT EVENTS"))
	fmt.Fprintln(stdout, rule(76))
	recent := d.Recent(5)
	if len(recent) == 0 {
		fmt.Fprintln(stdout, colorize(dim, "  Waiting for events..."))
	}
	for _, ev := range recent {
		renderEvent(ev)
	}
	fmt.Fprintln(stdout)
}

func renderBadge(b view.Badge) {
	status := colorize(yellow, b.Status())
	if b.Connected {
		status = colorize(green, b.Status())
	}

	countdown := colorize(dim, b.CountdownLabel())
	if b.Urgent() {
		countdown = colorize(yellow, b.CountdownLabel())
	}
	if b.Loading {
		countdown = colorize(cyan, "refreshing")
	}

	parts := []string{
		status,
		colorize(dim, "updated ") + b.Updated(time.Local),
		colorize(dim, "next ") + countdown,
	}
	fmt.Fprintf(stdout, "  %s\n", strings.Join(parts, colorize(dim, "  |  ")))
	if b.Err != "" {
		fmt.Fprintf(stdout, "  %s %s\n", colorize(red, "ERROR"), b.Err)
	}
}
