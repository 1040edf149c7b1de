package ctl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/large-farva/livefeed/internal/api"
	"github.com/large-farva/livefeed/internal/poll"
)

// PollOptions controls the poll command.
type PollOptions struct {
	Path     string
	Interval time.Duration
	Timeout  time.Duration
	Policy   poll.RacePolicy
	Count    int       // stop after this many successful fetches; 0 = run until cancelled
	Input    io.Reader // lines reading "r" trigger a manual refresh; nil disables
	JSON     bool
	Logger   *log.Logger
}

// Poll fetches an arbitrary JSON endpoint on a fixed interval and prints each
// result or failure as it lands.
func Poll(ctx context.Context, baseURL string, opts PollOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		lastUpdated time.Time
		lastErr     string
		successes   int
	)
	s, err := poll.New(api.Fetch[json.RawMessage](newClient(baseURL), opts.Path), poll.Options[json.RawMessage]{
		Name:     opts.Path,
		Interval: opts.Interval,
		Timeout:  opts.Timeout,
		Policy:   opts.Policy,
		Logger:   opts.Logger,
		OnChange: func(st poll.State[json.RawMessage]) {
			if st.Err != "" && st.Err != lastErr {
				renderPollError(st)
			}
			lastErr = st.Err
			if st.LastUpdated.Equal(lastUpdated) || !st.HasData {
				return
			}
			lastUpdated = st.LastUpdated
			renderPollData(st, opts.JSON)
			successes++
			if opts.Count > 0 && successes >= opts.Count {
				cancel()
			}
		},
	})
	if err != nil {
		return err
	}

	if !opts.JSON {
		fmt.Fprintln(stdout)
		fmt.Fprintf(stdout, "  %s %s %s\n", colorize(dim, "polling"), opts.Path, colorize(dim, "every "+opts.Interval.String()))
		if opts.Input != nil {
			fmt.Fprintln(stdout, colorize(dim, "  type r + Enter to refresh now"))
		}
		fmt.Fprintln(stdout, rule(50))
	}

	if err := s.Start(ctx); err != nil {
		return err
	}
	if opts.Input != nil {
		go readRefresh(ctx, opts.Input, s.Refresh)
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func renderPollData(st poll.State[json.RawMessage], jsonOut bool) {
	if jsonOut {
		fmt.Fprintln(stdout, string(st.Data))
		return
	}
	body := strings.Join(strings.Fields(string(st.Data)), " ")
	if len(body) > 100 {
		body = body[:97] + "..."
	}
	fmt.Fprintf(stdout, "  %s %s  %s\n",
		colorize(dim, st.LastUpdated.Local().Format("15:04:05")),
		colorize(green, "OK   "),
		body,
	)
}

func renderPollError(st poll.State[json.RawMessage]) {
	fmt.Fprintf(stdout, "  %s %s  %s\n",
		colorize(dim, time.Now().Local().Format("15:04:05")),
		colorize(red, "ERROR"),
		st.Err,
	)
}

// readRefresh calls refresh for every input line reading "r" until the
// input ends or ctx is cancelled.
func readRefresh(ctx context.Context, in io.Reader, refresh func()) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		if strings.EqualFold(strings.TrimSpace(sc.Text()), "r") {
			refresh()
		}
	}
}
