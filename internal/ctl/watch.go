package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/large-farva/livefeed/internal/channel"
	"github.com/large-farva/livefeed/internal/telemetry"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter  []string        // event types to show (empty = all)
	JSON    bool            // output one JSON object per event
	Channel channel.Options // URL must be set; OnChange is overwritten
}

// Watch opens a resilient push channel and streams events to the terminal
// until ctx is cancelled. Drops are reported and the channel reconnects on
// its own.
func Watch(ctx context.Context, opts WatchOptions) error {
	var (
		received int
		phase    = channel.Disconnected
	)

	chOpts := opts.Channel
	chOpts.OnChange = func(st channel.State) {
		if st.Phase != phase && !opts.JSON {
			renderPhase(phase, st)
		}
		phase = st.Phase

		fresh := newEvents(st, received)
		received = st.Received
		for _, ev := range fresh {
			if len(opts.Filter) > 0 && !slices.Contains(opts.Filter, ev.Type) {
				continue
			}
			if opts.JSON {
				_ = printEventJSON(ev)
			} else {
				renderEvent(ev)
			}
		}
	}

	ch, err := channel.New(chOpts)
	if err != nil {
		return err
	}

	if !opts.JSON {
		fmt.Fprintln(stdout)
		fmt.Fprintf(stdout, "  %s %s\n", colorize(dim, "watching"), colorize(dim, ch.URL()))
		if len(opts.Filter) > 0 {
			fmt.Fprintf(stdout, "  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		fmt.Fprintln(stdout, rule(50))
		fmt.Fprintln(stdout)
	}

	if err := ch.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	ch.Stop()

	if !opts.JSON {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, colorize(dim, "  disconnected"))
	}
	return nil
}

// newEvents returns the events that arrived since the snapshot in which
// seen events had been received, oldest first.
func newEvents(st channel.State, seen int) []telemetry.Event {
	n := min(st.Received-seen, len(st.Events))
	if n <= 0 {
		return nil
	}
	out := slices.Clone(st.Events[:n])
	slices.Reverse(out)
	return out
}

func renderPhase(from channel.Phase, st channel.State) {
	switch st.Phase {
	case channel.Connected:
		fmt.Fprintf(stdout, "  %s\n", colorize(green, "connected"))
	case channel.Disconnected:
		if from == channel.Connected {
			fmt.Fprintf(stdout, "  %s\n", colorize(yellow, "connection lost, reconnecting..."))
		}
	case channel.Connecting:
		if st.Reconnects > 0 {
			fmt.Fprintf(stdout, "  %s\n", colorize(dim, fmt.Sprintf("reconnect attempt %d", st.Reconnects)))
		}
	}
}

func printEventJSON(ev telemetry.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(b))
	return nil
}

// renderEvent prints an event in a human-friendly format. Unrecognized event
// types fall back to their raw data.
func renderEvent(ev telemetry.Event) {
	ts := colorize(dim, ev.Timestamp.Local().Format("15:04:05"))
	label := colorize(eventColor(ev.Type), padRight(strings.ToUpper(strings.ReplaceAll(ev.Type, "_", " ")), 16))
	d := ev.Data

	switch ev.Type {
	case telemetry.EventNewRequest:
		fmt.Fprintf(stdout, "  %s %s  %s, %s  %s\n", ts, label,
			str(d, "village"), str(d, "district"), colorize(dim, "urgency "+str(d, "urgency")))

	case telemetry.EventTankerUpdate:
		dest := ""
		if v, ok := d["village"].(string); ok && v != "" {
			dest = "  " + colorize(dim, v)
		}
		fmt.Fprintf(stdout, "  %s %s  %s %s %s %s%s\n", ts, label,
			str(d, "registration"), str(d, "from"), colorize(dim, "->"), str(d, "status"), dest)

	case telemetry.EventAlertEscalation:
		to := str(d, "to")
		fmt.Fprintf(stdout, "  %s %s  %s, %s  %s %s %s  %s\n", ts, label,
			str(d, "village"), str(d, "district"),
			colorize(severityColor(str(d, "from")), str(d, "from")),
			colorize(dim, "->"),
			colorize(severityColor(to), strings.ToUpper(to)),
			colorize(dim, "wsi "+str(d, "wsi")))

	case telemetry.EventStatsUpdate:
		tankers, _ := d["tankers"].(map[string]any)
		fmt.Fprintf(stdout, "  %s %s  %s\n", ts, label, colorize(dim, fmt.Sprintf(
			"pending %s  critical %s  avg wsi %s  tankers free %s",
			str(d, "pending_requests"), str(d, "critical_villages"), str(d, "avg_wsi"), str(tankers, "available"))))

	default:
		raw, err := json.Marshal(d)
		if err != nil {
			raw = []byte("{}")
		}
		fmt.Fprintf(stdout, "  %s %s  %s\n", ts, label, string(raw))
	}
}

// str renders one field of an event payload, or "?" when absent.
func str(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return "?"
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprint(int64(f))
	}
	return fmt.Sprint(v)
}
