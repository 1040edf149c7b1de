// Package view merges poller and channel snapshots into the single picture a
// dashboard renders: the live badge plus the overview with any newer pushes
// folded in.
package view

import (
	"fmt"
	"slices"
	"time"

	"github.com/large-farva/livefeed/internal/api"
	"github.com/large-farva/livefeed/internal/channel"
	"github.com/large-farva/livefeed/internal/poll"
	"github.com/large-farva/livefeed/internal/telemetry"
)

// UrgentCountdown is the countdown at or below which the badge highlights the
// upcoming refresh.
const UrgentCountdown = 5

// Badge is the status strip shown above every live page.
type Badge struct {
	Connected   bool
	Countdown   int
	LastUpdated time.Time
	Loading     bool
	Err         string
}

// Status is the connection label.
func (b Badge) Status() string {
	if b.Connected {
		return "LIVE"
	}
	return "Reconnecting..."
}

// Updated formats LastUpdated as a wall clock time in loc, or "-" before the
// first success.
func (b Badge) Updated(loc *time.Location) string {
	if b.LastUpdated.IsZero() {
		return "-"
	}
	if loc == nil {
		loc = time.Local
	}
	return b.LastUpdated.In(loc).Format("15:04:05")
}

func (b Badge) Urgent() bool { return b.Countdown <= UrgentCountdown }

func (b Badge) CountdownLabel() string { return fmt.Sprintf("%ds", b.Countdown) }

// NewBadge builds a badge from any poller state and the channel state.
func NewBadge[T any](p poll.State[T], ch channel.State) Badge {
	return Badge{
		Connected:   ch.Connected,
		Countdown:   p.Countdown,
		LastUpdated: p.LastUpdated,
		Loading:     p.Loading,
		Err:         p.Err,
	}
}

// Dashboard is one composed frame.
type Dashboard struct {
	Overview   poll.State[api.Overview]
	Priorities poll.State[[]api.Priority]
	Channel    channel.State

	Badge Badge
	// Live is the polled overview with every stats_update received after the
	// last successful poll applied in arrival order. It equals Overview.Data
	// when there is nothing newer.
	Live api.Overview
	// Pushed counts the stats updates folded into Live.
	Pushed int
}

// Compose merges the three snapshots into a Dashboard.
func Compose(ov poll.State[api.Overview], pr poll.State[[]api.Priority], ch channel.State) Dashboard {
	d := Dashboard{
		Overview:   ov,
		Priorities: pr,
		Channel:    ch,
		Badge:      NewBadge(ov, ch),
		Live:       ov.Data,
	}
	if !ov.HasData {
		return d
	}

	// Events are newest first; walk backwards to apply oldest first.
	for _, ev := range slices.Backward(ch.Events) {
		if ev.Type != telemetry.EventStatsUpdate || !ev.Timestamp.After(ov.LastUpdated) {
			continue
		}
		d.Live = d.Live.Apply(ev)
		d.Pushed++
	}
	return d
}

// Recent returns up to n of the newest events, optionally restricted to the
// given types.
func (d Dashboard) Recent(n int, types ...string) []telemetry.Event {
	if n <= 0 {
		return nil
	}
	out := make([]telemetry.Event, 0, min(n, len(d.Channel.Events)))
	for _, ev := range d.Channel.Events {
		if len(out) >= n {
			break
		}
		if len(types) > 0 && !slices.Contains(types, ev.Type) {
			continue
		}
		out = append(out, ev)
	}
	return out
}
