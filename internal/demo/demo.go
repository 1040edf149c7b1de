// Package demo simulates a drought response backend so feedd, feedctl, and any
// dashboard can be exercised end-to-end without the real service. A World holds
// villages, tankers, and requests; the Runner advances it on an interval and
// pushes the resulting events through the hub.
package demo

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/large-farva/livefeed/internal/telemetry"
)

// Broadcaster fans an event out to connected clients. *hub.Hub satisfies it.
type Broadcaster interface {
	Broadcast(eventType string, data map[string]any)
}

// Runner broadcasts simulated events on a configurable interval.
type Runner struct {
	World    *World
	Hub      Broadcaster
	Interval time.Duration // time between simulated moves
	Clock    clockwork.Clock
	Logger   *log.Logger
	Verbose  bool // log every simulated move, not just startup
}

// New creates a demo runner with a sensible default interval.
func New(world *World, hub Broadcaster) *Runner {
	return &Runner{
		World:    world,
		Hub:      hub,
		Interval: 4 * time.Second,
	}
}

// Run kicks off the demo loop. It sends the current stats after a short
// settling delay, then on every tick advances the world by one move and
// broadcasts that event followed by fresh stats, until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	clock := r.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := r.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	interval := r.Interval
	if interval <= 0 {
		interval = 4 * time.Second
	}

	logger.Printf("demo: simulating %d villages, one move every %s", len(r.World.villages), interval)

	t := clock.NewTicker(interval)
	defer t.Stop()

	if !sleepOrCancel(ctx, clock, time.Second) {
		return
	}
	r.Hub.Broadcast(telemetry.EventStatsUpdate, r.World.Stats())

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			typ, data := r.World.Step(clock.Now())
			if r.Verbose {
				logger.Printf("demo: %s", typ)
			}
			r.Hub.Broadcast(typ, data)
			r.Hub.Broadcast(telemetry.EventStatsUpdate, r.World.Stats())
		}
	}
}

func sleepOrCancel(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	t := clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}
