// Package poll runs a fetch operation on a fixed cadence and publishes the
// result as a State snapshot. A second, independent one-second ticker drives the
// cosmetic countdown shown next to the "last updated" time; the fetch itself is
// triggered only by the interval ticker so the two can never double-fire.
//
// Fetch failures are never returned to the caller. They land in State.Err and
// the previous data stays in place, so a dashboard degrades to stale figures
// instead of going blank.
package poll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/large-farva/livefeed/internal/metrics"
)

// Fetcher reads remote state. It must be safe to call repeatedly and, when
// Options.Timeout is set, should honour ctx.
type Fetcher[T any] func(ctx context.Context) (T, error)

// RacePolicy decides which of several overlapping fetches may update State.
type RacePolicy int

const (
	// LastResolved lets whichever fetch completes last win.
	LastResolved RacePolicy = iota
	// LastStarted discards results from a fetch that started before the one
	// whose result is already shown.
	LastStarted
)

func (p RacePolicy) String() string {
	switch p {
	case LastResolved:
		return "last-resolved"
	case LastStarted:
		return "last-started"
	default:
		return fmt.Sprintf("RacePolicy(%d)", int(p))
	}
}

// ParseRacePolicy accepts the names produced by RacePolicy.String.
func ParseRacePolicy(s string) (RacePolicy, error) {
	switch s {
	case "", "last-resolved":
		return LastResolved, nil
	case "last-started":
		return LastStarted, nil
	}
	return 0, fmt.Errorf("poll: unknown race policy %q", s)
}

var (
	ErrStarted = errors.New("poll: scheduler already started")
	ErrStopped = errors.New("poll: scheduler stopped")
)

// State is a point-in-time copy of what the scheduler knows. Data is copied
// shallowly; callers must not mutate maps or slices inside it.
type State[T any] struct {
	Data    T
	HasData bool // false until the first success, unless seeded

	Loading     bool
	Err         string    // empty when the most recent attempt has not failed
	LastUpdated time.Time // zero until the first success

	Countdown int // seconds until the next scheduled fetch, in [0, Interval]
	Interval  int // configured interval in seconds
}

// Options configures a Scheduler. Interval is required.
type Options[T any] struct {
	Name     string        // label for logs and metrics
	Interval time.Duration // whole seconds, > 0
	Initial  *T            // placeholder data shown until the first success
	Timeout  time.Duration // per-fetch deadline, 0 = none
	Policy   RacePolicy

	Clock  clockwork.Clock
	Logger *log.Logger

	// OnChange receives every new snapshot, in mutation order. It must not
	// call Stop.
	OnChange func(State[T])
}

// Scheduler owns the two tickers and the published State.
type Scheduler[T any] struct {
	fetch    Fetcher[T]
	name     string
	interval time.Duration
	timeout  time.Duration
	policy   RacePolicy
	clock    clockwork.Clock
	log      *log.Logger
	onChange func(State[T])

	mu       sync.Mutex
	state    State[T]
	rev      uint64 // bumped on every mutation
	inFlight int
	autoBusy bool
	started  uint64 // generation of the newest fetch started
	applied  uint64 // generation whose outcome is currently shown
	ctx      context.Context
	cancel   context.CancelFunc

	stopped atomic.Bool
	emitMu  sync.Mutex
	emitted uint64

	wg sync.WaitGroup
}

// New validates opts and returns an idle scheduler. A nil fetcher or an
// interval that is not a positive whole number of seconds is a caller bug and
// is reported here rather than at runtime.
func New[T any](fetch Fetcher[T], opts Options[T]) (*Scheduler[T], error) {
	if fetch == nil {
		return nil, errors.New("poll: fetcher must not be nil")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("poll: interval must be > 0, got %s", opts.Interval)
	}
	if opts.Interval%time.Second != 0 {
		return nil, fmt.Errorf("poll: interval must be whole seconds, got %s", opts.Interval)
	}
	if opts.Timeout < 0 {
		return nil, errors.New("poll: timeout must be >= 0")
	}

	s := &Scheduler[T]{
		fetch:    fetch,
		name:     opts.Name,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		policy:   opts.Policy,
		clock:    opts.Clock,
		log:      opts.Logger,
		onChange: opts.OnChange,
	}
	if s.name == "" {
		s.name = "default"
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.log == nil {
		s.log = log.New(io.Discard, "", 0)
	}

	secs := int(opts.Interval / time.Second)
	s.state.Interval = secs
	s.state.Countdown = secs
	if opts.Initial != nil {
		s.state.Data = *opts.Initial
		s.state.HasData = true
	}
	return s, nil
}

// Start fires an immediate fetch and arms the interval and countdown tickers.
// Cancelling ctx has the same effect as Stop.
func (s *Scheduler[T]) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.ctx != nil {
		s.mu.Unlock()
		return ErrStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	fetchTicker := s.clock.NewTicker(s.interval)
	countdownTicker := s.clock.NewTicker(time.Second)
	s.wg.Add(1)
	runCtx := s.ctx
	s.mu.Unlock()

	go s.loop(runCtx, fetchTicker, countdownTicker)
	s.attempt(true)
	return nil
}

// Refresh fetches immediately without disturbing the ticker phase. An
// automatic fetch already in flight keeps running; both may race.
func (s *Scheduler[T]) Refresh() {
	s.attempt(false)
}

// Stop cancels both tickers and any in-flight fetch context. Once Stop returns
// the state is frozen and OnChange is not called again.
func (s *Scheduler[T]) Stop() {
	s.mu.Lock()
	s.stopped.Store(true)
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	// Wait out an OnChange call that began before the flag flipped.
	s.emitMu.Lock()
	s.emitMu.Unlock()
}

// State returns the current snapshot.
func (s *Scheduler[T]) State() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler[T]) loop(ctx context.Context, fetchTicker, countdownTicker clockwork.Ticker) {
	defer s.wg.Done()
	defer fetchTicker.Stop()
	defer countdownTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopped.Store(true)
			return
		case <-fetchTicker.Chan():
			s.attempt(true)
		case <-countdownTicker.Chan():
			s.tick()
		}
	}
}

// tick advances the cosmetic countdown, wrapping back to the interval.
func (s *Scheduler[T]) tick() {
	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		return
	}
	if s.state.Countdown <= 0 {
		s.state.Countdown = s.state.Interval
	} else {
		s.state.Countdown--
	}
	rev, snap := s.commit()
	s.mu.Unlock()

	s.emit(rev, snap)
}

// attempt records the start of a fetch and runs it in the background. At most
// one automatic fetch runs at a time; manual refreshes are not limited.
func (s *Scheduler[T]) attempt(auto bool) {
	s.mu.Lock()
	if s.stopped.Load() || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	if auto && s.autoBusy {
		s.mu.Unlock()
		metrics.FetchSkipped.WithLabelValues(s.name).Inc()
		s.log.Printf("poll %s: previous fetch still running, skipping tick", s.name)
		return
	}
	if auto {
		s.autoBusy = true
	}
	s.started++
	gen := s.started
	s.inFlight++
	s.state.Loading = true
	s.state.Err = ""
	s.state.Countdown = s.state.Interval
	ctx := s.ctx
	rev, snap := s.commit()
	s.mu.Unlock()

	s.emit(rev, snap)
	go s.run(ctx, gen, auto)
}

func (s *Scheduler[T]) run(ctx context.Context, gen uint64, auto bool) {
	began := time.Now()
	v, err := s.call(ctx)
	metrics.FetchDuration.WithLabelValues(s.name).Observe(time.Since(began).Seconds())
	if err != nil {
		metrics.FetchTotal.WithLabelValues(s.name, "error").Inc()
	} else {
		metrics.FetchTotal.WithLabelValues(s.name, "success").Inc()
	}

	s.mu.Lock()
	if auto {
		s.autoBusy = false
	}
	s.inFlight--
	if s.stopped.Load() {
		s.mu.Unlock()
		return
	}
	s.state.Loading = s.inFlight > 0

	if s.policy == LastStarted && gen < s.applied {
		s.log.Printf("poll %s: dropping result of superseded fetch #%d", s.name, gen)
	} else {
		s.applied = gen
		if err != nil {
			msg := err.Error()
			if msg == "" {
				msg = "fetch failed"
			}
			s.state.Err = msg
			s.log.Printf("poll %s: fetch failed: %s", s.name, msg)
		} else {
			s.state.Data = v
			s.state.HasData = true
			s.state.Err = ""
			s.state.LastUpdated = s.clock.Now()
			s.state.Countdown = s.state.Interval
		}
	}
	rev, snap := s.commit()
	s.mu.Unlock()

	s.emit(rev, snap)
}

// call invokes the fetcher under the optional timeout and turns a panic into
// an ordinary failure.
func (s *Scheduler[T]) call(ctx context.Context) (v T, err error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return s.fetch(ctx)
}

// commit must be called with mu held.
func (s *Scheduler[T]) commit() (uint64, State[T]) {
	s.rev++
	return s.rev, s.state
}

// emit delivers snap unless a newer revision already went out or the
// scheduler has stopped.
func (s *Scheduler[T]) emit(rev uint64, snap State[T]) {
	if s.onChange == nil {
		return
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.stopped.Load() || rev <= s.emitted {
		return
	}
	s.emitted = rev
	s.onChange(snap)
}
