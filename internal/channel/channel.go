// Package channel keeps a WebSocket to the dashboard's push endpoint open for
// as long as its owner is interested. Drops are healed by redialling after a
// delay, a bare "ping" text frame is written on a fixed cadence while the link
// is up, and every interesting inbound event is kept in a bounded,
// newest-first log.
//
// Liveness is one-directional: the server's pong replies are not awaited.
// A dead peer is noticed only when the transport reports the close.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/large-farva/livefeed/internal/metrics"
	"github.com/large-farva/livefeed/internal/telemetry"
)

// Defaults used whenever Options leaves a field zero.
const (
	DefaultEventCap       = 50
	DefaultReconnectDelay = 5 * time.Second
	DefaultPingInterval   = 20 * time.Second

	writeWait    = 3 * time.Second
	maxFrameSize = 1 << 20
)

// Phase is the connection state machine position.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Dialer opens the underlying WebSocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// State is a snapshot of the channel. Events and LastEvent are never mutated
// after publication, so snapshots may be shared freely.
type State struct {
	Phase     Phase
	Connected bool

	Events    []telemetry.Event // newest first, at most EventCap entries
	LastEvent *telemetry.Event  // newest non-management event, nil until one arrives

	Received   int // events accepted since Start, including ones since evicted
	Reconnects int // redial attempts after the first connect attempt
	Discarded  int // frames dropped because they did not parse
}

// Options configures a Channel. URL is required.
type Options struct {
	URL            string
	EventCap       int
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	Backoff        BackoffOptions

	Dialer Dialer
	Header http.Header
	Clock  clockwork.Clock
	Logger *log.Logger

	// OnChange receives every new snapshot, in mutation order. It must not
	// call Stop.
	OnChange func(State)
}

// Channel owns one connection, its ping ticker, and its reconnect timer.
type Channel struct {
	url      string
	eventCap int
	ping     time.Duration
	policy   backoff.BackOff
	dialer   Dialer
	header   http.Header
	clock    clockwork.Clock
	log      *log.Logger
	onChange func(State)

	mu     sync.Mutex
	state  State
	rev    uint64
	cancel context.CancelFunc

	stopped atomic.Bool
	emitMu  sync.Mutex
	emitted uint64

	wg sync.WaitGroup
}

var (
	ErrStarted = errors.New("channel: already started")
	ErrStopped = errors.New("channel: stopped")
)

// New validates opts and returns a disconnected channel.
func New(opts Options) (*Channel, error) {
	if opts.URL == "" {
		return nil, errors.New("channel: url must not be empty")
	}
	if opts.EventCap == 0 {
		opts.EventCap = DefaultEventCap
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.EventCap < 0 {
		return nil, errors.New("channel: event cap must be > 0")
	}
	if opts.ReconnectDelay < 0 {
		return nil, errors.New("channel: reconnect delay must be > 0")
	}
	if opts.PingInterval < 0 {
		return nil, errors.New("channel: ping interval must be > 0")
	}
	policy, err := newPolicy(opts.ReconnectDelay, opts.Backoff)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		url:      opts.URL,
		eventCap: opts.EventCap,
		ping:     opts.PingInterval,
		policy:   policy,
		dialer:   opts.Dialer,
		header:   opts.Header,
		clock:    opts.Clock,
		log:      opts.Logger,
		onChange: opts.OnChange,
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.log == nil {
		c.log = log.New(io.Discard, "", 0)
	}
	return c, nil
}

// URL returns the address this channel dials.
func (c *Channel) URL() string {
	return c.url
}

// Start begins connecting in the background. Cancelling ctx has the same
// effect as Stop.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped.Load() {
		return ErrStopped
	}
	if c.cancel != nil {
		return ErrStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(runCtx)
	return nil
}

// Stop closes the connection, cancels the ping ticker and any pending
// reconnect, and waits for the background goroutines to exit. The final
// state reads as disconnected and no further changes are published.
func (c *Channel) Stop() {
	c.mu.Lock()
	c.stopped.Store(true)
	c.state.Phase = Disconnected
	c.state.Connected = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	metrics.ChannelConnected.WithLabelValues(c.url).Set(0)

	c.emitMu.Lock()
	c.emitMu.Unlock()
}

// State returns the current snapshot.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// run is the reconnect loop: dial, serve the session until it ends, wait,
// repeat. It never gives up on its own.
func (c *Channel) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		c.setPhase(Connecting)
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err == nil {
			c.policy.Reset()
			c.session(ctx, conn)
		} else if ctx.Err() == nil {
			c.log.Printf("channel %s: connect failed: %v", c.url, err)
		}
		c.setPhase(Disconnected)

		if ctx.Err() != nil {
			return
		}

		delay := c.policy.NextBackOff()
		if delay == backoff.Stop {
			delay = DefaultReconnectDelay
		}
		c.log.Printf("channel %s: reconnecting in %s", c.url, delay)

		timer := c.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		metrics.ChannelReconnects.WithLabelValues(c.url).Inc()
		c.mutate(func(s *State) { s.Reconnects++ })
	}
}

// session serves one live connection. It is the only writer on conn.
func (c *Channel) session(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)

	c.setPhase(Connected)
	c.log.Printf("channel %s: connected", c.url)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		c.readLoop(conn)
	}()

	ping := c.clock.NewTicker(c.ping)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second),
			)
			_ = conn.Close()
			<-readDone
			return

		case <-readDone:
			_ = conn.Close()
			c.log.Printf("channel %s: connection lost", c.url)
			return

		case <-ping.Chan():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(telemetry.Ping)); err != nil {
				c.log.Printf("channel %s: ping failed: %v", c.url, err)
				_ = conn.Close()
				<-readDone
				return
			}
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Printf("channel %s: read: %v", c.url, err)
			}
			return
		}
		c.handle(frame)
	}
}

// handle decodes one inbound frame. Malformed frames and management events
// leave the event log untouched.
func (c *Channel) handle(frame []byte) {
	ev, err := telemetry.Decode(frame, c.clock.Now())
	switch {
	case err != nil:
		metrics.ChannelFramesReceived.WithLabelValues(c.url, "discarded").Inc()
		c.mutate(func(s *State) { s.Discarded++ })

	case telemetry.IsManagement(ev.Type):
		metrics.ChannelFramesReceived.WithLabelValues(c.url, "management").Inc()

	default:
		metrics.ChannelFramesReceived.WithLabelValues(c.url, "accepted").Inc()
		c.mutate(func(s *State) {
			s.Events = prepend(s.Events, ev, c.eventCap)
			s.Received++
			last := ev
			s.LastEvent = &last
		})
	}
}

// prepend returns a fresh slice with ev in front of events, truncated to
// limit. The input slice is left untouched.
func prepend(events []telemetry.Event, ev telemetry.Event, limit int) []telemetry.Event {
	keep := len(events)
	if keep > limit-1 {
		keep = limit - 1
	}
	out := make([]telemetry.Event, 0, keep+1)
	out = append(out, ev)
	return append(out, events[:keep]...)
}

func (c *Channel) setPhase(p Phase) {
	changed := c.mutate(func(s *State) {
		s.Phase = p
		s.Connected = p == Connected
	})
	if !changed {
		return
	}
	if p == Connected {
		metrics.ChannelConnected.WithLabelValues(c.url).Set(1)
	} else {
		metrics.ChannelConnected.WithLabelValues(c.url).Set(0)
	}
}

// mutate applies fn under the lock and publishes the result. It reports false
// without touching state once the channel has stopped.
func (c *Channel) mutate(fn func(*State)) bool {
	c.mu.Lock()
	if c.stopped.Load() {
		c.mu.Unlock()
		return false
	}
	fn(&c.state)
	c.rev++
	rev, snap := c.rev, c.state
	c.mu.Unlock()

	c.emit(rev, snap)
	return true
}

func (c *Channel) emit(rev uint64, snap State) {
	if c.onChange == nil {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.stopped.Load() || rev <= c.emitted {
		return
	}
	c.emitted = rev
	c.onChange(snap)
}
