package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/livefeed/internal/metrics"
	"github.com/large-farva/livefeed/internal/telemetry"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// testServer accepts WebSocket connections and hands each one to the test.
// Frames the client sends are collected in received; closed fires when a
// client connection goes away.
type testServer struct {
	*httptest.Server
	conns    chan *websocket.Conn
	received chan string
	closed   chan struct{}
	accepted atomic.Int32

	mu  sync.Mutex
	all []*websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		conns:    make(chan *websocket.Conn, 8),
		received: make(chan string, 64),
		closed:   make(chan struct{}, 8),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.accepted.Add(1)
		ts.mu.Lock()
		ts.all = append(ts.all, conn)
		ts.mu.Unlock()

		go func() {
			defer func() { ts.closed <- struct{}{} }()
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				select {
				case ts.received <- string(msg):
				default:
				}
			}
		}()
		ts.conns <- conn
	}))

	t.Cleanup(func() {
		ts.mu.Lock()
		for _, c := range ts.all {
			_ = c.Close()
		}
		ts.mu.Unlock()
		ts.Close()
	})
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func (ts *testServer) next(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ts.conns:
		return c
	case <-time.After(waitFor):
		t.Fatal("no client connection arrived")
		return nil
	}
}

func send(t *testing.T, conn *websocket.Conn, frames ...string) {
	t.Helper()
	for _, f := range frames {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(f)))
	}
}

func newChannel(t *testing.T, url string, mod func(*Options)) (*Channel, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts := Options{URL: url, Clock: clock}
	if mod != nil {
		mod(&opts)
	}
	ch, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, ch.Start(context.Background()))
	t.Cleanup(ch.Stop)
	return ch, clock
}

func connected(ch *Channel) func() bool {
	return func() bool { return ch.State().Connected }
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"empty url", Options{}},
		{"negative cap", Options{URL: "ws://x/ws", EventCap: -1}},
		{"negative delay", Options{URL: "ws://x/ws", ReconnectDelay: -time.Second}},
		{"negative ping", Options{URL: "ws://x/ws", PingInterval: -time.Second}},
		{"jitter too large", Options{URL: "ws://x/ws", Backoff: BackoffOptions{Exponential: true, Jitter: 1}}},
		{"max below delay", Options{URL: "ws://x/ws", Backoff: BackoffOptions{Exponential: true, Max: time.Second}}},
		{"shrinking multiplier", Options{URL: "ws://x/ws", Backoff: BackoffOptions{Exponential: true, Multiplier: 0.5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := New(tt.opts)
			assert.Error(t, err)
			assert.Nil(t, ch)
		})
	}
}

func TestChannel_InitialState(t *testing.T) {
	ch, err := New(Options{URL: "ws://127.0.0.1:1/ws"})
	require.NoError(t, err)

	st := ch.State()
	assert.Equal(t, Disconnected, st.Phase)
	assert.False(t, st.Connected)
	assert.Empty(t, st.Events)
	assert.Nil(t, st.LastEvent)
}

func TestChannel_FiltersManagementEvents(t *testing.T) {
	ts := newTestServer(t)
	ch, clock := newChannel(t, ts.wsURL(), nil)
	conn := ts.next(t)

	require.Eventually(t, connected(ch), waitFor, tick)

	send(t, conn,
		`{"type":"connected","data":{"message":"live feed connected"}}`,
		`{"type":"new_request","data":{"id":7}}`,
		`{"type":"pong"}`,
	)

	management := metrics.ChannelFramesReceived.WithLabelValues(ts.wsURL(), "management")
	require.Eventually(t, func() bool { return testutil.ToFloat64(management) == 2 }, waitFor, tick)

	st := ch.State()
	require.Len(t, st.Events, 1)
	assert.Equal(t, telemetry.EventNewRequest, st.Events[0].Type)
	assert.Equal(t, float64(7), st.Events[0].Data["id"])
	assert.Equal(t, clock.Now(), st.Events[0].Timestamp)
	require.NotNil(t, st.LastEvent)
	assert.Equal(t, telemetry.EventNewRequest, st.LastEvent.Type)
}

func TestChannel_BurstIsCappedNewestFirst(t *testing.T) {
	ts := newTestServer(t)
	ch, _ := newChannel(t, ts.wsURL(), nil)
	conn := ts.next(t)
	require.Eventually(t, connected(ch), waitFor, tick)

	for i := 0; i < 60; i++ {
		send(t, conn, fmt.Sprintf(`{"type":"stats_update","data":{"seq":%d}}`, i))
	}

	require.Eventually(t, func() bool {
		last := ch.State().LastEvent
		return last != nil && last.Data["seq"] == float64(59)
	}, waitFor, tick)

	st := ch.State()
	require.Len(t, st.Events, DefaultEventCap)
	assert.Equal(t, 60, st.Received)
	for i, ev := range st.Events {
		assert.Equal(t, float64(59-i), ev.Data["seq"], "index %d", i)
	}
}

func TestChannel_CustomEventCap(t *testing.T) {
	ts := newTestServer(t)
	ch, _ := newChannel(t, ts.wsURL(), func(o *Options) { o.EventCap = 3 })
	conn := ts.next(t)
	require.Eventually(t, connected(ch), waitFor, tick)

	for i := 0; i < 2; i++ {
		send(t, conn, fmt.Sprintf(`{"type":"tanker_update","data":{"seq":%d}}`, i))
	}
	require.Eventually(t, func() bool { return len(ch.State().Events) == 2 }, waitFor, tick)

	for i := 2; i < 5; i++ {
		send(t, conn, fmt.Sprintf(`{"type":"tanker_update","data":{"seq":%d}}`, i))
	}
	require.Eventually(t, func() bool {
		last := ch.State().LastEvent
		return last != nil && last.Data["seq"] == float64(4)
	}, waitFor, tick)

	st := ch.State()
	require.Len(t, st.Events, 3)
	assert.Equal(t, float64(4), st.Events[0].Data["seq"])
	assert.Equal(t, float64(2), st.Events[2].Data["seq"])
}

func TestChannel_MalformedFramesAreDiscarded(t *testing.T) {
	ts := newTestServer(t)
	ch, _ := newChannel(t, ts.wsURL(), nil)
	conn := ts.next(t)
	require.Eventually(t, connected(ch), waitFor, tick)

	send(t, conn, `not json`, `{"data":{}}`, `{"type":"alert_escalation","data":{"village":"Patoda"}}`)

	require.Eventually(t, func() bool { return ch.State().LastEvent != nil }, waitFor, tick)

	st := ch.State()
	assert.Equal(t, 2, st.Discarded)
	assert.Len(t, st.Events, 1)
	assert.True(t, st.Connected, "connection survives malformed frames")
	assert.Equal(t, int32(1), ts.accepted.Load())
}

func TestChannel_SendsPingEveryInterval(t *testing.T) {
	ts := newTestServer(t)
	ch, clock := newChannel(t, ts.wsURL(), nil)
	ts.next(t)
	require.Eventually(t, connected(ch), waitFor, tick)

	clock.Advance(DefaultPingInterval - time.Second)
	select {
	case msg := <-ts.received:
		t.Fatalf("unexpected early frame %q", msg)
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(time.Second)
	select {
	case msg := <-ts.received:
		assert.Equal(t, telemetry.Ping, msg)
	case <-time.After(waitFor):
		t.Fatal("no ping received")
	}

	clock.Advance(DefaultPingInterval)
	select {
	case msg := <-ts.received:
		assert.Equal(t, telemetry.Ping, msg)
	case <-time.After(waitFor):
		t.Fatal("no second ping received")
	}
}

func TestChannel_ReconnectsAfterDelay(t *testing.T) {
	ts := newTestServer(t)
	ch, clock := newChannel(t, ts.wsURL(), nil)
	conn := ts.next(t)
	require.Eventually(t, connected(ch), waitFor, tick)

	send(t, conn, `{"type":"new_request","data":{"id":1}}`)
	require.Eventually(t, func() bool { return ch.State().LastEvent != nil }, waitFor, tick)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return !ch.State().Connected }, waitFor, tick)
	clock.BlockUntil(1)

	clock.Advance(DefaultReconnectDelay - time.Second)
	assert.Never(t, connected(ch), 100*time.Millisecond, tick)
	assert.Equal(t, int32(1), ts.accepted.Load())

	clock.Advance(time.Second)
	ts.next(t)
	require.Eventually(t, connected(ch), waitFor, tick)

	st := ch.State()
	assert.Equal(t, 1, st.Reconnects)
	assert.Len(t, st.Events, 1, "event log survives reconnects")
}

// flakyDialer fails the first n dials and then delegates to the real dialer.
type flakyDialer struct {
	failures atomic.Int32
	calls    atomic.Int32
}

func (d *flakyDialer) DialContext(ctx context.Context, u string, h http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls.Add(1)
	if d.failures.Add(-1) >= 0 {
		return nil, nil, errors.New("connection refused")
	}
	return websocket.DefaultDialer.DialContext(ctx, u, h)
}

func TestChannel_RetriesFailedDial(t *testing.T) {
	ts := newTestServer(t)
	dialer := &flakyDialer{}
	dialer.failures.Store(2)
	ch, clock := newChannel(t, ts.wsURL(), func(o *Options) { o.Dialer = dialer })

	for attempt := int32(1); attempt <= 2; attempt++ {
		require.Eventually(t, func() bool { return dialer.calls.Load() == attempt }, waitFor, tick)
		clock.BlockUntil(1)
		assert.Equal(t, Disconnected, ch.State().Phase)
		clock.Advance(DefaultReconnectDelay)
	}

	ts.next(t)
	require.Eventually(t, connected(ch), waitFor, tick)
	assert.Equal(t, 2, ch.State().Reconnects)
}

func TestChannel_ExponentialBackoffBetweenFailures(t *testing.T) {
	dialer := &flakyDialer{}
	dialer.failures.Store(100)
	_, clock := newChannel(t, "ws://127.0.0.1:1/ws", func(o *Options) {
		o.Dialer = dialer
		o.ReconnectDelay = time.Second
		o.Backoff = BackoffOptions{Exponential: true, Max: 4 * time.Second}
	})

	// Delays are 1s, 2s, 4s, 4s.
	for i, delay := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second} {
		calls := int32(i + 1)
		require.Eventually(t, func() bool { return dialer.calls.Load() == calls }, waitFor, tick)
		clock.BlockUntil(1)

		clock.Advance(delay - time.Millisecond)
		assert.Never(t, func() bool { return dialer.calls.Load() > calls }, 30*time.Millisecond, tick)
		clock.Advance(time.Millisecond)
	}
}

func TestChannel_StopClosesConnection(t *testing.T) {
	ts := newTestServer(t)
	ch, _ := newChannel(t, ts.wsURL(), nil)
	ts.next(t)
	require.Eventually(t, connected(ch), waitFor, tick)

	ch.Stop()

	select {
	case <-ts.closed:
	case <-time.After(waitFor):
		t.Fatal("server never saw the close")
	}
	st := ch.State()
	assert.False(t, st.Connected)
	assert.Equal(t, Disconnected, st.Phase)
}

func TestChannel_StopCancelsPendingReconnect(t *testing.T) {
	dialer := &flakyDialer{}
	dialer.failures.Store(100)
	ch, clock := newChannel(t, "ws://127.0.0.1:1/ws", func(o *Options) { o.Dialer = dialer })

	require.Eventually(t, func() bool { return dialer.calls.Load() == 1 }, waitFor, tick)
	clock.BlockUntil(1)

	ch.Stop()
	clock.Advance(time.Minute)

	assert.Never(t, func() bool { return dialer.calls.Load() > 1 }, 100*time.Millisecond, tick)
	assert.ErrorIs(t, ch.Start(context.Background()), ErrStopped)
}

func TestChannel_NoChangesAfterStop(t *testing.T) {
	ts := newTestServer(t)

	var mu sync.Mutex
	var changes int
	ch, clock := newChannel(t, ts.wsURL(), func(o *Options) {
		o.OnChange = func(State) {
			mu.Lock()
			changes++
			mu.Unlock()
		}
	})
	conn := ts.next(t)
	require.Eventually(t, connected(ch), waitFor, tick)
	send(t, conn, `{"type":"new_request","data":{"id":1}}`)
	require.Eventually(t, func() bool { return ch.State().LastEvent != nil }, waitFor, tick)

	ch.Stop()
	frozen := ch.State()
	mu.Lock()
	atStop := changes
	mu.Unlock()

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"new_request","data":{"id":2}}`))
	clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, frozen, ch.State())
	mu.Lock()
	assert.Equal(t, atStop, changes)
	mu.Unlock()
}

func TestChannel_EventsOnlyArriveWhileConnected(t *testing.T) {
	ts := newTestServer(t)

	var mu sync.Mutex
	var snaps []State
	ch, _ := newChannel(t, ts.wsURL(), func(o *Options) {
		o.OnChange = func(st State) {
			mu.Lock()
			snaps = append(snaps, st)
			mu.Unlock()
		}
	})

	// Write as soon as the server accepts, without waiting for the client.
	conn := ts.next(t)
	send(t, conn,
		`{"type":"new_request","data":{"id":1}}`,
		`{"type":"new_request","data":{"id":2}}`,
	)
	require.Eventually(t, func() bool { return ch.State().Received == 2 }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	for i, st := range snaps {
		if st.Received > 0 {
			assert.Equal(t, Connected, st.Phase, "snapshot %d", i)
		}
	}
}

func TestChannel_StartTwice(t *testing.T) {
	ts := newTestServer(t)
	ch, _ := newChannel(t, ts.wsURL(), nil)
	assert.ErrorIs(t, ch.Start(context.Background()), ErrStarted)
}

func TestPrepend_DoesNotAliasInput(t *testing.T) {
	base := []telemetry.Event{{Type: "a"}, {Type: "b"}}
	out := prepend(base, telemetry.Event{Type: "c"}, 2)

	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].Type)
	assert.Equal(t, "a", out[1].Type)
	assert.Equal(t, "a", base[0].Type)
	assert.Equal(t, "b", base[1].Type)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "CONNECTED", Connected.String())
	assert.Equal(t, "CONNECTING", Connecting.String())
	assert.Equal(t, "DISCONNECTED", Disconnected.String())
	assert.Equal(t, "Phase(9)", Phase(9).String())
}
