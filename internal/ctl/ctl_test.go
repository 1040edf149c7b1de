package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/livefeed/internal/api"
	"github.com/large-farva/livefeed/internal/app"
	"github.com/large-farva/livefeed/internal/channel"
	"github.com/large-farva/livefeed/internal/config"
	"github.com/large-farva/livefeed/internal/poll"
	"github.com/large-farva/livefeed/internal/telemetry"
	"github.com/large-farva/livefeed/internal/view"
)

// syncBuffer guards a bytes.Buffer for commands that write from callbacks.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureStdout(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := stdout
	stdout = buf
	t.Cleanup(func() { stdout = prev })
	return buf
}

func newBackend(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Demo.Enabled = false
	cfg.Demo.Villages = 12
	srv := httptest.NewServer(app.New(app.Options{Cfg: cfg, Seed: 7}).Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func ev(typ string, at time.Time, data map[string]any) telemetry.Event {
	return telemetry.Event{Type: typ, Timestamp: at, Data: data}
}

func TestFormatCount(t *testing.T) {
	cases := map[int]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		52340:    "52,340",
		1234567:  "1,234,567",
		-1234567: "-1,234,567",
	}
	for n, want := range cases {
		assert.Equal(t, want, formatCount(n), "formatCount(%d)", n)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "3m 7s", formatDuration(3*time.Minute+7*time.Second))
	assert.Equal(t, "2h 14m 8s", formatDuration(2*time.Hour+14*time.Minute+8*time.Second))
}

func TestProgressBar(t *testing.T) {
	captureStdout(t) // not a terminal, so no color codes

	assert.Equal(t, "=====     ", progressBar(50, 10, ""))
	assert.Equal(t, "==========", progressBar(150, 10, ""))
	assert.Equal(t, "          ", progressBar(-5, 10, ""))
}

func TestStr(t *testing.T) {
	m := map[string]any{"n": float64(12), "f": 41.5, "s": "Beed", "nil": nil}
	assert.Equal(t, "12", str(m, "n"))
	assert.Equal(t, "41.5", str(m, "f"))
	assert.Equal(t, "Beed", str(m, "s"))
	assert.Equal(t, "?", str(m, "nil"))
	assert.Equal(t, "?", str(m, "missing"))
	assert.Equal(t, "?", str(nil, "missing"))
}

func TestNewEvents(t *testing.T) {
	now := time.Now()
	e1 := ev(telemetry.EventNewRequest, now, nil)
	e2 := ev(telemetry.EventTankerUpdate, now.Add(time.Second), nil)
	e3 := ev(telemetry.EventStatsUpdate, now.Add(2*time.Second), nil)

	st := channel.State{Received: 3, Events: []telemetry.Event{e3, e2, e1}}

	got := newEvents(st, 1)
	require.Len(t, got, 2)
	assert.Equal(t, telemetry.EventTankerUpdate, got[0].Type, "oldest first")
	assert.Equal(t, telemetry.EventStatsUpdate, got[1].Type)

	assert.Empty(t, newEvents(st, 3))
	assert.Len(t, newEvents(st, 0), 3)

	// More arrivals than the log holds: only what is still retained comes back.
	st.Received = 10
	assert.Len(t, newEvents(st, 2), 3)
}

func TestRenderEvent_KnownTypes(t *testing.T) {
	out := captureStdout(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	renderEvent(ev(telemetry.EventNewRequest, now, map[string]any{
		"village": "Shirur", "district": "Beed", "urgency": "high",
	}))
	renderEvent(ev(telemetry.EventTankerUpdate, now, map[string]any{
		"registration": "MH-23-T-0101", "from": "available", "status": "on_trip", "village": "Ashti",
	}))
	renderEvent(ev(telemetry.EventAlertEscalation, now, map[string]any{
		"village": "Patoda", "district": "Beed", "from": "warning", "to": "critical", "wsi": float64(71),
	}))
	renderEvent(ev(telemetry.EventStatsUpdate, now, map[string]any{
		"pending_requests": float64(4), "critical_villages": float64(2), "avg_wsi": 48.2,
		"tankers": map[string]any{"available": float64(3)},
	}))
	renderEvent(ev("something_else", now, map[string]any{"k": "v"}))

	s := out.String()
	assert.Contains(t, s, "NEW REQUEST")
	assert.Contains(t, s, "Shirur, Beed")
	assert.Contains(t, s, "MH-23-T-0101 available -> on_trip  Ashti")
	assert.Contains(t, s, "warning -> CRITICAL")
	assert.Contains(t, s, "wsi 71")
	assert.Contains(t, s, "pending 4  critical 2  avg wsi 48.2  tankers free 3")
	assert.Contains(t, s, `{"k":"v"}`)
}

func TestStatus(t *testing.T) {
	url := newBackend(t)
	out := captureStdout(t)

	require.NoError(t, Status(url, false))
	s := out.String()
	assert.Contains(t, s, "LIVEFEED STATUS")
	assert.Contains(t, s, "livefeed")
	assert.Contains(t, s, "static")
}

func TestHealth_Unreachable(t *testing.T) {
	out := captureStdout(t)

	require.NoError(t, Health("http://127.0.0.1:1", true))
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out.String()), &got))
	assert.Equal(t, false, got["healthy"])
	assert.NotEmpty(t, got["error"])
}

func TestHealth_RendersChecks(t *testing.T) {
	url := newBackend(t)
	out := captureStdout(t)

	require.NoError(t, Health(url, false))
	s := out.String()
	assert.Contains(t, s, "HEALTHY")
	assert.NotContains(t, s, "UNHEALTHY")
	assert.Contains(t, s, "hub")
	assert.Contains(t, s, "clients=0")
	assert.Contains(t, s, "enabled=false")
}

func TestHealth_UnhealthyBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Demo.Enabled = false
	srv := httptest.NewServer(app.New(app.Options{
		Cfg:        cfg,
		ConfigPath: t.TempDir() + "/missing.toml",
		Seed:       7,
	}).Handler())
	t.Cleanup(srv.Close)

	out := captureStdout(t)
	require.NoError(t, Health(srv.URL, false))
	s := out.String()
	assert.Contains(t, s, "UNHEALTHY")
	assert.Contains(t, s, "FAIL config_file")

	jsonOut := captureStdout(t)
	require.NoError(t, Health(srv.URL, true))
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(jsonOut.String()), &got))
	assert.Equal(t, false, got["healthy"])
	assert.Contains(t, got["checks"], "config_file")
	assert.NotContains(t, got, "error")
}

func TestOverview_JSON(t *testing.T) {
	url := newBackend(t)
	out := captureStdout(t)

	require.NoError(t, Overview(url, OverviewOptions{Limit: 3, JSON: true}))

	var got struct {
		Overview   api.Overview   `json:"overview"`
		Priorities []api.Priority `json:"priorities"`
	}
	require.NoError(t, json.Unmarshal([]byte(out.String()), &got))
	assert.Equal(t, 12, got.Overview.TotalVillages)
	assert.Len(t, got.Priorities, 3)
}

func TestOverview_Table(t *testing.T) {
	url := newBackend(t)
	out := captureStdout(t)

	require.NoError(t, Overview(url, OverviewOptions{Limit: 5}))
	s := out.String()
	assert.Contains(t, s, "OVERVIEW")
	assert.Contains(t, s, "ALLOCATION PRIORITIES")
	for _, sev := range severityOrder {
		assert.Contains(t, s, sev)
	}
}

func TestAllocate(t *testing.T) {
	url := newBackend(t)
	out := captureStdout(t)

	require.NoError(t, Allocate(url, false))
	assert.Contains(t, out.String(), "tankers dispatched")

	// Every available tanker is now on a trip.
	out2 := captureStdout(t)
	require.NoError(t, Allocate(url, false))
	assert.Contains(t, out2.String(), "no tankers available")
}

func TestFleetListings(t *testing.T) {
	url := newBackend(t)
	out := captureStdout(t)

	require.NoError(t, Tankers(url, false))
	require.NoError(t, Requests(url, "", false))
	require.NoError(t, Grievances(url, "", false))

	s := out.String()
	assert.Contains(t, s, "TANKERS")
	assert.Contains(t, s, "WATER REQUESTS")
	assert.Contains(t, s, "GRIEVANCES")
}

func TestStatus_BackendError(t *testing.T) {
	captureStdout(t)
	err := Status("http://127.0.0.1:1", false)
	assert.Error(t, err)
}

func TestReadRefresh(t *testing.T) {
	var n int
	readRefresh(context.Background(), strings.NewReader("r\nx\n R \n\nR\n"), func() { n++ })
	assert.Equal(t, 3, n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n = 0
	readRefresh(ctx, strings.NewReader("r\nr\n"), func() { n++ })
	assert.Equal(t, 0, n)
}

func TestPoll_StopsAfterCount(t *testing.T) {
	url := newBackend(t)
	out := captureStdout(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := Poll(ctx, url, PollOptions{
		Path:     api.PathOverview,
		Interval: time.Second,
		Timeout:  2 * time.Second,
		Policy:   poll.LastResolved,
		Count:    1,
		JSON:     true,
	})
	require.NoError(t, err)
	require.NoError(t, ctx.Err(), "poll should stop on its own after one success")

	var o api.Overview
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out.String())), &o))
	assert.Equal(t, 12, o.TotalVillages)
}

func TestPoll_RejectsBadInterval(t *testing.T) {
	captureStdout(t)
	err := Poll(context.Background(), "http://127.0.0.1:1", PollOptions{Path: "/x", Interval: 1500 * time.Millisecond})
	assert.Error(t, err)
}

func TestRenderDashboard(t *testing.T) {
	out := captureStdout(t)
	polledAt := time.Now().Add(-10 * time.Second)

	ov := poll.State[api.Overview]{
		Data:        api.Overview{TotalVillages: 10, PendingRequests: 2},
		HasData:     true,
		LastUpdated: polledAt,
		Countdown:   3,
		Interval:    30,
	}
	pr := poll.State[[]api.Priority]{
		Data:    []api.Priority{{VillageName: "Kaij", District: "Beed", Severity: "critical", PriorityScore: 81.5}},
		HasData: true,
	}
	ch := channel.State{
		Phase:     channel.Connected,
		Connected: true,
		Received:  1,
		Events: []telemetry.Event{
			ev(telemetry.EventStatsUpdate, polledAt.Add(5*time.Second), map[string]any{"pending_requests": float64(9)}),
		},
	}

	renderDashboard(view.Compose(ov, pr, ch))
	s := out.String()
	assert.Contains(t, s, "LIVE")
	assert.Contains(t, s, "next 3s")
	assert.Contains(t, s, "1 live updates since last poll")
	assert.Contains(t, s, "Kaij")
	assert.Contains(t, s, "STATS UPDATE")
}

func TestRenderDashboard_Loading(t *testing.T) {
	out := captureStdout(t)

	renderDashboard(view.Compose(
		poll.State[api.Overview]{Loading: true, Countdown: 30, Interval: 30},
		poll.State[[]api.Priority]{},
		channel.State{},
	))
	s := out.String()
	assert.Contains(t, s, "Reconnecting...")
	assert.Contains(t, s, "refreshing")
	assert.Contains(t, s, "loading...")
	assert.Contains(t, s, "Waiting for events...")
}
