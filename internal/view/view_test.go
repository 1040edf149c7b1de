package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/large-farva/livefeed/internal/api"
	"github.com/large-farva/livefeed/internal/channel"
	"github.com/large-farva/livefeed/internal/poll"
	"github.com/large-farva/livefeed/internal/telemetry"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func stats(at time.Time, pending int) telemetry.Event {
	return telemetry.Event{
		Type:      telemetry.EventStatsUpdate,
		Data:      map[string]any{"pending_requests": float64(pending)},
		Timestamp: at,
	}
}

func polledOverview() poll.State[api.Overview] {
	return poll.State[api.Overview]{
		Data:        api.Overview{PendingRequests: 3, TotalVillages: 40},
		HasData:     true,
		LastUpdated: t0,
		Countdown:   12,
		Interval:    30,
	}
}

func TestBadge(t *testing.T) {
	b := Badge{Connected: true, Countdown: 5}
	assert.Equal(t, "LIVE", b.Status())
	assert.True(t, b.Urgent())
	assert.Equal(t, "5s", b.CountdownLabel())
	assert.Equal(t, "-", b.Updated(time.UTC))

	b = Badge{Countdown: 6, LastUpdated: t0}
	assert.Equal(t, "Reconnecting...", b.Status())
	assert.False(t, b.Urgent())
	assert.Equal(t, "10:00:00", b.Updated(time.UTC))
}

func TestNewBadge(t *testing.T) {
	p := poll.State[int]{Loading: true, Err: "API Error: 500", Countdown: 7, LastUpdated: t0}
	b := NewBadge(p, channel.State{Connected: true})
	assert.Equal(t, Badge{Connected: true, Countdown: 7, LastUpdated: t0, Loading: true, Err: "API Error: 500"}, b)
}

func TestCompose_FoldsNewerStatsOldestFirst(t *testing.T) {
	ch := channel.State{
		Phase:     channel.Connected,
		Connected: true,
		Events: []telemetry.Event{
			stats(t0.Add(3*time.Second), 9),
			{Type: telemetry.EventNewRequest, Timestamp: t0.Add(2 * time.Second)},
			stats(t0.Add(time.Second), 5),
			stats(t0.Add(-time.Second), 100),
		},
	}

	d := Compose(polledOverview(), poll.State[[]api.Priority]{}, ch)
	assert.Equal(t, 9, d.Live.PendingRequests, "newest push wins")
	assert.Equal(t, 40, d.Live.TotalVillages)
	assert.Equal(t, 2, d.Pushed, "pushes older than the poll are ignored")
	assert.Equal(t, 3, d.Overview.Data.PendingRequests)
	assert.True(t, d.Badge.Connected)
	assert.Equal(t, 12, d.Badge.Countdown)
}

func TestCompose_NoDataIgnoresPushes(t *testing.T) {
	ch := channel.State{Events: []telemetry.Event{stats(t0, 9)}}
	d := Compose(poll.State[api.Overview]{Loading: true}, poll.State[[]api.Priority]{}, ch)
	assert.Zero(t, d.Pushed)
	assert.Equal(t, api.Overview{}, d.Live)
	assert.True(t, d.Badge.Loading)
	assert.False(t, d.Badge.Connected)
}

func TestDashboard_Recent(t *testing.T) {
	d := Dashboard{Channel: channel.State{Events: []telemetry.Event{
		{Type: telemetry.EventAlertEscalation},
		{Type: telemetry.EventNewRequest},
		{Type: telemetry.EventStatsUpdate},
		{Type: telemetry.EventNewRequest},
	}}}

	assert.Len(t, d.Recent(2), 2)
	assert.Len(t, d.Recent(10), 4)
	assert.Nil(t, d.Recent(0))

	got := d.Recent(5, telemetry.EventNewRequest)
	assert.Len(t, got, 2)
	for _, ev := range got {
		assert.Equal(t, telemetry.EventNewRequest, ev.Type)
	}
}
