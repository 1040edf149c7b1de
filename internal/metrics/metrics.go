// Package metrics holds the Prometheus collectors shared by the poller and the
// push channel. Collectors are registered on the default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Polling Metrics
var (
	// FetchTotal tracks fetch attempts by poller name and result (success/error)
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livefeed_poll_fetch_total",
			Help: "Total poll fetch attempts by poller and result",
		},
		[]string{"poller", "result"},
	)

	// FetchDuration tracks fetch latency in seconds
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livefeed_poll_fetch_duration_seconds",
			Help:    "Poll fetch duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"poller"},
	)

	// FetchSkipped tracks scheduled ticks skipped because the previous automatic fetch was still running
	FetchSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livefeed_poll_ticks_skipped_total",
			Help: "Scheduled poll ticks skipped while a fetch was in flight",
		},
		[]string{"poller"},
	)
)

// Channel Metrics
var (
	// ChannelConnected is 1 while the push channel is connected, 0 otherwise
	ChannelConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livefeed_channel_connected",
			Help: "1 if the push channel is connected, 0 if disconnected",
		},
		[]string{"url"},
	)

	// ChannelReconnects tracks reconnect attempts after a drop or failed dial
	ChannelReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livefeed_channel_reconnects_total",
			Help: "Total push channel reconnect attempts",
		},
		[]string{"url"},
	)

	// ChannelFramesReceived tracks inbound frames by disposition (accepted/management/discarded)
	ChannelFramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livefeed_channel_frames_total",
			Help: "Inbound push frames by disposition (accepted/management/discarded)",
		},
		[]string{"url", "disposition"},
	)
)

// Hub Metrics
var (
	// HubClients is the number of WebSocket clients attached to feedd
	HubClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livefeed_hub_clients",
			Help: "Number of connected WebSocket clients",
		},
	)

	// HubBroadcasts tracks fan-out events by type and outcome (queued/dropped)
	HubBroadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livefeed_hub_broadcasts_total",
			Help: "Events offered to the hub by type and outcome (queued/dropped)",
		},
		[]string{"type", "outcome"},
	)
)
