package api

import (
	"encoding/json"
	"maps"

	"github.com/large-farva/livefeed/internal/telemetry"
)

// Apply folds a stats_update push into o and returns the result. Fields the
// event does not carry keep their polled values; other event types leave o
// unchanged. The receiver is not modified.
func (o Overview) Apply(ev telemetry.Event) Overview {
	if ev.Type != telemetry.EventStatsUpdate || len(ev.Data) == 0 {
		return o
	}
	d := ev.Data

	setInt(&o.TotalVillages, d, "total_villages")
	setInt(&o.CriticalVillages, d, "critical_villages")
	setInt(&o.AffectedPopulation, d, "affected_population")
	setInt(&o.TripsToday, d, "trips_today")
	setInt(&o.DeliveredToday, d, "delivered_today")
	setInt(&o.PendingRequests, d, "pending_requests")
	setInt(&o.OpenGrievances, d, "open_grievances")
	if v, ok := number(d["avg_wsi"]); ok {
		o.AvgWSI = v
	}

	if t, ok := d["tankers"].(map[string]any); ok {
		setInt(&o.Tankers.Total, t, "total")
		setInt(&o.Tankers.Available, t, "available")
		setInt(&o.Tankers.OnTrip, t, "on_trip")
		setInt(&o.Tankers.Maintenance, t, "maintenance")
	}
	// Flat form used by the demo feed.
	setInt(&o.Tankers.Available, d, "available_tankers")

	if sd, ok := d["severity_distribution"].(map[string]any); ok {
		dist := maps.Clone(o.SeverityDistribution)
		if dist == nil {
			dist = make(map[string]int, len(sd))
		}
		for k, v := range sd {
			if n, ok := number(v); ok {
				dist[k] = int(n)
			}
		}
		o.SeverityDistribution = dist
	}
	return o
}

func setInt(dst *int, m map[string]any, key string) {
	if v, ok := number(m[key]); ok {
		*dst = int(v)
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
