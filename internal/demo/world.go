package demo

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/large-farva/livefeed/internal/api"
	"github.com/large-farva/livefeed/internal/telemetry"
)

// Severity bands by water stress index.
var severities = []string{"normal", "watch", "warning", "critical", "emergency"}

// Severity classifies a water stress index in [0, 100].
func Severity(wsi float64) string {
	switch {
	case wsi < 20:
		return "normal"
	case wsi < 40:
		return "watch"
	case wsi < 60:
		return "warning"
	case wsi < 80:
		return "critical"
	default:
		return "emergency"
	}
}

var places = []struct {
	name, district string
	pop            int
}{
	{"Paithan", "Chhatrapati Sambhajinagar", 35207},
	{"Beed", "Beed", 45332},
	{"Latur", "Latur", 52000},
	{"Osmanabad", "Dharashiv", 41200},
	{"Jalna", "Jalna", 38500},
	{"Ambad", "Jalna", 18200},
	{"Parli", "Beed", 22000},
	{"Udgir", "Latur", 28300},
	{"Nanded", "Nanded", 55000},
	{"Hingoli", "Hingoli", 23000},
	{"Kaij", "Beed", 14500},
	{"Georai", "Beed", 16200},
	{"Majalgaon", "Beed", 19000},
	{"Ashti", "Beed", 12300},
	{"Patoda", "Beed", 9800},
	{"Wadwani", "Beed", 7400},
	{"Nilanga", "Latur", 24800},
	{"Ausa", "Latur", 19500},
	{"Tuljapur", "Dharashiv", 27600},
	{"Omerga", "Dharashiv", 21000},
	{"Bhoom", "Dharashiv", 9800},
	{"Sillod", "Chhatrapati Sambhajinagar", 25300},
	{"Deglur", "Nanded", 18000},
	{"Basmath", "Hingoli", 17800},
}

var drivers = []string{"S. Jadhav", "R. Pawar", "A. Shinde", "M. Kale", "V. Patil", "D. More", "K. Gaikwad", "P. Deshmukh"}

type village struct {
	id       int
	name     string
	district string
	pop      int
	wsi      float64
	days     int
	pending  int
}

type tanker struct {
	id       int
	reg      string
	driver   string
	district string
	capacity int
	status   string
	village  int // destination while on_trip, -1 otherwise
}

// World is the simulated backend state behind feedd's demo endpoints. It is
// safe for concurrent use.
type World struct {
	mu  sync.Mutex
	rng *rand.Rand

	villages   []village
	tankers    []tanker
	requests   []api.Request
	grievances []api.Grievance

	tripsToday     int
	deliveredToday int
}

// NewWorld seeds n villages and a proportional tanker fleet. The same seed
// always produces the same world.
func NewWorld(n int, seed uint64) *World {
	if n < 1 {
		n = 1
	}
	w := &World{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}

	for i := range n {
		p := places[i%len(places)]
		name := p.name
		if i >= len(places) {
			name = fmt.Sprintf("%s %d", p.name, i/len(places)+1)
		}
		w.villages = append(w.villages, village{
			id:       i + 1,
			name:     name,
			district: p.district,
			pop:      p.pop,
			wsi:      math.Round((10+w.rng.Float64()*75)*10) / 10,
			days:     w.rng.IntN(30),
		})
	}

	fleet := max(2, n/2)
	for i := range fleet {
		status := "available"
		switch {
		case i%7 == 6:
			status = "maintenance"
		case i%3 == 1:
			status = "on_trip"
		}
		t := tanker{
			id:       i + 1,
			reg:      fmt.Sprintf("MH-%02d-T-%04d", 20+i%6, 100+i*7),
			driver:   drivers[i%len(drivers)],
			district: w.villages[i%n].district,
			capacity: []int{5000, 10000, 12000}[i%3],
			status:   status,
			village:  -1,
		}
		if status == "on_trip" {
			t.village = i % n
			w.tripsToday++
		}
		w.tankers = append(w.tankers, t)
	}

	for i, cat := range []string{"delay", "quality", "quantity"} {
		w.grievances = append(w.grievances, api.Grievance{
			ID:          i + 1,
			VillageName: w.villages[i%n].name,
			Category:    cat,
			Status:      []string{"open", "in_progress", "resolved"}[i],
			CreatedAt:   time.Date(2026, 4, 28+i, 9, 0, 0, 0, time.UTC).Format(time.RFC3339),
		})
	}
	return w
}

// Overview aggregates the current state the way the dashboard endpoint does.
func (w *World) Overview() api.Overview {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.overview()
}

func (w *World) overview() api.Overview {
	o := api.Overview{
		TotalVillages:        len(w.villages),
		SeverityDistribution: make(map[string]int, len(severities)),
		TripsToday:           w.tripsToday,
		DeliveredToday:       w.deliveredToday,
	}
	for _, s := range severities {
		o.SeverityDistribution[s] = 0
	}

	var sum float64
	for _, v := range w.villages {
		sev := Severity(v.wsi)
		o.SeverityDistribution[sev]++
		sum += v.wsi
		if sev == "critical" || sev == "emergency" {
			o.AffectedPopulation += v.pop
		}
	}
	o.AvgWSI = math.Round(sum/float64(len(w.villages))*10) / 10
	o.CriticalVillages = o.SeverityDistribution["critical"] + o.SeverityDistribution["emergency"]

	o.Tankers.Total = len(w.tankers)
	for _, t := range w.tankers {
		switch t.status {
		case "available":
			o.Tankers.Available++
		case "on_trip":
			o.Tankers.OnTrip++
		}
	}
	o.Tankers.Maintenance = o.Tankers.Total - o.Tankers.Available - o.Tankers.OnTrip

	for _, r := range w.requests {
		if r.Status == "pending" || r.Status == "approved" {
			o.PendingRequests++
		}
	}
	for _, g := range w.grievances {
		if g.Status == "open" || g.Status == "in_progress" {
			o.OpenGrievances++
		}
	}
	return o
}

// Priorities ranks villages by need, highest first. Ties keep village order.
func (w *World) Priorities(limit int) []api.Priority {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.priorities(limit)
}

func (w *World) priorities(limit int) []api.Priority {
	out := make([]api.Priority, 0, len(w.villages))
	for _, v := range w.villages {
		score := v.wsi*0.5 +
			math.Min(100, float64(v.pop)/500)*0.2 +
			math.Min(100, float64(v.days)*100/30)*0.2 +
			math.Min(100, float64(v.pending)*25)*0.1
		out = append(out, api.Priority{
			VillageID:           v.id,
			VillageName:         v.name,
			District:            v.district,
			PriorityScore:       math.Round(score*10) / 10,
			WSIScore:            v.wsi,
			Severity:            Severity(v.wsi),
			Population:          v.pop,
			DaysSinceLastSupply: v.days,
			PendingRequests:     v.pending,
		})
	}
	slices.SortStableFunc(out, func(a, b api.Priority) int {
		switch {
		case a.PriorityScore > b.PriorityScore:
			return -1
		case a.PriorityScore < b.PriorityScore:
			return 1
		}
		return 0
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (w *World) Tankers() []api.Tanker {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]api.Tanker, 0, len(w.tankers))
	for _, t := range w.tankers {
		out = append(out, api.Tanker{
			ID:           t.id,
			Registration: t.reg,
			Capacity:     t.capacity,
			DriverName:   t.driver,
			Status:       t.status,
			District:     t.district,
		})
	}
	return out
}

// Requests returns water requests, newest first, optionally filtered.
func (w *World) Requests(status string) []api.Request {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := []api.Request{}
	for _, r := range slices.Backward(w.requests) {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

func (w *World) Grievances(status string) []api.Grievance {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := []api.Grievance{}
	for _, g := range w.grievances {
		if status == "" || g.Status == status {
			out = append(out, g)
		}
	}
	return out
}

// AutoAllocate dispatches every available tanker to the highest-priority
// villages not already being served.
func (w *World) AutoAllocate() []api.Allocation {
	w.mu.Lock()
	defer w.mu.Unlock()

	served := map[int]bool{}
	for _, t := range w.tankers {
		if t.village >= 0 {
			served[t.village] = true
		}
	}

	out := []api.Allocation{}
	ranked := w.priorities(0)
	next := 0
	for i := range w.tankers {
		t := &w.tankers[i]
		if t.status != "available" {
			continue
		}
		for next < len(ranked) && served[ranked[next].VillageID-1] {
			next++
		}
		if next >= len(ranked) {
			break
		}
		p := ranked[next]
		next++
		t.status = "on_trip"
		t.village = p.VillageID - 1
		w.tripsToday++
		out = append(out, api.Allocation{
			Priority: p,
			AssignedTanker: api.AssignedTanker{
				ID:           t.id,
				Registration: t.reg,
				Capacity:     t.capacity,
				Driver:       t.driver,
			},
		})
	}
	return out
}

// Step advances the simulation by one move and returns the event describing
// it: a new request, a tanker status change, or a severity escalation.
func (w *World) Step(now time.Time) (string, map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch r := w.rng.IntN(10); {
	case r < 4:
		return w.newRequest(now)
	case r < 8:
		return w.moveTanker(now)
	default:
		if typ, data, ok := w.escalate(now); ok {
			return typ, data
		}
		return w.newRequest(now)
	}
}

func (w *World) newRequest(now time.Time) (string, map[string]any) {
	v := &w.villages[w.rng.IntN(len(w.villages))]
	v.pending++

	urgency := "normal"
	switch Severity(v.wsi) {
	case "critical":
		urgency = "high"
	case "emergency":
		urgency = "critical"
	}
	req := api.Request{
		ID:          len(w.requests) + 1,
		VillageName: v.name,
		Status:      "pending",
		Urgency:     urgency,
		CreatedAt:   now.UTC().Format(time.RFC3339),
	}
	w.requests = append(w.requests, req)

	return telemetry.EventNewRequest, map[string]any{
		"request_id": req.ID,
		"village":    v.name,
		"district":   v.district,
		"urgency":    urgency,
		"timestamp":  req.CreatedAt,
	}
}

func (w *World) moveTanker(now time.Time) (string, map[string]any) {
	t := &w.tankers[w.rng.IntN(len(w.tankers))]
	from := t.status
	data := map[string]any{
		"tanker_id":    t.id,
		"registration": t.reg,
		"driver":       t.driver,
		"from":         from,
		"timestamp":    now.UTC().Format(time.RFC3339),
	}

	switch from {
	case "available":
		t.village = w.neediest()
		t.status = "on_trip"
		w.tripsToday++
		data["village"] = w.villages[t.village].name
	case "on_trip":
		v := &w.villages[t.village]
		v.days = 0
		v.wsi = math.Max(0, math.Round((v.wsi-10)*10)/10)
		w.fulfil(v.name)
		data["village"] = v.name
		data["delivered_liters"] = t.capacity
		t.status = "available"
		t.village = -1
		w.deliveredToday++
	default:
		t.status = "available"
	}
	data["status"] = t.status
	return telemetry.EventTankerUpdate, data
}

// fulfil closes the oldest open request for the village.
func (w *World) fulfil(name string) {
	for i := range w.requests {
		r := &w.requests[i]
		if r.VillageName == name && (r.Status == "pending" || r.Status == "approved") {
			r.Status = "fulfilled"
			for j := range w.villages {
				if w.villages[j].name == name && w.villages[j].pending > 0 {
					w.villages[j].pending--
				}
			}
			return
		}
	}
}

func (w *World) neediest() int {
	best := 0
	for i, v := range w.villages {
		if v.wsi > w.villages[best].wsi {
			best = i
		}
	}
	return best
}

func (w *World) escalate(now time.Time) (string, map[string]any, bool) {
	var candidates []int
	for i, v := range w.villages {
		if Severity(v.wsi) != "emergency" {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return "", nil, false
	}

	v := &w.villages[candidates[w.rng.IntN(len(candidates))]]
	from := Severity(v.wsi)
	next := (math.Floor(v.wsi/20) + 1) * 20
	v.wsi = math.Min(100, math.Round((next+w.rng.Float64()*5)*10)/10)

	return telemetry.EventAlertEscalation, map[string]any{
		"village":   v.name,
		"district":  v.district,
		"from":      from,
		"to":        Severity(v.wsi),
		"wsi":       v.wsi,
		"timestamp": now.UTC().Format(time.RFC3339),
	}, true
}

// Stats is the stats_update payload for the current state. Its keys match
// the overview endpoint so clients can fold it into a polled snapshot.
func (w *World) Stats() map[string]any {
	w.mu.Lock()
	o := w.overview()
	w.mu.Unlock()

	dist := make(map[string]any, len(o.SeverityDistribution))
	for k, v := range o.SeverityDistribution {
		dist[k] = v
	}
	return map[string]any{
		"total_villages":        o.TotalVillages,
		"avg_wsi":               o.AvgWSI,
		"critical_villages":     o.CriticalVillages,
		"affected_population":   o.AffectedPopulation,
		"pending_requests":      o.PendingRequests,
		"open_grievances":       o.OpenGrievances,
		"trips_today":           o.TripsToday,
		"delivered_today":       o.DeliveredToday,
		"severity_distribution": dist,
		"tankers": map[string]any{
			"total":       o.Tankers.Total,
			"available":   o.Tankers.Available,
			"on_trip":     o.Tankers.OnTrip,
			"maintenance": o.Tankers.Maintenance,
		},
	}
}
