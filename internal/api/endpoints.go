package api

import (
	"context"
	"strconv"
)

// Endpoint paths served by the backend.
const (
	PathOverview     = "/api/dashboard/overview"
	PathPriorities   = "/api/allocation/priorities"
	PathTankers      = "/api/tankers"
	PathRequests     = "/api/requests"
	PathGrievances   = "/api/grievances"
	PathAutoAllocate = "/api/allocation/auto-allocate"
)

// TankerCounts is the fleet breakdown inside Overview.
type TankerCounts struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	OnTrip      int `json:"on_trip"`
	Maintenance int `json:"maintenance"`
}

// Overview is the aggregated dashboard snapshot.
type Overview struct {
	TotalVillages        int            `json:"total_villages"`
	AvgWSI               float64        `json:"avg_wsi"`
	SeverityDistribution map[string]int `json:"severity_distribution"`
	CriticalVillages     int            `json:"critical_villages"`
	AffectedPopulation   int            `json:"affected_population"`
	Tankers              TankerCounts   `json:"tankers"`
	TripsToday           int            `json:"trips_today"`
	DeliveredToday       int            `json:"delivered_today"`
	PendingRequests      int            `json:"pending_requests"`
	OpenGrievances       int            `json:"open_grievances"`
}

// Priority is one village in the allocation queue.
type Priority struct {
	VillageID           int     `json:"village_id"`
	VillageName         string  `json:"village_name"`
	District            string  `json:"district"`
	PriorityScore       float64 `json:"priority_score"`
	WSIScore            float64 `json:"wsi_score"`
	Severity            string  `json:"severity"`
	Population          int     `json:"population"`
	DaysSinceLastSupply int     `json:"days_since_last_supply"`
	PendingRequests     int     `json:"pending_requests"`
}

type Tanker struct {
	ID           int     `json:"id"`
	Registration string  `json:"registration"`
	Capacity     int     `json:"capacity"`
	DriverName   string  `json:"driver_name"`
	DriverPhone  string  `json:"driver_phone"`
	Status       string  `json:"status"`
	CurrentLat   float64 `json:"current_lat"`
	CurrentLng   float64 `json:"current_lng"`
	District     string  `json:"district"`
}

type Request struct {
	ID          int    `json:"id"`
	VillageName string `json:"village_name"`
	Status      string `json:"status"`
	Urgency     string `json:"urgency"`
	CreatedAt   string `json:"created_at"`
}

type Grievance struct {
	ID          int    `json:"id"`
	VillageName string `json:"village_name"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// AssignedTanker is the tanker picked for a village by auto-allocation.
type AssignedTanker struct {
	ID           int    `json:"id"`
	Registration string `json:"registration"`
	Capacity     int    `json:"capacity"`
	Driver       string `json:"driver"`
	DriverPhone  string `json:"driver_phone"`
}

// Allocation pairs a prioritised village with its tanker.
type Allocation struct {
	Priority
	AssignedTanker AssignedTanker `json:"assigned_tanker"`
}

// DashboardOverview fetches the aggregated snapshot.
func (c *Client) DashboardOverview(ctx context.Context) (Overview, error) {
	var o Overview
	err := c.GetJSON(ctx, PathOverview, &o)
	return o, err
}

// Priorities fetches the top limit villages. A limit of zero or less leaves the
// backend default in place.
func (c *Client) Priorities(ctx context.Context, limit int) ([]Priority, error) {
	var q string
	if limit > 0 {
		q = strconv.Itoa(limit)
	}
	var out []Priority
	err := c.GetJSON(ctx, withQuery(PathPriorities, map[string]string{"limit": q}), &out)
	return out, err
}

func (c *Client) Tankers(ctx context.Context) ([]Tanker, error) {
	var out []Tanker
	err := c.GetJSON(ctx, PathTankers, &out)
	return out, err
}

// Requests lists water requests, optionally filtered by status.
func (c *Client) Requests(ctx context.Context, status string) ([]Request, error) {
	var out []Request
	err := c.GetJSON(ctx, withQuery(PathRequests, map[string]string{"status": status}), &out)
	return out, err
}

// Grievances lists grievances, optionally filtered by status.
func (c *Client) Grievances(ctx context.Context, status string) ([]Grievance, error) {
	var out []Grievance
	err := c.GetJSON(ctx, withQuery(PathGrievances, map[string]string{"status": status}), &out)
	return out, err
}

// AutoAllocate asks the backend to assign available tankers.
func (c *Client) AutoAllocate(ctx context.Context) ([]Allocation, error) {
	var out []Allocation
	err := c.PostJSON(ctx, PathAutoAllocate, nil, &out)
	return out, err
}

// PrioritiesFetcher binds Priorities to a fixed limit for polling.
func (c *Client) PrioritiesFetcher(limit int) func(context.Context) ([]Priority, error) {
	return func(ctx context.Context) ([]Priority, error) {
		return c.Priorities(ctx, limit)
	}
}
