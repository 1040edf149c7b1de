package ctl

import (
	"context"
	"fmt"

	"github.com/large-farva/livefeed/internal/api"
)

// Tankers lists the fleet.
func Tankers(baseURL string, jsonOutput bool) error {
	ts, err := newClient(baseURL).Tankers(context.Background())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(ts)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  TANKERS"))
	fmt.Fprintln(stdout, rule(76))
	if len(ts) == 0 {
		fmt.Fprintln(stdout, colorize(dim, "  No tankers registered."))
		fmt.Fprintln(stdout)
		return nil
	}
	fmt.Fprintf(stdout, "  %-4s %-14s %-12s %-12s %8s  %s\n", "ID", "Registration", "Status", "Driver", "Litres", "District")
	for _, t := range ts {
		fmt.Fprintf(stdout, "  %-4d %-14s %s %-12s %8s  %s\n",
			t.ID, t.Registration, colorize(tankerColor(t.Status), padRight(t.Status, 12)),
			t.DriverName, formatCount(t.Capacity), t.District)
	}
	fmt.Fprintln(stdout)
	return nil
}

func tankerColor(status string) string {
	if !colorEnabled() {
		return ""
	}
	switch status {
	case "available":
		return green
	case "on_trip":
		return cyan
	default:
		return yellow
	}
}

// Requests lists water requests, optionally filtered by status.
func Requests(baseURL, status string, jsonOutput bool) error {
	rs, err := newClient(baseURL).Requests(context.Background(), status)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(rs)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  WATER REQUESTS"))
	fmt.Fprintln(stdout, rule(64))
	if len(rs) == 0 {
		fmt.Fprintln(stdout, colorize(dim, "  No requests."))
		fmt.Fprintln(stdout)
		return nil
	}
	fmt.Fprintf(stdout, "  %-5s %-18s %-10s %-10s %s\n", "ID", "Village", "Status", "Urgency", "Created")
	for _, r := range rs {
		fmt.Fprintf(stdout, "  %-5d %-18s %-10s %-10s %s\n", r.ID, r.VillageName, r.Status, r.Urgency, colorize(dim, r.CreatedAt))
	}
	fmt.Fprintln(stdout)
	return nil
}

// Grievances lists citizen grievances, optionally filtered by status.
func Grievances(baseURL, status string, jsonOutput bool) error {
	gs, err := newClient(baseURL).Grievances(context.Background(), status)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(gs)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  GRIEVANCES"))
	fmt.Fprintln(stdout, rule(64))
	if len(gs) == 0 {
		fmt.Fprintln(stdout, colorize(dim, "  No grievances."))
		fmt.Fprintln(stdout)
		return nil
	}
	fmt.Fprintf(stdout, "  %-5s %-18s %-10s %-12s %s\n", "ID", "Village", "Category", "Status", "Created")
	for _, g := range gs {
		fmt.Fprintf(stdout, "  %-5d %-18s %-10s %-12s %s\n", g.ID, g.VillageName, g.Category, g.Status, colorize(dim, g.CreatedAt))
	}
	fmt.Fprintln(stdout)
	return nil
}

// Allocate asks the backend to dispatch every available tanker and prints
// the resulting assignments.
func Allocate(baseURL string, jsonOutput bool) error {
	as, err := newClient(baseURL).AutoAllocate(context.Background())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(as)
	}
	renderAllocations(as)
	return nil
}

func renderAllocations(as []api.Allocation) {
	fmt.Fprintln(stdout)
	if len(as) == 0 {
		fmt.Fprintf(stdout, "  %s  no tankers available to allocate\n", colorize(yellow, "NOOP"))
		fmt.Fprintln(stdout)
		return
	}
	fmt.Fprintf(stdout, "  %s  %d tankers dispatched\n", colorize(green, "OK"), len(as))
	fmt.Fprintln(stdout, rule(64))
	for _, a := range as {
		fmt.Fprintf(stdout, "  %-14s %s %-16s %s\n",
			a.AssignedTanker.Registration,
			colorize(dim, "->"),
			a.VillageName,
			colorize(severityColor(a.Severity), fmt.Sprintf("%s, score %.1f", a.Severity, a.PriorityScore)),
		)
	}
	fmt.Fprintln(stdout)
}
