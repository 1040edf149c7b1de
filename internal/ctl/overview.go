package ctl

import (
	"context"
	"fmt"

	"github.com/large-farva/livefeed/internal/api"
)

// OverviewOptions controls the overview command.
type OverviewOptions struct {
	Limit int // priority rows to show
	JSON  bool
}

// Overview fetches the dashboard snapshot and the top of the allocation
// queue and prints both once.
func Overview(baseURL string, opts OverviewOptions) error {
	c := newClient(baseURL)
	ctx := context.Background()

	o, err := c.DashboardOverview(ctx)
	if err != nil {
		return err
	}
	ps, err := c.Priorities(ctx, opts.Limit)
	if err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(map[string]any{"overview": o, "priorities": ps})
	}

	fmt.Fprintln(stdout)
	renderOverview(o)
	renderPriorities(ps)
	return nil
}

var severityOrder = []string{"normal", "watch", "warning", "critical", "emergency"}

func renderOverview(o api.Overview) {
	fmt.Fprintln(stdout, header("  OVERVIEW"))
	fmt.Fprintln(stdout, rule(50))
	fmt.Fprintf(stdout, "  %-22s %d\n", colorize(dim, "Villages:"), o.TotalVillages)
	fmt.Fprintf(stdout, "  %-22s %.1f\n", colorize(dim, "Avg WSI:"), o.AvgWSI)
	fmt.Fprintf(stdout, "  %-22s %s\n", colorize(dim, "Critical villages:"), colorize(red, fmt.Sprint(o.CriticalVillages)))
	fmt.Fprintf(stdout, "  %-22s %s\n", colorize(dim, "Affected population:"), formatCount(o.AffectedPopulation))
	fmt.Fprintf(stdout, "  %-22s %d total, %d available, %d on trip, %d maintenance\n",
		colorize(dim, "Tankers:"),
		o.Tankers.Total, o.Tankers.Available, o.Tankers.OnTrip, o.Tankers.Maintenance)
	fmt.Fprintf(stdout, "  %-22s %d scheduled, %d delivered\n", colorize(dim, "Trips today:"), o.TripsToday, o.DeliveredToday)
	fmt.Fprintf(stdout, "  %-22s %d\n", colorize(dim, "Pending requests:"), o.PendingRequests)
	fmt.Fprintf(stdout, "  %-22s %d\n", colorize(dim, "Open grievances:"), o.OpenGrievances)

	if o.TotalVillages > 0 && len(o.SeverityDistribution) > 0 {
		fmt.Fprintln(stdout)
		for _, sev := range severityOrder {
			n := o.SeverityDistribution[sev]
			pct := n * 100 / o.TotalVillages
			fmt.Fprintf(stdout, "  %s [%s] %3d\n",
				colorize(severityColor(sev), padRight(sev, 10)),
				progressBar(pct, 24, severityColor(sev)),
				n,
			)
		}
	}
	fmt.Fprintln(stdout)
}

func renderPriorities(ps []api.Priority) {
	fmt.Fprintln(stdout, header("  ALLOCATION PRIORITIES"))
	fmt.Fprintln(stdout, rule(76))
	if len(ps) == 0 {
		fmt.Fprintln(stdout, colorize(dim, "  No villages ranked."))
		fmt.Fprintln(stdout)
		return
	}

	fmt.Fprintf(stdout, "  %-4s %-16s %-26s %6s %6s  %-10s %5s\n",
		"#", "Village", "District", "Score", "WSI", "Severity", "Days")
	for i, p := range ps {
		fmt.Fprintf(stdout, "  %-4d %-16s %-26s %6.1f %6.1f  %s %5d\n",
			i+1,
			p.VillageName,
			p.District,
			p.PriorityScore,
			p.WSIScore,
			colorize(severityColor(p.Severity), padRight(p.Severity, 10)),
			p.DaysSinceLastSupply,
		)
	}
	fmt.Fprintln(stdout)
}
