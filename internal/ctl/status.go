package ctl

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string `json:"name"`
	Mode          string `json:"mode"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Clients       int    `json:"clients"`
	Villages      int    `json:"villages"`
	Version       string `json:"version"`
}

// Status fetches the backend status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	var s StatusResponse
	if err := newClient(baseURL).GetJSON(context.Background(), "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)
	mode := s.Mode
	if mode == "demo" {
		mode = colorize(yellow, mode)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  LIVEFEED STATUS"))
	fmt.Fprintln(stdout, rule(38))
	fmt.Fprintf(stdout, "  %-12s %s\n", colorize(dim, "Backend:"), s.Name)
	fmt.Fprintf(stdout, "  %-12s %s\n", colorize(dim, "Mode:"), mode)
	fmt.Fprintf(stdout, "  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Fprintf(stdout, "  %-12s %d\n", colorize(dim, "Clients:"), s.Clients)
	fmt.Fprintf(stdout, "  %-12s %d\n", colorize(dim, "Villages:"), s.Villages)
	fmt.Fprintf(stdout, "  %-12s %s\n", colorize(dim, "Version:"), s.Version)
	fmt.Fprintf(stdout, "  %-12s %s\n", colorize(dim, "Host:"), strings.TrimRight(baseURL, "/"))
	fmt.Fprintln(stdout)

	return nil
}
