package ctl

import (
	"context"
	"fmt"
	"runtime"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// VersionInfo fetches the backend version via GET /api/version and displays
// it next to the CLI's own.
func VersionInfo(baseURL string, jsonOutput bool) error {
	var daemon struct {
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
		BuiltAt   string `json:"built_at"`
	}
	daemonErr := newClient(baseURL).GetJSON(context.Background(), "/api/version", &daemon)

	if jsonOutput {
		resp := map[string]any{
			"cli": map[string]any{
				"version":    Version,
				"go_version": runtime.Version(),
			},
		}
		if daemonErr == nil {
			resp["backend"] = daemon
		} else {
			resp["backend_error"] = daemonErr.Error()
		}
		return printJSON(resp)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  LIVEFEED VERSION"))
	fmt.Fprintln(stdout, rule(38))
	fmt.Fprintf(stdout, "  %-12s %s\n", colorize(dim, "CLI:"), Version+" ("+runtime.Version()+")")
	if daemonErr != nil {
		fmt.Fprintf(stdout, "  %-12s %s\n", colorize(dim, "Backend:"), colorize(red, "unreachable: "+daemonErr.Error()))
	} else {
		fmt.Fprintf(stdout, "  %-12s %s\n", colorize(dim, "Backend:"), daemon.Version+" ("+daemon.GoVersion+")")
		fmt.Fprintf(stdout, "  %-12s %s\n", colorize(dim, "Built:"), daemon.BuiltAt)
	}
	fmt.Fprintln(stdout)

	return nil
}
