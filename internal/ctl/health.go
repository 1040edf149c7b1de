package ctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/large-farva/livefeed/internal/api"
)

// HealthResponse mirrors the JSON form of GET /healthz.
type HealthResponse struct {
	Healthy bool                      `json:"healthy"`
	Checks  map[string]map[string]any `json:"checks"`
}

// Health asks the backend for its component checks. An unhealthy backend
// answers 503 with the same body, which is rendered rather than reported as
// a transport error.
func Health(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	h, err := fetchHealth(baseURL)
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}
	if jsonOutput {
		return printJSON(map[string]any{"healthy": h.Healthy, "url": baseURL, "checks": h.Checks})
	}

	fmt.Fprintln(stdout)
	if h.Healthy {
		fmt.Fprintf(stdout, "  %s  backend is reachable at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		fmt.Fprintf(stdout, "  %s  backend reports failing checks at %s\n", colorize(red, "UNHEALTHY"), colorize(dim, baseURL))
	}
	renderChecks(h.Checks)
	fmt.Fprintln(stdout)
	return nil
}

func fetchHealth(baseURL string) (HealthResponse, error) {
	var h HealthResponse
	err := newClient(baseURL).GetJSON(context.Background(), "/healthz", &h)

	var se *api.StatusError
	if errors.As(err, &se) && se.Code == http.StatusServiceUnavailable {
		if jerr := json.Unmarshal([]byte(se.Body), &h); jerr == nil {
			return h, nil
		}
	}
	return h, err
}

func renderChecks(checks map[string]map[string]any) {
	if len(checks) == 0 {
		return
	}
	fmt.Fprintln(stdout, rule(50))

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		c := checks[name]
		mark := colorize(green, "ok  ")
		if ok, _ := c["ok"].(bool); !ok {
			mark = colorize(red, "FAIL")
		}

		var details []string
		keys := make([]string, 0, len(c))
		for k := range c {
			if k != "ok" {
				keys = append(keys, k)
			}
		}
		slices.Sort(keys)
		for _, k := range keys {
			details = append(details, k+"="+str(c, k))
		}
		fmt.Fprintf(stdout, "  %s %s %s\n", mark, padRight(name, 12), colorize(dim, strings.Join(details, "  ")))
	}
}
