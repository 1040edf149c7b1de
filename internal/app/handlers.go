package app

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/large-farva/livefeed/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Core handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// If the client asks for JSON, return component-level health checks.
	if r.Header.Get("Accept") == "application/json" {
		a.handleHealthDetailed(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]any{
		"hub":  map[string]any{"ok": true, "clients": a.hub.Clients()},
		"demo": map[string]any{"ok": true, "enabled": a.cfg.Demo.Enabled},
	}
	allOK := true

	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err != nil {
			checks["config_file"] = map[string]any{"ok": false, "error": err.Error()}
			allOK = false
		} else {
			checks["config_file"] = map[string]any{"ok": true, "path": a.configPath}
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": allOK,
		"checks":  checks,
	})
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	mode := "static"
	if a.cfg.Demo.Enabled {
		mode = "demo"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":           "livefeed",
		"mode":           mode,
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"clients":        a.hub.Clients(),
		"villages":       a.cfg.Demo.Villages,
		"version":        Version,
	})
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    Version,
		"go_version": runtime.Version(),
		"built_at":   BuiltAt,
	})
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg)
}

// ---------------------------------------------------------------------------
// Dashboard data
// ---------------------------------------------------------------------------

func (a *App) handleOverview(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.world.Overview())
}

func (a *App) handlePriorities(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 50 {
			jsonError(w, "limit must be an integer between 1 and 50", http.StatusUnprocessableEntity)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, a.world.Priorities(limit))
}

func (a *App) handleTankers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.world.Tankers())
}

func (a *App) handleRequests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.world.Requests(r.URL.Query().Get("status")))
}

func (a *App) handleGrievances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.world.Grievances(r.URL.Query().Get("status")))
}

func (a *App) handleAutoAllocate(w http.ResponseWriter, _ *http.Request) {
	allocs := a.world.AutoAllocate()
	for _, al := range allocs {
		a.hub.Broadcast(telemetry.EventTankerUpdate, map[string]any{
			"tanker_id":    al.AssignedTanker.ID,
			"registration": al.AssignedTanker.Registration,
			"driver":       al.AssignedTanker.Driver,
			"from":         "available",
			"status":       "on_trip",
			"village":      al.VillageName,
		})
	}
	if len(allocs) > 0 {
		a.log.Printf("auto-allocated %d tankers", len(allocs))
		a.hub.Broadcast(telemetry.EventStatsUpdate, a.world.Stats())
	}
	writeJSON(w, http.StatusOK, allocs)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"detail": msg})
}
