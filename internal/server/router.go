package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rivelle/assetcache/internal/cache"
	"github.com/rivelle/assetcache/internal/metrics"
	"github.com/rivelle/assetcache/internal/preload"
	"github.com/rivelle/assetcache/internal/progress"
)

// Core defines the minimal surface the admin router needs from the loading
// orchestrator to serve HTTP requests.
type Core interface {
	Stats() cache.Stats
	Metrics() metrics.Snapshot
	Preload(ctx context.Context, tasks ...preload.Task) error
	Progress(key string) (progress.Snapshot, bool)
}

// statsResponse bundles store accounting with the load-time aggregates so one
// request answers both "how full" and "how fast".
type statsResponse struct {
	Cache   cache.Stats      `json:"cache"`
	Metrics metrics.Snapshot `json:"metrics"`
}

// preloadRequest is the wire shape for POST /preload. Estimated load times
// arrive as milliseconds and are converted before handing off.
type preloadRequest struct {
	Tasks []preloadTask `json:"tasks"`
}

type preloadTask struct {
	Priority            string   `json:"priority"`
	ResourceKeys        []string `json:"resourceKeys"`
	EstimatedLoadTimeMs int64    `json:"estimatedLoadTimeMs"`
}

func (t preloadTask) toTask() preload.Task {
	return preload.Task{
		Priority:          preload.Priority(t.Priority),
		ResourceKeys:      t.ResourceKeys,
		EstimatedLoadTime: time.Duration(t.EstimatedLoadTimeMs) * time.Millisecond,
	}
}

// NewAdminHandler wires the admin routing facade to the orchestrator so the
// lifecycle server owns URL dispatch without embedding routing logic into the
// orchestrator itself. promHandler serves the Prometheus exposition endpoint
// and may be nil when metrics are disabled.
func NewAdminHandler(core Core, promHandler http.Handler) http.Handler {
	if core == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "orchestrator unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(r.URL.Path, "/")
		switch {
		case path == "healthz":
			if !requireMethod(w, r, http.MethodGet) {
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		case path == "stats":
			if !requireMethod(w, r, http.MethodGet) {
				return
			}
			writeJSON(w, http.StatusOK, statsResponse{Cache: core.Stats(), Metrics: core.Metrics()})
		case path == "metrics":
			if !requireMethod(w, r, http.MethodGet) {
				return
			}
			if promHandler == nil {
				http.Error(w, "metrics disabled", http.StatusNotFound)
				return
			}
			promHandler.ServeHTTP(w, r)
		case path == "preload":
			if !requireMethod(w, r, http.MethodPost) {
				return
			}
			var req preloadRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid preload request: %v", err))
				return
			}
			if len(req.Tasks) == 0 {
				writeError(w, http.StatusBadRequest, "preload request has no tasks")
				return
			}
			tasks := make([]preload.Task, 0, len(req.Tasks))
			for _, task := range req.Tasks {
				tasks = append(tasks, task.toTask())
			}
			if err := core.Preload(r.Context(), tasks...); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(req.Tasks)})
		case strings.HasPrefix(path, "progress/"):
			if !requireMethod(w, r, http.MethodGet) {
				return
			}
			key := strings.TrimPrefix(path, "progress/")
			if key == "" {
				writeError(w, http.StatusBadRequest, "progress key required")
				return
			}
			snap, ok := core.Progress(key)
			if !ok {
				writeError(w, http.StatusNotFound, fmt.Sprintf("no progress for %q", key))
				return
			}
			writeJSON(w, http.StatusOK, snap)
		default:
			http.NotFound(w, r)
		}
	})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
