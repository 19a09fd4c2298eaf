// Package health exposes liveness and readiness endpoints. Liveness always
// answers ok while the process is up; readiness runs the registered checks
// and degrades to 503 when any fails.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds one readiness check.
const checkTimeout = 3 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

// Handler serves /healthz and /readyz.
type Handler struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// New creates an empty health handler.
func New() *Handler {
	return &Handler{checks: make(map[string]Check)}
}

// AddReadiness registers a named readiness check.
func (h *Handler) AddReadiness(name string, c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = c
}

// Live answers liveness probes.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Ready answers readiness probes by running every registered check.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := make(map[string]Check, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	results := make(map[string]string, len(checks))
	healthy := true
	for name, c := range checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c(ctx)
		cancel()
		if err != nil {
			healthy = false
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	status := http.StatusOK
	label := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		label = "degraded"
	}
	writeStatus(w, status, map[string]any{"status": label, "checks": results})
}

func writeStatus(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
