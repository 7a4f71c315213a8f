package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/medsnap/rxscan/pkg/circuitbreaker"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// BreakerReporter lists circuit breaker states.
type BreakerReporter interface {
	Snapshot() []circuitbreaker.Status
}

// HealthHandler reports liveness and dependency readiness.
type HealthHandler struct {
	checks   map[string]Check
	breakers BreakerReporter
}

// NewHealthHandler creates a handler. breakers may be nil.
func NewHealthHandler(checks map[string]Check, breakers BreakerReporter) *HealthHandler {
	return &HealthHandler{checks: checks, breakers: breakers}
}

type healthResponse struct {
	Status       string                  `json:"status"`
	Dependencies map[string]string       `json:"dependencies,omitempty"`
	Breakers     []circuitbreaker.Status `json:"breakers,omitempty"`
}

// Live handles GET /health
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// Ready handles GET /ready. Any failing check makes the service unready; an
// open breaker is reported but does not.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ready", Dependencies: make(map[string]string, len(h.checks))}
	code := http.StatusOK

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Dependencies[name] = err.Error()
			resp.Status = "not ready"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Dependencies[name] = "ok"
	}
	if h.breakers != nil {
		resp.Breakers = h.breakers.Snapshot()
	}
	writeJSON(w, code, resp)
}
