// Package handler reports readiness over HTTP and the gRPC health protocol.
package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"saas-admin/backend/internal/server/response"
)

const checkTimeout = 2 * time.Second

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Handler runs named dependency checks.
type Handler struct {
	checks map[string]Check
}

// NewHandler returns a Handler for checks keyed by dependency name (e.g. "database", "policy").
func NewHandler(checks map[string]Check) *Handler {
	return &Handler{checks: checks}
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Run executes every check concurrently and reports whether all passed.
func (h *Handler) Run(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(h.checks))
		healthy = true
	)
	for name, check := range h.checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			status := "ok"
			if err := check(ctx); err != nil {
				status = "unavailable"
			}
			mu.Lock()
			defer mu.Unlock()
			results[name] = status
			if status != "ok" {
				healthy = false
			}
		}(name, check)
	}
	wg.Wait()
	return results, healthy
}

// ServeHTTP handles GET /health: 200 when every check passes, else 503. Error details are not
// exposed.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	results, ok := h.Run(r.Context())
	if !ok {
		response.JSON(w, http.StatusServiceUnavailable, report{Status: "unavailable", Checks: results})
		return
	}
	response.JSON(w, http.StatusOK, report{Status: "ok", Checks: results})
}

// Names returns the configured check names in order.
func (h *Handler) Names() []string {
	names := make([]string, 0, len(h.checks))
	for n := range h.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SyncGRPC runs the checks every interval and mirrors the result into hs for the overall service
// (""). It returns when ctx is done.
func (h *Handler) SyncGRPC(ctx context.Context, hs *health.Server, interval time.Duration) {
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if _, ok := h.Run(ctx); !ok {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
	}
	update()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			update()
		}
	}
}
