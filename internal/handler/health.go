package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"iap-entitlement-api/pkg/response"
)

// StartTime tracks when the server started for uptime calculation
var StartTime = time.Now()

const readyTimeout = 2 * time.Second

// Checker reports whether a dependency is usable.
type Checker func(ctx context.Context) error

// Handler contains shared HTTP handlers and their dependencies.
type Handler struct {
	version string
	checks  map[string]Checker
	order   []string
}

// New creates a new handler.
func New(version string) *Handler {
	return &Handler{version: version, checks: make(map[string]Checker)}
}

// AddCheck registers a readiness check.
func (h *Handler) AddCheck(name string, fn Checker) {
	if _, ok := h.checks[name]; !ok {
		h.order = append(h.order, name)
	}
	h.checks[name] = fn
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Version       string    `json:"version"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	MemoryMB      float64   `json:"memory_mb"`
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	memoryMB := float64(memStats.Alloc) / 1024 / 1024

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(StartTime).Seconds()),
		MemoryMB:      float64(int(memoryMB*100)) / 100,
	}
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	response.OK(w, resp)
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Check represents an individual readiness check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Ready handles GET /api/v1/ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := []Check{{Name: "api", Status: "ok"}}
	allReady := true
	for _, name := range h.order {
		check := Check{Name: name, Status: "ok"}
		if err := h.checks[name](ctx); err != nil {
			check.Status = "error"
			check.Error = err.Error()
			allReady = false
		}
		checks = append(checks, check)
	}

	resp := ReadyResponse{
		Ready:     allReady,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, resp)
}
