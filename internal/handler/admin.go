package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"iap-entitlement-api/internal/billing"
	"iap-entitlement-api/pkg/response"
)

// StatsSource is a store that reports statistics.
type StatsSource interface {
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// AdminOptions holds the optional dependencies of the admin handler.
type AdminOptions struct {
	Client    interface{ Stats() billing.Stats }
	Store     StatsSource
	StoreType string
	CacheType string
	Audit     interface{ Dropped() uint64 }
}

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	opts      AdminOptions
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(opts AdminOptions) *AdminHandler {
	return &AdminHandler{
		opts:      opts,
		startTime: time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	// System info
	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["store_type"] = h.opts.StoreType
	stats["cache_type"] = h.opts.CacheType

	if h.opts.Client != nil {
		stats["billing"] = h.opts.Client.Stats()
	}

	// Store stats
	if h.opts.Store != nil {
		storeStats, err := h.opts.Store.GetStats(ctx)
		if err == nil {
			storeStats["status"] = "connected"
			stats["store"] = storeStats
		} else {
			stats["store"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	} else {
		stats["store"] = map[string]interface{}{
			"status": "not_configured",
		}
	}

	if h.opts.Audit != nil {
		stats["audit_log"] = map[string]interface{}{
			"status":  "enabled",
			"dropped": h.opts.Audit.Dropped(),
		}
	} else {
		stats["audit_log"] = map[string]interface{}{
			"status": "not_configured",
		}
	}

	// Memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	// Runtime info
	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}
