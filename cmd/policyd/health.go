package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// healthHandler serves the liveness and readiness probes
type healthHandler struct {
	logger *zap.Logger

	// db is nil when the policy store is in memory
	db *sql.DB
	// snapshotSize reports the current snapshot, -1 before the first build
	snapshotSize func() int
	// watching is nil when file watching is disabled
	watching func() bool

	mu    sync.RWMutex
	ready bool
}

// healthStatus is the probe response body
type healthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Checks      map[string]string `json:"checks,omitempty"`
	Description string            `json:"description,omitempty"`
}

func newHealthHandler(logger *zap.Logger, db *sql.DB, snapshotSize func() int, watching func() bool) *healthHandler {
	return &healthHandler{
		logger:       logger,
		db:           db,
		snapshotSize: snapshotSize,
		watching:     watching,
		ready:        true,
	}
}

// SetReady updates the readiness status. Shutdown flips it to false so
// load balancers stop routing before the listener closes.
func (h *healthHandler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the current readiness status
func (h *healthHandler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Health handles GET /health - basic liveness check
func (h *healthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeStatus(w, http.StatusOK, healthStatus{
		Status:      "UP",
		Timestamp:   time.Now().UTC(),
		Description: "Policy daemon is running",
	})
}

// Ready handles GET /health/ready - readiness with dependency checks
func (h *healthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	allReady := h.IsReady()

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			checks["store"] = "not_ready"
			allReady = false
			h.logger.Warn("database ping failed", zap.Error(err))
		} else {
			checks["store"] = "ready"
		}
	} else {
		checks["store"] = "ready"
	}

	if h.snapshotSize() >= 0 {
		checks["snapshot"] = "ready"
	} else {
		checks["snapshot"] = "not_ready"
		allReady = false
	}

	// A stopped watcher means stale policies, not an unservable daemon,
	// so it is reported without failing readiness.
	if h.watching != nil {
		if h.watching() {
			checks["watcher"] = "watching"
		} else {
			checks["watcher"] = "stopped"
		}
	}

	statusCode := http.StatusOK
	status := healthStatus{
		Status:      "UP",
		Timestamp:   time.Now().UTC(),
		Checks:      checks,
		Description: "Ready to accept traffic",
	}
	if !allReady {
		statusCode = http.StatusServiceUnavailable
		status.Status = "DOWN"
		status.Description = "Not all dependencies are ready"
	}

	writeStatus(w, statusCode, status)
}

// Live handles GET /health/live - process liveness probe
func (h *healthHandler) Live(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeStatus(w, http.StatusOK, healthStatus{
		Status:      "ALIVE",
		Timestamp:   time.Now().UTC(),
		Description: "Process is alive and responding",
	})
}

// Startup handles GET /health/startup - startup probe, passing once the
// first policy snapshot has been built
func (h *healthHandler) Startup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	statusCode := http.StatusOK
	statusStr := "STARTED"

	if h.snapshotSize() >= 0 {
		checks["snapshot"] = "initialized"
	} else {
		checks["snapshot"] = "not_initialized"
		statusCode = http.StatusServiceUnavailable
		statusStr = "STARTING"
	}

	writeStatus(w, statusCode, healthStatus{
		Status:    statusStr,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

// register wires the health endpoints onto the mux
func (h *healthHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/health/ready", h.Ready)
	mux.HandleFunc("/health/live", h.Live)
	mux.HandleFunc("/health/startup", h.Startup)
}

func writeStatus(w http.ResponseWriter, code int, status healthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
