package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"sentinel-lab/internal/infrastructure/cache"
	"sentinel-lab/internal/infrastructure/database"
	"sentinel-lab/pkg/logger"
)

const readyProbeTimeout = 2 * time.Second

// HealthHandler serves the liveness and readiness probes
type HealthHandler struct {
	db        *database.PostgresDB
	cache     *cache.RedisCache
	version   string
	logger    *logger.Logger
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *database.PostgresDB, c *cache.RedisCache, version string, log *logger.Logger) *HealthHandler {
	if version == "" {
		version = "dev"
	}
	return &HealthHandler{
		db:        db,
		cache:     c,
		version:   version,
		logger:    log.WithComponent("health"),
		startTime: time.Now(),
	}
}

// HealthResponse is the probe response body
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Check handles GET /health. Liveness only, touches no dependencies.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready. Probes Postgres and Redis with a short timeout;
// a dependency that was never wired reports "not configured" without
// failing readiness.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
	defer cancel()

	probes := map[string]func(context.Context) (string, bool){
		"postgres": h.probeDB,
		"redis":    h.probeCache,
	}

	checks := make(map[string]string, len(probes))
	status := http.StatusOK
	overall := "ready"

	for name, probe := range probes {
		result, ok := probe(ctx)
		checks[name] = result
		if !ok {
			status = http.StatusServiceUnavailable
			overall = "not ready"
		}
	}

	h.respond(w, status, HealthResponse{
		Status:    overall,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

func (h *HealthHandler) probeDB(ctx context.Context) (string, bool) {
	if h.db == nil {
		return "not configured", true
	}
	if err := h.db.Ping(ctx); err != nil {
		return "unhealthy: " + err.Error(), false
	}
	return "healthy", true
}

func (h *HealthHandler) probeCache(ctx context.Context) (string, bool) {
	if h.cache == nil {
		return "not configured", true
	}
	if err := h.cache.Ping(ctx); err != nil {
		return "unhealthy: " + err.Error(), false
	}
	return "healthy", true
}

func (h *HealthHandler) respond(w http.ResponseWriter, status int, body HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
