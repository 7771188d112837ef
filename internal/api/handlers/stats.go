package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"sentinel-lab/internal/domain/services"
	"sentinel-lab/internal/infrastructure/cache"
	"sentinel-lab/pkg/logger"
)

const (
	statsEventWindow       = 30 * 24 * time.Hour
	statsCorrelationWindow = 7 * 24 * time.Hour
	statsCacheTTL          = 5 * time.Minute
)

// StatsHandler handles the public statistics endpoint
type StatsHandler struct {
	events       services.ThreatEventStore
	correlations services.CorrelationStore
	cache        *cache.RedisCache
	logger       *logger.Logger
}

// NewStatsHandler creates a new StatsHandler
func NewStatsHandler(events services.ThreatEventStore, correlations services.CorrelationStore, c *cache.RedisCache, log *logger.Logger) *StatsHandler {
	return &StatsHandler{
		events:       events,
		correlations: correlations,
		cache:        c,
		logger:       log.WithComponent("stats"),
	}
}

// PlatformStats is the public operational overview
type PlatformStats struct {
	TotalEvents        int64            `json:"total_events"`
	EventsBySource     map[string]int64 `json:"events_by_source"`
	TotalCorrelations  int64            `json:"total_correlations"`
	CorrelationsByType map[string]int64 `json:"correlations_by_type"`
	EventWindowDays    int              `json:"event_window_days"`
	LastUpdate         time.Time        `json:"last_update"`
}

// Get handles GET /stats
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	// Try to get from cache first
	var stats PlatformStats
	if h.cache != nil {
		if err := h.cache.GetJSON(r.Context(), cache.KeyStats, &stats); err == nil {
			h.respond(w, stats)
			return
		}
	}

	stats = h.computeStats(r)

	if h.cache != nil {
		_ = h.cache.SetJSON(r.Context(), cache.KeyStats, stats, statsCacheTTL)
	}

	h.respond(w, stats)
}

func (h *StatsHandler) respond(w http.ResponseWriter, stats PlatformStats) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	json.NewEncoder(w).Encode(stats)
}

// computeStats aggregates activity over the rolling windows
func (h *StatsHandler) computeStats(r *http.Request) PlatformStats {
	stats := PlatformStats{
		EventsBySource:     make(map[string]int64),
		CorrelationsByType: make(map[string]int64),
		EventWindowDays:    int(statsEventWindow.Hours() / 24),
		LastUpdate:         time.Now().UTC(),
	}

	ctx := r.Context()

	if sources, err := h.events.SourceActivity(ctx, time.Now().Add(-statsEventWindow)); err == nil {
		for _, src := range sources {
			stats.EventsBySource[src.Source] = src.EventCount
			stats.TotalEvents += src.EventCount
		}
	} else {
		h.logger.Warn().Err(err).Msg("failed to aggregate source activity")
	}

	if byType, err := h.correlations.CorrelationStatsByType(ctx, time.Now().Add(-statsCorrelationWindow)); err == nil {
		for _, ct := range byType {
			stats.CorrelationsByType[ct.Type.String()] = ct.Count
			stats.TotalCorrelations += ct.Count
		}
	} else {
		h.logger.Warn().Err(err).Msg("failed to aggregate correlation stats")
	}

	return stats
}
