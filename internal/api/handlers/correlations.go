package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/domain/services"
	"sentinel-lab/pkg/logger"
)

// CorrelationsHandler handles correlation endpoints
type CorrelationsHandler struct {
	engine       *services.CorrelationEngine
	correlations services.CorrelationStore
	reports      *services.ReportService
	logger       *logger.Logger
}

// NewCorrelationsHandler creates a new CorrelationsHandler
func NewCorrelationsHandler(engine *services.CorrelationEngine, correlations services.CorrelationStore, reports *services.ReportService, log *logger.Logger) *CorrelationsHandler {
	return &CorrelationsHandler{
		engine:       engine,
		correlations: correlations,
		reports:      reports,
		logger:       log.WithComponent("correlations-handler"),
	}
}

// Run handles POST /api/v1/correlations/run
func (h *CorrelationsHandler) Run(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.RunPass(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("correlation pass failed")
		h.respondError(w, http.StatusInternalServerError, "correlation pass failed")
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// List handles GET /api/v1/correlations
func (h *CorrelationsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	filter := models.CorrelationFilter{
		Type:   models.CorrelationType(r.URL.Query().Get("type")),
		Limit:  limit,
		Offset: offset,
	}

	if raw := r.URL.Query().Get("min_score"); raw != "" {
		minScore, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid min_score")
			return
		}
		filter.MinScore = minScore
	}

	correlations, err := h.correlations.ListCorrelations(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list correlations")
		h.respondError(w, http.StatusInternalServerError, "failed to fetch correlations")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"data":   correlations,
		"count":  len(correlations),
		"limit":  limit,
		"offset": offset,
	})
}

// Report handles GET /api/v1/correlations/report
func (h *CorrelationsHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.BuildReport(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("report generation failed")
		h.respondError(w, http.StatusInternalServerError, "report generation failed")
		return
	}

	h.respondJSON(w, http.StatusOK, report)
}

// GetStats handles GET /api/v1/correlations/stats
func (h *CorrelationsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.engine.GetStats())
}

// respondJSON sends a JSON response
func (h *CorrelationsHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func (h *CorrelationsHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
