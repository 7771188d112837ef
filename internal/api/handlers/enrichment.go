package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sentinel-lab/internal/domain/services"
	"sentinel-lab/pkg/logger"
)

// EnrichmentHandler handles IP enrichment endpoints
type EnrichmentHandler struct {
	enrichment *services.EnrichmentService
	logger     *logger.Logger
}

// NewEnrichmentHandler creates a new EnrichmentHandler
func NewEnrichmentHandler(enrichment *services.EnrichmentService, log *logger.Logger) *EnrichmentHandler {
	return &EnrichmentHandler{
		enrichment: enrichment,
		logger:     log.WithComponent("enrichment-handler"),
	}
}

// Get handles GET /api/v1/enrichment/{ip}
func (h *EnrichmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")

	record, err := h.enrichment.GetOrRefresh(r.Context(), ip)
	if err != nil {
		if errors.Is(err, services.ErrInvalidIP) {
			h.respondError(w, http.StatusBadRequest, "invalid ip address")
			return
		}
		h.logger.Error().Err(err).Str("ip", ip).Msg("enrichment lookup failed")
		h.respondError(w, http.StatusInternalServerError, "enrichment lookup failed")
		return
	}

	h.respondJSON(w, http.StatusOK, record)
}

// GetStats handles GET /api/v1/enrichment/stats
func (h *EnrichmentHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.enrichment.GetStats())
}

// respondJSON sends a JSON response
func (h *EnrichmentHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func (h *EnrichmentHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
