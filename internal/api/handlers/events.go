package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/domain/services"
	"sentinel-lab/pkg/logger"
)

// maxIngestBatch bounds one ingestion request
const maxIngestBatch = 1000

// EventsHandler handles threat event endpoints
type EventsHandler struct {
	ingest *services.IngestService
	events services.ThreatEventStore
	logger *logger.Logger
}

// NewEventsHandler creates a new EventsHandler
func NewEventsHandler(ingest *services.IngestService, events services.ThreatEventStore, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		ingest: ingest,
		events: events,
		logger: log.WithComponent("events-handler"),
	}
}

// IngestRequest is the body of POST /api/v1/events/ingest
type IngestRequest struct {
	Source  string              `json:"source"`
	Records []models.FeedRecord `json:"records"`
}

// Ingest handles POST /api/v1/events/ingest
func (h *EventsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Source == "" {
		h.respondError(w, http.StatusBadRequest, "source required")
		return
	}

	if len(req.Records) == 0 {
		h.respondError(w, http.StatusBadRequest, "records required")
		return
	}

	if len(req.Records) > maxIngestBatch {
		h.respondError(w, http.StatusBadRequest, "maximum 1000 records per batch")
		return
	}

	result, err := h.ingest.IngestBatch(r.Context(), req.Source, req.Records)
	if err != nil {
		h.logger.Error().Err(err).Str("source", req.Source).Msg("batch ingestion failed")
		h.respondError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// List handles GET /api/v1/events
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	filter := models.ThreatEventFilter{
		Category: r.URL.Query().Get("category"),
		Source:   r.URL.Query().Get("source"),
		Limit:    limit,
		Offset:   offset,
	}

	events, err := h.events.ListThreatEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list threat events")
		h.respondError(w, http.StatusInternalServerError, "failed to fetch events")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"data":   events,
		"count":  len(events),
		"limit":  limit,
		"offset": offset,
	})
}

// respondJSON sends a JSON response
func (h *EventsHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func (h *EventsHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
