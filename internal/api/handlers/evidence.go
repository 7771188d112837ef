package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/domain/services"
	"sentinel-lab/pkg/logger"
)

// EvidenceHandler handles physical evidence ingestion
type EvidenceHandler struct {
	evidence services.EvidenceStore
	logger   *logger.Logger
}

// NewEvidenceHandler creates a new EvidenceHandler
func NewEvidenceHandler(evidence services.EvidenceStore, log *logger.Logger) *EvidenceHandler {
	return &EvidenceHandler{
		evidence: evidence,
		logger:   log.WithComponent("evidence-handler"),
	}
}

// EvidenceRecord is one entry in the body of POST /api/v1/evidence
type EvidenceRecord struct {
	ID           string          `json:"evidence_id,omitempty"`
	Kind         string          `json:"kind"`
	Latitude     *float64        `json:"latitude,omitempty"`
	Longitude    *float64        `json:"longitude,omitempty"`
	LocationName string          `json:"location_name,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// EvidenceIngestResult summarizes one evidence batch
type EvidenceIngestResult struct {
	Received int                    `json:"received"`
	Accepted int                    `json:"accepted"`
	Rejected int                    `json:"rejected"`
	Failed   int                    `json:"failed"`
	Failures []models.RecordFailure `json:"failures,omitempty"`
}

// Ingest handles POST /api/v1/evidence
func (h *EvidenceHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Records []EvidenceRecord `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
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

	result := EvidenceIngestResult{Received: len(req.Records)}

	for i, record := range req.Records {
		if reason := validateEvidence(record); reason != "" {
			result.Rejected++
			result.Failures = append(result.Failures, models.RecordFailure{
				Index:  i,
				Reason: reason,
			})
			continue
		}

		event := toEvidenceEvent(record)
		if err := h.evidence.UpsertEvidence(r.Context(), event); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, models.RecordFailure{
				Index:  i,
				Reason: "storage: " + err.Error(),
			})
			h.logger.Error().Err(err).
				Str("evidence_id", event.ID).
				Msg("failed to upsert evidence")
			continue
		}

		result.Accepted++
	}

	h.respondJSON(w, http.StatusOK, result)
}

// validateEvidence returns a rejection reason, or empty when the record is
// acceptable
func validateEvidence(record EvidenceRecord) string {
	if record.Kind == "" {
		return "empty kind"
	}
	if record.OccurredAt.IsZero() {
		return "zero timestamp"
	}
	return ""
}

// toEvidenceEvent maps a validated record onto an evidence event, deriving
// the content-addressed ID when the caller did not supply one
func toEvidenceEvent(record EvidenceRecord) *models.PhysicalEvidenceEvent {
	id := record.ID
	if id == "" {
		id = models.NewEvidenceID(record.Kind, record.OccurredAt, record.LocationName)
	}

	return &models.PhysicalEvidenceEvent{
		ID:           id,
		Kind:         record.Kind,
		Latitude:     record.Latitude,
		Longitude:    record.Longitude,
		LocationName: record.LocationName,
		Metadata:     record.Metadata,
		OccurredAt:   record.OccurredAt,
		CreatedAt:    time.Now().UTC(),
	}
}

// respondJSON sends a JSON response
func (h *EvidenceHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func (h *EvidenceHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
