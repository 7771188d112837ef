package services

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

// IngestService turns raw feed records into threat events. Validation and
// persistence are best-effort per record: a bad record is counted and
// reported, never silently dropped, and never aborts the batch.
type IngestService struct {
	events    ThreatEventStore
	publisher EventPublisher
	logger    *logger.Logger

	// Statistics
	statsMu    sync.RWMutex
	batches    int64
	accepted   int64
	rejected   int64
	failed     int64
	lastIngest time.Time
}

// NewIngestService creates a new ingest service
func NewIngestService(events ThreatEventStore, log *logger.Logger) *IngestService {
	return &IngestService{
		events: events,
		logger: log.WithComponent("ingest"),
	}
}

// SetEventPublisher sets the event publisher for batch completions
func (s *IngestService) SetEventPublisher(publisher EventPublisher) {
	s.publisher = publisher
}

// IngestBatch upserts a batch of feed records as threat events. Each record
// is validated at the boundary (parseable IP, non-zero timestamp); rejects
// carry a reason in the result. Per-record storage failures are counted and
// logged while the batch continues.
func (s *IngestService) IngestBatch(ctx context.Context, source string, records []models.FeedRecord) (*models.IngestResult, error) {
	if source == "" {
		return nil, fmt.Errorf("feed source is required")
	}

	start := time.Now()
	result := &models.IngestResult{
		Source:   source,
		Received: len(records),
	}

	s.logger.Info().
		Str("source", source).
		Int("records", len(records)).
		Msg("ingesting threat feed batch")

	for i, record := range records {
		if reason := validateRecord(record); reason != "" {
			result.Rejected++
			result.Failures = append(result.Failures, models.RecordFailure{
				Index:  i,
				IP:     record.IP,
				Reason: reason,
			})
			continue
		}

		event := s.toEvent(source, record)
		if err := s.events.UpsertThreatEvent(ctx, event); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, models.RecordFailure{
				Index:  i,
				IP:     record.IP,
				Reason: fmt.Sprintf("storage: %v", err),
			})
			s.logger.Error().Err(err).
				Str("event_id", event.ID).
				Str("ip", event.IPAddress).
				Msg("failed to upsert threat event")
			continue
		}

		result.Accepted++
	}

	s.updateStats(result)

	if s.publisher != nil {
		if err := s.publisher.PublishIngest(ctx, result, time.Since(start)); err != nil {
			s.logger.Warn().Err(err).Str("source", source).Msg("failed to publish ingest event")
		}
	}

	s.logger.Info().
		Str("source", source).
		Int("accepted", result.Accepted).
		Int("rejected", result.Rejected).
		Int("failed", result.Failed).
		Dur("duration", time.Since(start)).
		Msg("threat feed batch ingested")

	return result, nil
}

// validateRecord returns a rejection reason, or empty when the record is
// acceptable
func validateRecord(record models.FeedRecord) string {
	if net.ParseIP(record.IP) == nil {
		return "unparseable ip address"
	}
	if record.Timestamp.IsZero() {
		return "zero timestamp"
	}
	return ""
}

// toEvent maps a validated feed record onto a threat event
func (s *IngestService) toEvent(source string, record models.FeedRecord) *models.ThreatEvent {
	now := time.Now().UTC()

	category := record.ThreatCategory
	if category == "" {
		category = "unknown"
	}

	firstSeen := record.Timestamp
	if record.FirstSeen != nil {
		firstSeen = *record.FirstSeen
	}
	lastSeen := record.Timestamp
	if record.LastSeen != nil {
		lastSeen = *record.LastSeen
	}

	return &models.ThreatEvent{
		ID:             models.NewThreatEventID(record.IP, record.Timestamp),
		IPAddress:      record.IP,
		ThreatCategory: category,
		Severity:       clamp(record.Severity, 0, 1),
		Confidence:     clamp(record.Confidence, 0, 1),
		Source:         source,
		CountryCode:    record.CountryCode,
		Latitude:       record.Latitude,
		Longitude:      record.Longitude,
		City:           record.City,
		Region:         record.Region,
		ISP:            record.ISP,
		ASN:            record.ASN,
		FirstSeen:      firstSeen,
		LastSeen:       lastSeen,
		ReportCount:    record.ReportCount,
		Categories:     record.Categories,
		RawData:        record.Raw,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// updateStats updates service statistics after a batch
func (s *IngestService) updateStats(result *models.IngestResult) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.batches++
	s.accepted += int64(result.Accepted)
	s.rejected += int64(result.Rejected)
	s.failed += int64(result.Failed)
	s.lastIngest = time.Now()
}

// IngestStats is a snapshot of ingestion counters
type IngestStats struct {
	Batches    int64     `json:"batches"`
	Accepted   int64     `json:"accepted"`
	Rejected   int64     `json:"rejected"`
	Failed     int64     `json:"failed"`
	LastIngest time.Time `json:"last_ingest"`
}

// GetStats returns ingest service statistics
func (s *IngestService) GetStats() IngestStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()

	return IngestStats{
		Batches:    s.batches,
		Accepted:   s.accepted,
		Rejected:   s.rejected,
		Failed:     s.failed,
		LastIngest: s.lastIngest,
	}
}
