package services

import (
	"context"
	"errors"
	"time"

	"sentinel-lab/internal/domain/models"
)

// ErrInvalidIP is returned when a caller hands the enrichment cache a value
// that does not parse as an IP address
var ErrInvalidIP = errors.New("invalid ip address")

// EnrichmentStore persists enrichment records keyed by IP address.
// Implementations must replace the whole record atomically on upsert.
type EnrichmentStore interface {
	// GetEnrichment returns the record for an IP, or (nil, nil) when absent
	GetEnrichment(ctx context.Context, ip string) (*models.EnrichmentRecord, error)

	// UpsertEnrichment atomically replaces the record for record.IPAddress
	UpsertEnrichment(ctx context.Context, record *models.EnrichmentRecord) error
}

// ThreatEventStore persists threat events keyed by their content-addressed ID
type ThreatEventStore interface {
	// UpsertThreatEvent creates or replaces an event by ID (latest wins)
	UpsertThreatEvent(ctx context.Context, event *models.ThreatEvent) error

	// ListThreatEvents returns events matching the filter, newest first
	ListThreatEvents(ctx context.Context, filter models.ThreatEventFilter) ([]*models.ThreatEvent, error)

	// SourceActivity aggregates per-source counts and averages since the cutoff
	SourceActivity(ctx context.Context, since time.Time) ([]models.SourceActivity, error)

	// TopCategories aggregates per-category counts and averages since the cutoff
	TopCategories(ctx context.Context, since time.Time, limit int) ([]models.CategoryActivity, error)

	// GeoDistribution aggregates per-(country, city) counts since the cutoff
	GeoDistribution(ctx context.Context, since time.Time, limit int) ([]models.GeoActivity, error)
}

// EvidenceStore persists physical evidence events
type EvidenceStore interface {
	// UpsertEvidence creates or replaces an evidence record by ID
	UpsertEvidence(ctx context.Context, evidence *models.PhysicalEvidenceEvent) error

	// ListEvidenceWithLocation returns located evidence newer than the cutoff
	ListEvidenceWithLocation(ctx context.Context, since time.Time) ([]*models.PhysicalEvidenceEvent, error)
}

// CorrelationStore persists correlations keyed by their composite ID
type CorrelationStore interface {
	// UpsertCorrelation creates or replaces a correlation by ID
	UpsertCorrelation(ctx context.Context, correlation *models.Correlation) error

	// ListCorrelations returns correlations matching the filter, newest first
	ListCorrelations(ctx context.Context, filter models.CorrelationFilter) ([]*models.Correlation, error)

	// CorrelationStatsByType aggregates per-type counts and averages since the cutoff
	CorrelationStatsByType(ctx context.Context, since time.Time) ([]models.CorrelationTypeStats, error)
}

// EventPublisher publishes domain events for downstream consumers
type EventPublisher interface {
	// PublishCorrelation publishes a persisted correlation
	PublishCorrelation(ctx context.Context, correlation *models.Correlation) error

	// PublishIngest publishes the completion of a feed batch ingestion
	PublishIngest(ctx context.Context, result *models.IngestResult, duration time.Duration) error
}
