package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/domain/services"
)

// Store is an in-memory implementation of every persistence interface the
// domain services consume. It backs the demo binary and the handler tests;
// production deployments use the Postgres repositories instead.
//
// Records are copied on the way in and out, so callers can never mutate
// stored state through a retained pointer. Upserts replace whole records.
type Store struct {
	mu sync.RWMutex

	enrichments  map[string]models.EnrichmentRecord
	events       map[string]models.ThreatEvent
	evidence     map[string]models.PhysicalEvidenceEvent
	correlations map[string]models.Correlation
}

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		enrichments:  make(map[string]models.EnrichmentRecord),
		events:       make(map[string]models.ThreatEvent),
		evidence:     make(map[string]models.PhysicalEvidenceEvent),
		correlations: make(map[string]models.Correlation),
	}
}

var (
	_ services.EnrichmentStore  = (*Store)(nil)
	_ services.ThreatEventStore = (*Store)(nil)
	_ services.EvidenceStore    = (*Store)(nil)
	_ services.CorrelationStore = (*Store)(nil)
)

// GetEnrichment returns the record for an IP, or (nil, nil) when absent
func (s *Store) GetEnrichment(_ context.Context, ip string) (*models.EnrichmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.enrichments[ip]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// UpsertEnrichment atomically replaces the record for record.IPAddress
func (s *Store) UpsertEnrichment(_ context.Context, record *models.EnrichmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enrichments[record.IPAddress] = *record
	return nil
}

// UpsertThreatEvent creates or replaces an event by ID
func (s *Store) UpsertThreatEvent(_ context.Context, event *models.ThreatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.ID] = *event
	return nil
}

// ListThreatEvents returns events matching the filter, newest first
func (s *Store) ListThreatEvents(_ context.Context, filter models.ThreatEventFilter) ([]*models.ThreatEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.ThreatEvent, 0)
	for _, event := range s.events {
		if !matchesEventFilter(&event, filter) {
			continue
		}
		e := event
		matched = append(matched, &e)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].LastSeen.Equal(matched[j].LastSeen) {
			return matched[i].LastSeen.After(matched[j].LastSeen)
		}
		return matched[i].ID < matched[j].ID
	})

	// Offset past the end yields an empty page, same as SQL LIMIT/OFFSET
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*models.ThreatEvent{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func matchesEventFilter(e *models.ThreatEvent, f models.ThreatEventFilter) bool {
	if f.Category != "" && e.ThreatCategory != f.Category {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.CountryCode != "" && e.CountryCode != f.CountryCode {
		return false
	}
	if f.Since != nil && e.LastSeen.Before(*f.Since) {
		return false
	}
	return true
}

// SourceActivity aggregates per-source counts and averages since the cutoff
func (s *Store) SourceActivity(_ context.Context, since time.Time) ([]models.SourceActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type acc struct {
		count      int64
		severity   float64
		confidence float64
	}
	bySource := make(map[string]*acc)

	for _, event := range s.events {
		if event.LastSeen.Before(since) {
			continue
		}
		a, ok := bySource[event.Source]
		if !ok {
			a = &acc{}
			bySource[event.Source] = a
		}
		a.count++
		a.severity += event.Severity
		a.confidence += event.Confidence
	}

	result := make([]models.SourceActivity, 0, len(bySource))
	for source, a := range bySource {
		result = append(result, models.SourceActivity{
			Source:        source,
			EventCount:    a.count,
			AvgSeverity:   a.severity / float64(a.count),
			AvgConfidence: a.confidence / float64(a.count),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].EventCount != result[j].EventCount {
			return result[i].EventCount > result[j].EventCount
		}
		return result[i].Source < result[j].Source
	})

	return result, nil
}

// TopCategories aggregates per-category counts and averages since the cutoff
func (s *Store) TopCategories(_ context.Context, since time.Time, limit int) ([]models.CategoryActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type acc struct {
		count    int64
		severity float64
	}
	byCategory := make(map[string]*acc)

	for _, event := range s.events {
		if event.LastSeen.Before(since) {
			continue
		}
		a, ok := byCategory[event.ThreatCategory]
		if !ok {
			a = &acc{}
			byCategory[event.ThreatCategory] = a
		}
		a.count++
		a.severity += event.Severity
	}

	result := make([]models.CategoryActivity, 0, len(byCategory))
	for category, a := range byCategory {
		result = append(result, models.CategoryActivity{
			Category:    category,
			Count:       a.count,
			AvgSeverity: a.severity / float64(a.count),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Category < result[j].Category
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// GeoDistribution aggregates per-(country, city) counts since the cutoff.
// Events without a country code carry no usable geography and are skipped.
func (s *Store) GeoDistribution(_ context.Context, since time.Time, limit int) ([]models.GeoActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type cell struct {
		country string
		city    string
	}
	type acc struct {
		count    int64
		severity float64
	}
	byCell := make(map[cell]*acc)

	for _, event := range s.events {
		if event.LastSeen.Before(since) || event.CountryCode == "" {
			continue
		}
		c := cell{country: event.CountryCode, city: event.City}
		a, ok := byCell[c]
		if !ok {
			a = &acc{}
			byCell[c] = a
		}
		a.count++
		a.severity += event.Severity
	}

	result := make([]models.GeoActivity, 0, len(byCell))
	for c, a := range byCell {
		result = append(result, models.GeoActivity{
			CountryCode: c.country,
			City:        c.city,
			EventCount:  a.count,
			AvgSeverity: a.severity / float64(a.count),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].EventCount != result[j].EventCount {
			return result[i].EventCount > result[j].EventCount
		}
		if result[i].CountryCode != result[j].CountryCode {
			return result[i].CountryCode < result[j].CountryCode
		}
		return result[i].City < result[j].City
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// UpsertEvidence creates or replaces an evidence record by ID
func (s *Store) UpsertEvidence(_ context.Context, evidence *models.PhysicalEvidenceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evidence[evidence.ID] = *evidence
	return nil
}

// ListEvidenceWithLocation returns located evidence newer than the cutoff
func (s *Store) ListEvidenceWithLocation(_ context.Context, since time.Time) ([]*models.PhysicalEvidenceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.PhysicalEvidenceEvent, 0)
	for _, evidence := range s.evidence {
		if !evidence.HasCoordinates() || evidence.OccurredAt.Before(since) {
			continue
		}
		e := evidence
		matched = append(matched, &e)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].OccurredAt.After(matched[j].OccurredAt)
		}
		return matched[i].ID < matched[j].ID
	})

	return matched, nil
}

// UpsertCorrelation creates or replaces a correlation by ID
func (s *Store) UpsertCorrelation(_ context.Context, correlation *models.Correlation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.correlations[correlation.ID] = *correlation
	return nil
}

// ListCorrelations returns correlations matching the filter, newest first
func (s *Store) ListCorrelations(_ context.Context, filter models.CorrelationFilter) ([]*models.Correlation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.Correlation, 0)
	for _, correlation := range s.correlations {
		if !matchesCorrelationFilter(&correlation, filter) {
			continue
		}
		c := correlation
		matched = append(matched, &c)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*models.Correlation{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func matchesCorrelationFilter(c *models.Correlation, f models.CorrelationFilter) bool {
	if f.Type != "" && c.Type != f.Type {
		return false
	}
	if f.MinScore > 0 && c.Score < f.MinScore {
		return false
	}
	if f.Since != nil && c.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// CorrelationStatsByType aggregates persisted correlations per type since the cutoff
func (s *Store) CorrelationStatsByType(_ context.Context, since time.Time) ([]models.CorrelationTypeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type acc struct {
		count int64
		score float64
	}
	byType := make(map[models.CorrelationType]*acc)

	for _, correlation := range s.correlations {
		if correlation.CreatedAt.Before(since) {
			continue
		}
		a, ok := byType[correlation.Type]
		if !ok {
			a = &acc{}
			byType[correlation.Type] = a
		}
		a.count++
		a.score += correlation.Score
	}

	result := make([]models.CorrelationTypeStats, 0, len(byType))
	for t, a := range byType {
		result = append(result, models.CorrelationTypeStats{
			Type:     t,
			Count:    a.count,
			AvgScore: a.score / float64(a.count),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Type < result[j].Type
	})

	return result, nil
}
