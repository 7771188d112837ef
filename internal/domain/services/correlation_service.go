package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sentinel-lab/internal/config"
	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

// Correlation scoring terms. Temporal and spatial proximity decay linearly
// inside their windows; each matching pattern rule contributes its weight
// scaled by the pattern term. Pattern contributions stack across rules with
// no per-term cap; only the overall score is capped at 1.0.
const (
	temporalWeight = 0.3
	spatialWeight  = 0.4
	patternWeight  = 0.3

	// temporalWindowSeconds is the horizon beyond which a pair earns no
	// temporal term.
	temporalWindowSeconds = 86400.0

	// spatialWindowKm is the distance beyond which a pair earns no
	// spatial term.
	spatialWindowKm = 10.0

	// correlationThreshold gates persistence. Strictly greater-than: a
	// pair scoring exactly 0.5 is dropped.
	correlationThreshold = 0.5
)

// CorrelationEngine scores (cyber, physical) event pairs and persists the
// links that clear the threshold. Scoring is pure and order-independent;
// ids are content-addressed so re-runs overwrite instead of duplicating.
type CorrelationEngine struct {
	events       ThreatEventStore
	evidence     EvidenceStore
	correlations CorrelationStore
	publisher    EventPublisher
	rules        []models.PatternRule
	logger       *logger.Logger

	cyberWindow     time.Duration
	physicalWindow  time.Duration
	homeCountryOnly bool
	homeCountry     string

	// Statistics
	statsMu         sync.RWMutex
	totalRuns       int64
	totalPersisted  int64
	byType          map[string]int64
	processingTimes []time.Duration
	lastRun         time.Time
}

// NewCorrelationEngine creates a new correlation engine
func NewCorrelationEngine(
	cfg config.CorrelationConfig,
	homeCountry string,
	events ThreatEventStore,
	evidence EvidenceStore,
	correlations CorrelationStore,
	log *logger.Logger,
) *CorrelationEngine {
	cyberWindow := cfg.CyberWindow
	if cyberWindow <= 0 {
		cyberWindow = 7 * 24 * time.Hour
	}
	physicalWindow := cfg.PhysicalWindow
	if physicalWindow <= 0 {
		physicalWindow = 7 * 24 * time.Hour
	}

	return &CorrelationEngine{
		events:          events,
		evidence:        evidence,
		correlations:    correlations,
		rules:           models.DefaultPatternRules(),
		logger:          log.WithComponent("correlation-engine"),
		cyberWindow:     cyberWindow,
		physicalWindow:  physicalWindow,
		homeCountryOnly: cfg.HomeCountryOnly,
		homeCountry:     homeCountry,
		byType:          make(map[string]int64),
		processingTimes: make([]time.Duration, 0, 100),
	}
}

// SetEventPublisher sets the event publisher for persisted correlations
func (e *CorrelationEngine) SetEventPublisher(publisher EventPublisher) {
	e.publisher = publisher
	e.logger.Info().Msg("event publisher configured")
}

// SetRules replaces the pattern rule table
func (e *CorrelationEngine) SetRules(rules []models.PatternRule) {
	e.rules = rules
}

// Correlate scores every (cyber, physical) pair and returns the links that
// clear the threshold. Pure function of its inputs: no storage, no clock
// beyond the CreatedAt stamp.
func (e *CorrelationEngine) Correlate(cyberEvents []*models.ThreatEvent, physicalEvents []*models.PhysicalEvidenceEvent) []*models.Correlation {
	correlations := make([]*models.Correlation, 0)
	now := time.Now().UTC()

	for _, cyber := range cyberEvents {
		for _, physical := range physicalEvents {
			score := e.scorePair(cyber, physical)
			if score <= correlationThreshold {
				continue
			}

			correlations = append(correlations, &models.Correlation{
				ID:              models.NewCorrelationID(cyber.ID, physical.ID),
				CyberEventID:    cyber.ID,
				PhysicalEventID: physical.ID,
				Type:            e.classify(cyber.ThreatCategory, physical.Kind),
				Score:           score,
				Evidence:        e.evidenceLinks(cyber, physical),
				CreatedAt:       now,
			})
		}
	}

	return correlations
}

// scorePair computes the correlation score for one pair
func (e *CorrelationEngine) scorePair(cyber *models.ThreatEvent, physical *models.PhysicalEvidenceEvent) float64 {
	score := e.temporalTerm(cyber, physical) +
		e.spatialTerm(cyber, physical) +
		e.patternTerm(cyber, physical)

	return clamp(score, 0, 1)
}

// temporalTerm decays linearly from 0.3 at zero offset to 0 at 24 hours
func (e *CorrelationEngine) temporalTerm(cyber *models.ThreatEvent, physical *models.PhysicalEvidenceEvent) float64 {
	dt := cyber.OccurredAt().Sub(physical.OccurredAt).Seconds()
	if dt < 0 {
		dt = -dt
	}
	if dt >= temporalWindowSeconds {
		return 0
	}
	return temporalWeight * (1 - dt/temporalWindowSeconds)
}

// spatialTerm decays linearly from 0.4 at zero distance to 0 at 10km.
// Missing coordinates on either side mean no spatial term, never an error.
func (e *CorrelationEngine) spatialTerm(cyber *models.ThreatEvent, physical *models.PhysicalEvidenceEvent) float64 {
	if !cyber.HasCoordinates() || !physical.HasCoordinates() {
		return 0
	}
	d := haversineKm(*cyber.Latitude, *cyber.Longitude, *physical.Latitude, *physical.Longitude)
	if d >= spatialWindowKm {
		return 0
	}
	return spatialWeight * (1 - d/spatialWindowKm)
}

// patternTerm sums weight * 0.3 over every rule covering the category pair.
// Rules are not exclusive, so the term can exceed 0.3 on its own.
func (e *CorrelationEngine) patternTerm(cyber *models.ThreatEvent, physical *models.PhysicalEvidenceEvent) float64 {
	var term float64
	for _, rule := range e.rules {
		if rule.Matches(cyber.ThreatCategory, physical.Kind) {
			term += rule.Weight * patternWeight
		}
	}
	return term
}

// classify determines the correlation type for a category pair. First match
// wins, on case-insensitive substrings.
func (e *CorrelationEngine) classify(cyberCategory, physicalKind string) models.CorrelationType {
	cyber := strings.ToLower(cyberCategory)
	physical := strings.ToLower(physicalKind)

	switch {
	case strings.Contains(cyber, "fraud") && strings.Contains(physical, "anpr"):
		return models.CorrelationFraudVehicle
	case strings.Contains(cyber, "sim_swap") && strings.Contains(physical, "theft"):
		return models.CorrelationSimSwapTheft
	case strings.Contains(cyber, "phishing") && strings.Contains(physical, "cyber_fraud"):
		return models.CorrelationPhishingFraud
	default:
		return models.CorrelationGeneral
	}
}

// evidenceLinks renders the human-readable justification for a pair
func (e *CorrelationEngine) evidenceLinks(cyber *models.ThreatEvent, physical *models.PhysicalEvidenceEvent) []string {
	links := []string{
		"Events occurred within 24 hours of each other",
	}

	if cyber.HasCoordinates() && physical.HasCoordinates() {
		d := haversineKm(*cyber.Latitude, *cyber.Longitude, *physical.Latitude, *physical.Longitude)
		links = append(links, fmt.Sprintf("Events occurred within %.1fkm of each other", d))
	}

	links = append(links, fmt.Sprintf(
		"Cyber threat type '%s' correlates with physical event type '%s'",
		cyber.ThreatCategory, physical.Kind,
	))

	return links
}

// RunPass loads the current event windows, correlates them, persists the
// results, and publishes one event per persisted correlation. Window
// retrieval failures are fatal to the pass; per-correlation persistence
// failures are counted and the pass continues.
func (e *CorrelationEngine) RunPass(ctx context.Context) (*models.CorrelationRunResult, error) {
	start := time.Now()

	result := &models.CorrelationRunResult{
		StartedAt: start,
	}

	cyberSince := start.Add(-e.cyberWindow)
	filter := models.ThreatEventFilter{Since: &cyberSince}
	if e.homeCountryOnly && e.homeCountry != "" {
		filter.CountryCode = e.homeCountry
	}

	cyberEvents, err := e.events.ListThreatEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load cyber events: %w", err)
	}

	physicalEvents, err := e.evidence.ListEvidenceWithLocation(ctx, start.Add(-e.physicalWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load physical evidence: %w", err)
	}

	result.CyberEvents = len(cyberEvents)
	result.PhysicalEvents = len(physicalEvents)
	result.PairsScored = len(cyberEvents) * len(physicalEvents)

	e.logger.Info().
		Int("cyber_events", result.CyberEvents).
		Int("physical_events", result.PhysicalEvents).
		Msg("starting correlation pass")

	correlations := e.Correlate(cyberEvents, physicalEvents)
	result.Found = len(correlations)

	for _, correlation := range correlations {
		if err := e.correlations.UpsertCorrelation(ctx, correlation); err != nil {
			result.Failed++
			e.logger.Error().Err(err).
				Str("correlation_id", correlation.ID).
				Msg("failed to persist correlation")
			continue
		}
		result.Persisted++

		if e.publisher != nil {
			if err := e.publisher.PublishCorrelation(ctx, correlation); err != nil {
				e.logger.Warn().Err(err).
					Str("correlation_id", correlation.ID).
					Msg("failed to publish correlation event")
			}
		}
	}

	result.Duration = time.Since(start)
	e.updateStats(correlations, result)

	e.logger.Info().
		Int("found", result.Found).
		Int("persisted", result.Persisted).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("correlation pass completed")

	return result, nil
}

// updateStats updates engine statistics after a pass
func (e *CorrelationEngine) updateStats(correlations []*models.Correlation, result *models.CorrelationRunResult) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	e.totalRuns++
	e.totalPersisted += int64(result.Persisted)
	e.lastRun = time.Now()

	for _, correlation := range correlations {
		e.byType[correlation.Type.String()]++
	}

	e.processingTimes = append(e.processingTimes, result.Duration)
	if len(e.processingTimes) > 100 {
		e.processingTimes = e.processingTimes[1:]
	}
}

// CorrelationEngineStats is a snapshot of engine counters
type CorrelationEngineStats struct {
	TotalRuns             int64            `json:"total_runs"`
	TotalPersisted        int64            `json:"total_persisted"`
	CorrelationsByType    map[string]int64 `json:"correlations_by_type"`
	AverageProcessingTime time.Duration    `json:"average_processing_time"`
	LastRunAt             time.Time        `json:"last_run_at"`
}

// GetStats returns correlation engine statistics
func (e *CorrelationEngine) GetStats() *CorrelationEngineStats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()

	stats := &CorrelationEngineStats{
		TotalRuns:          e.totalRuns,
		TotalPersisted:     e.totalPersisted,
		CorrelationsByType: make(map[string]int64),
		LastRunAt:          e.lastRun,
	}

	for k, v := range e.byType {
		stats.CorrelationsByType[k] = v
	}

	if len(e.processingTimes) > 0 {
		var total time.Duration
		for _, t := range e.processingTimes {
			total += t
		}
		stats.AverageProcessingTime = total / time.Duration(len(e.processingTimes))
	}

	return stats
}
