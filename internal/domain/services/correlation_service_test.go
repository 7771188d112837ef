package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-lab/internal/config"
	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

func coord(v float64) *float64 {
	return &v
}

func newTestEngine(events *fakeEventStore, evidence *fakeEvidenceStore, correlations *fakeCorrelationStore) *CorrelationEngine {
	return NewCorrelationEngine(config.CorrelationConfig{}, "", events, evidence, correlations, logger.NewNop())
}

func TestCorrelateEndToEndScenario(t *testing.T) {
	engine := newTestEngine(newFakeEventStore(), newFakeEvidenceStore(), newFakeCorrelationStore())
	engine.SetRules([]models.PatternRule{{
		Name:               "phishing_cyber_fraud",
		CyberCategories:    []string{"phishing"},
		PhysicalCategories: []string{"cyber_fraud"},
		Weight:             0.6,
	}})

	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cyber := &models.ThreatEvent{
		ID:             "cyber-1",
		IPAddress:      "41.0.0.1",
		ThreatCategory: "phishing",
		Latitude:       coord(-26.20),
		Longitude:      coord(28.04),
		LastSeen:       at,
	}
	physical := &models.PhysicalEvidenceEvent{
		ID:         "phys-1",
		Kind:       "cyber_fraud",
		Latitude:   coord(-26.21),
		Longitude:  coord(28.05),
		OccurredAt: at.Add(time.Hour),
	}

	got := engine.Correlate([]*models.ThreatEvent{cyber}, []*models.PhysicalEvidenceEvent{physical})
	require.Len(t, got, 1)

	correlation := got[0]

	// 0.3*(1 - 3600/86400) temporal, 0.4*(1 - d/10) spatial with d just
	// under 1.5km, 0.6*0.3 pattern.
	assert.InDelta(t, 0.816, correlation.Score, 0.02)
	assert.Equal(t, models.CorrelationPhishingFraud, correlation.Type)
	assert.Equal(t, "cyber-1", correlation.CyberEventID)
	assert.Equal(t, "phys-1", correlation.PhysicalEventID)
	assert.Equal(t, models.NewCorrelationID("cyber-1", "phys-1"), correlation.ID)
}

func TestCorrelateDropsAtOrBelowThreshold(t *testing.T) {
	engine := newTestEngine(newFakeEventStore(), newFakeEvidenceStore(), newFakeCorrelationStore())
	engine.SetRules(nil)

	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// Co-timed but unlocated and unmatched: temporal term only, 0.3.
	cyber := &models.ThreatEvent{ID: "cyber-1", ThreatCategory: "botnet_c2", LastSeen: at}
	physical := &models.PhysicalEvidenceEvent{ID: "phys-1", Kind: "burglary", OccurredAt: at}

	got := engine.Correlate([]*models.ThreatEvent{cyber}, []*models.PhysicalEvidenceEvent{physical})
	assert.Empty(t, got)

	// Two days apart with nothing else in common: zero score.
	physical.OccurredAt = at.Add(48 * time.Hour)
	assert.InDelta(t, 0, engine.scorePair(cyber, physical), 1e-9)
	assert.Empty(t, engine.Correlate([]*models.ThreatEvent{cyber}, []*models.PhysicalEvidenceEvent{physical}))
}

func TestCorrelatePatternStackingAndCap(t *testing.T) {
	engine := newTestEngine(newFakeEventStore(), newFakeEvidenceStore(), newFakeCorrelationStore())
	engine.SetRules([]models.PatternRule{
		{Name: "breach_card", CyberCategories: []string{"data_breach"}, PhysicalCategories: []string{"card_theft"}, Weight: 1.0},
		{Name: "breach_card_alt", CyberCategories: []string{"data_breach"}, PhysicalCategories: []string{"card_theft"}, Weight: 0.9},
	})

	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cyber := &models.ThreatEvent{
		ID:             "cyber-1",
		ThreatCategory: "data_breach",
		Latitude:       coord(-26.20),
		Longitude:      coord(28.04),
		LastSeen:       at,
	}
	physical := &models.PhysicalEvidenceEvent{
		ID:         "phys-1",
		Kind:       "card_theft",
		Latitude:   coord(-26.20),
		Longitude:  coord(28.04),
		OccurredAt: at,
	}

	// Rules are not exclusive: both contribute, pushing the pattern term
	// past its nominal 0.3 weight.
	assert.InDelta(t, 0.57, engine.patternTerm(cyber, physical), 1e-9)

	// 0.3 + 0.4 + 0.57 = 1.27 before the cap.
	got := engine.Correlate([]*models.ThreatEvent{cyber}, []*models.PhysicalEvidenceEvent{physical})
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
}

func TestTemporalTerm(t *testing.T) {
	engine := newTestEngine(newFakeEventStore(), newFakeEvidenceStore(), newFakeCorrelationStore())
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	cyber := &models.ThreatEvent{LastSeen: at}

	tests := []struct {
		name   string
		offset time.Duration
		want   float64
	}{
		{"simultaneous", 0, 0.3},
		{"twelve hours after", 12 * time.Hour, 0.15},
		{"twelve hours before", -12 * time.Hour, 0.15},
		{"at the window edge", 24 * time.Hour, 0},
		{"beyond the window", 30 * time.Hour, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			physical := &models.PhysicalEvidenceEvent{OccurredAt: at.Add(tt.offset)}
			assert.InDelta(t, tt.want, engine.temporalTerm(cyber, physical), 1e-9)
		})
	}
}

func TestSpatialTerm(t *testing.T) {
	engine := newTestEngine(newFakeEventStore(), newFakeEvidenceStore(), newFakeCorrelationStore())

	located := &models.ThreatEvent{Latitude: coord(-26.20), Longitude: coord(28.04)}
	unlocated := &models.ThreatEvent{}

	colocated := &models.PhysicalEvidenceEvent{Latitude: coord(-26.20), Longitude: coord(28.04)}
	farAway := &models.PhysicalEvidenceEvent{Latitude: coord(-33.92), Longitude: coord(18.42)}
	noCoords := &models.PhysicalEvidenceEvent{}

	assert.InDelta(t, 0.4, engine.spatialTerm(located, colocated), 1e-9)
	assert.InDelta(t, 0, engine.spatialTerm(located, farAway), 1e-9)
	assert.InDelta(t, 0, engine.spatialTerm(located, noCoords), 1e-9)
	assert.InDelta(t, 0, engine.spatialTerm(unlocated, colocated), 1e-9)
}

func TestClassifyPriority(t *testing.T) {
	engine := newTestEngine(newFakeEventStore(), newFakeEvidenceStore(), newFakeCorrelationStore())

	tests := []struct {
		name     string
		cyber    string
		physical string
		want     models.CorrelationType
	}{
		{"fraud with anpr", "online_fraud", "anpr_hit", models.CorrelationFraudVehicle},
		{"fraud and anpr outranks sim swap theft", "sim_swap_fraud", "anpr_vehicle_theft", models.CorrelationFraudVehicle},
		{"sim swap with theft", "sim_swap", "phone_theft", models.CorrelationSimSwapTheft},
		{"phishing with cyber fraud", "phishing", "cyber_fraud", models.CorrelationPhishingFraud},
		{"case insensitive", "PHISHING", "Cyber_Fraud", models.CorrelationPhishingFraud},
		{"no match falls back to general", "botnet_c2", "burglary", models.CorrelationGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.classify(tt.cyber, tt.physical))
		})
	}
}

func TestEvidenceLinks(t *testing.T) {
	engine := newTestEngine(newFakeEventStore(), newFakeEvidenceStore(), newFakeCorrelationStore())

	cyber := &models.ThreatEvent{
		ThreatCategory: "phishing",
		Latitude:       coord(-26.20),
		Longitude:      coord(28.04),
	}
	physical := &models.PhysicalEvidenceEvent{
		Kind:      "cyber_fraud",
		Latitude:  coord(-26.21),
		Longitude: coord(28.05),
	}

	links := engine.evidenceLinks(cyber, physical)
	require.Len(t, links, 3)
	assert.Equal(t, "Events occurred within 24 hours of each other", links[0])
	assert.Equal(t, "Events occurred within 1.5km of each other", links[1])
	assert.Equal(t, "Cyber threat type 'phishing' correlates with physical event type 'cyber_fraud'", links[2])
}

func TestEvidenceLinksWithoutCoordinates(t *testing.T) {
	engine := newTestEngine(newFakeEventStore(), newFakeEvidenceStore(), newFakeCorrelationStore())

	cyber := &models.ThreatEvent{ThreatCategory: "sim_swap"}
	physical := &models.PhysicalEvidenceEvent{Kind: "phone_theft"}

	links := engine.evidenceLinks(cyber, physical)
	require.Len(t, links, 2)
	assert.Equal(t, "Events occurred within 24 hours of each other", links[0])
	assert.Equal(t, "Cyber threat type 'sim_swap' correlates with physical event type 'phone_theft'", links[1])
}

func TestCorrelateOrderIndependent(t *testing.T) {
	engine := newTestEngine(newFakeEventStore(), newFakeEvidenceStore(), newFakeCorrelationStore())

	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cyberEvents := []*models.ThreatEvent{
		{ID: "cyber-1", ThreatCategory: "sim_swap", Latitude: coord(-26.20), Longitude: coord(28.04), LastSeen: at},
		{ID: "cyber-2", ThreatCategory: "phishing", Latitude: coord(-26.20), Longitude: coord(28.04), LastSeen: at.Add(time.Hour)},
	}
	physicalEvents := []*models.PhysicalEvidenceEvent{
		{ID: "phys-1", Kind: "phone_theft", Latitude: coord(-26.20), Longitude: coord(28.04), OccurredAt: at},
		{ID: "phys-2", Kind: "document_theft", Latitude: coord(-26.21), Longitude: coord(28.05), OccurredAt: at.Add(2 * time.Hour)},
	}

	forward := engine.Correlate(cyberEvents, physicalEvents)

	reversedCyber := []*models.ThreatEvent{cyberEvents[1], cyberEvents[0]}
	reversedPhysical := []*models.PhysicalEvidenceEvent{physicalEvents[1], physicalEvents[0]}
	backward := engine.Correlate(reversedCyber, reversedPhysical)

	require.Equal(t, len(forward), len(backward))

	scoresByID := func(correlations []*models.Correlation) map[string]float64 {
		out := make(map[string]float64, len(correlations))
		for _, c := range correlations {
			out[c.ID] = c.Score
		}
		return out
	}
	assert.Equal(t, scoresByID(forward), scoresByID(backward))
}

func TestCorrelateIdempotentIDs(t *testing.T) {
	engine := newTestEngine(newFakeEventStore(), newFakeEvidenceStore(), newFakeCorrelationStore())

	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cyber := []*models.ThreatEvent{
		{ID: "cyber-1", ThreatCategory: "sim_swap", Latitude: coord(-26.20), Longitude: coord(28.04), LastSeen: at},
	}
	physical := []*models.PhysicalEvidenceEvent{
		{ID: "phys-1", Kind: "phone_theft", Latitude: coord(-26.20), Longitude: coord(28.04), OccurredAt: at},
	}

	first := engine.Correlate(cyber, physical)
	second := engine.Correlate(cyber, physical)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestRunPassPersistsAndPublishes(t *testing.T) {
	events := newFakeEventStore()
	evidence := newFakeEvidenceStore()
	correlations := newFakeCorrelationStore()
	publisher := &fakePublisher{}

	at := time.Now().UTC().Add(-2 * time.Hour)
	events.listOut = []*models.ThreatEvent{
		{ID: "cyber-1", ThreatCategory: "sim_swap", Latitude: coord(-26.20), Longitude: coord(28.04), LastSeen: at},
	}
	evidence.listOut = []*models.PhysicalEvidenceEvent{
		{ID: "phys-1", Kind: "phone_theft", Latitude: coord(-26.20), Longitude: coord(28.04), OccurredAt: at},
	}

	engine := newTestEngine(events, evidence, correlations)
	engine.SetEventPublisher(publisher)

	result, err := engine.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.CyberEvents)
	assert.Equal(t, 1, result.PhysicalEvents)
	assert.Equal(t, 1, result.PairsScored)
	assert.Equal(t, 1, result.Found)
	assert.Equal(t, 1, result.Persisted)
	assert.Equal(t, 0, result.Failed)

	require.Len(t, correlations.upserted, 1)
	require.Len(t, publisher.correlations, 1)
	assert.Equal(t, models.CorrelationSimSwapTheft, publisher.correlations[0].Type)

	// A second pass over the same window overwrites rather than duplicates.
	again, err := engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, again.Persisted)
	assert.Len(t, correlations.upserted, 1)
}

func TestRunPassPersistFailureContinues(t *testing.T) {
	events := newFakeEventStore()
	evidence := newFakeEvidenceStore()
	correlations := newFakeCorrelationStore()
	publisher := &fakePublisher{}

	at := time.Now().UTC().Add(-2 * time.Hour)
	events.listOut = []*models.ThreatEvent{
		{ID: "cyber-1", ThreatCategory: "sim_swap", Latitude: coord(-26.20), Longitude: coord(28.04), LastSeen: at},
	}
	evidence.listOut = []*models.PhysicalEvidenceEvent{
		{ID: "phys-1", Kind: "phone_theft", Latitude: coord(-26.20), Longitude: coord(28.04), OccurredAt: at},
		{ID: "phys-2", Kind: "identity_theft", Latitude: coord(-26.20), Longitude: coord(28.04), OccurredAt: at},
	}
	correlations.failIDs[models.NewCorrelationID("cyber-1", "phys-1")] = true

	engine := newTestEngine(events, evidence, correlations)
	engine.SetEventPublisher(publisher)

	result, err := engine.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Found)
	assert.Equal(t, 1, result.Persisted)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, publisher.correlations, 1)
}

func TestRunPassPublisherFailureTolerated(t *testing.T) {
	events := newFakeEventStore()
	evidence := newFakeEvidenceStore()
	correlations := newFakeCorrelationStore()
	publisher := &fakePublisher{pubErr: errors.New("nats unavailable")}

	at := time.Now().UTC().Add(-2 * time.Hour)
	events.listOut = []*models.ThreatEvent{
		{ID: "cyber-1", ThreatCategory: "sim_swap", Latitude: coord(-26.20), Longitude: coord(28.04), LastSeen: at},
	}
	evidence.listOut = []*models.PhysicalEvidenceEvent{
		{ID: "phys-1", Kind: "phone_theft", Latitude: coord(-26.20), Longitude: coord(28.04), OccurredAt: at},
	}

	engine := newTestEngine(events, evidence, correlations)
	engine.SetEventPublisher(publisher)

	result, err := engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Persisted)
}

func TestRunPassHomeCountryFilter(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.CorrelationConfig
		homeCountry string
		wantCountry string
	}{
		{"disabled", config.CorrelationConfig{}, "ZA", ""},
		{"enabled with home country", config.CorrelationConfig{HomeCountryOnly: true}, "ZA", "ZA"},
		{"enabled without home country", config.CorrelationConfig{HomeCountryOnly: true}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := newFakeEventStore()
			evidence := newFakeEvidenceStore()
			engine := NewCorrelationEngine(tt.cfg, tt.homeCountry, events, evidence, newFakeCorrelationStore(), logger.NewNop())

			_, err := engine.RunPass(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.wantCountry, events.lastFilter.CountryCode)
			require.NotNil(t, events.lastFilter.Since)
		})
	}
}

func TestRunPassWindowCutoffs(t *testing.T) {
	events := newFakeEventStore()
	evidence := newFakeEvidenceStore()
	cfg := config.CorrelationConfig{
		CyberWindow:    48 * time.Hour,
		PhysicalWindow: 24 * time.Hour,
	}
	engine := NewCorrelationEngine(cfg, "", events, evidence, newFakeCorrelationStore(), logger.NewNop())

	start := time.Now()
	_, err := engine.RunPass(context.Background())
	require.NoError(t, err)

	require.NotNil(t, events.lastFilter.Since)
	assert.WithinDuration(t, start.Add(-48*time.Hour), *events.lastFilter.Since, 5*time.Second)
	assert.WithinDuration(t, start.Add(-24*time.Hour), evidence.lastSince, 5*time.Second)
}

func TestRunPassStoreErrorsAreFatal(t *testing.T) {
	events := newFakeEventStore()
	events.listErr = errors.New("connection refused")
	engine := newTestEngine(events, newFakeEvidenceStore(), newFakeCorrelationStore())

	_, err := engine.RunPass(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load cyber events")

	events.listErr = nil
	evidence := newFakeEvidenceStore()
	evidence.listErr = errors.New("connection refused")
	engine = newTestEngine(events, evidence, newFakeCorrelationStore())

	_, err = engine.RunPass(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load physical evidence")
}

func TestCorrelationEngineStats(t *testing.T) {
	events := newFakeEventStore()
	evidence := newFakeEvidenceStore()
	correlations := newFakeCorrelationStore()

	at := time.Now().UTC().Add(-time.Hour)
	events.listOut = []*models.ThreatEvent{
		{ID: "cyber-1", ThreatCategory: "sim_swap", Latitude: coord(-26.20), Longitude: coord(28.04), LastSeen: at},
	}
	evidence.listOut = []*models.PhysicalEvidenceEvent{
		{ID: "phys-1", Kind: "phone_theft", Latitude: coord(-26.20), Longitude: coord(28.04), OccurredAt: at},
	}

	engine := newTestEngine(events, evidence, correlations)

	_, err := engine.RunPass(context.Background())
	require.NoError(t, err)

	stats := engine.GetStats()
	assert.Equal(t, int64(1), stats.TotalRuns)
	assert.Equal(t, int64(1), stats.TotalPersisted)
	assert.Equal(t, int64(1), stats.CorrelationsByType[models.CorrelationSimSwapTheft.String()])
	assert.False(t, stats.LastRunAt.IsZero())
}

func TestDefaultPatternRulesDisjointPhysicalSets(t *testing.T) {
	// With the built-in table a single pair can match at most one rule,
	// because no physical kind appears in two rules.
	seen := make(map[string]string)
	for _, rule := range models.DefaultPatternRules() {
		for _, kind := range rule.PhysicalCategories {
			if owner, dup := seen[kind]; dup {
				t.Fatalf("physical kind %q appears in rules %q and %q", kind, owner, rule.Name)
			}
			seen[kind] = rule.Name
		}
	}
}
