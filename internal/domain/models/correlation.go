package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// CorrelationType classifies why a cyber event and a physical event matched
type CorrelationType string

const (
	CorrelationFraudVehicle  CorrelationType = "fraud_vehicle_correlation"
	CorrelationSimSwapTheft  CorrelationType = "sim_swap_theft_correlation"
	CorrelationPhishingFraud CorrelationType = "phishing_fraud_correlation"
	CorrelationGeneral       CorrelationType = "general_correlation"
)

// String returns the string representation
func (t CorrelationType) String() string {
	return string(t)
}

// Correlation is a scored link between one ThreatEvent and one
// PhysicalEvidenceEvent. The ID is content-addressed on the pair of event
// IDs, so re-running a pass over the same window overwrites instead of
// duplicating.
type Correlation struct {
	ID              string          `json:"correlation_id" db:"correlation_id"`
	CyberEventID    string          `json:"cyber_event_id" db:"cyber_event_id"`
	PhysicalEventID string          `json:"physical_event_id" db:"physical_event_id"`
	Type            CorrelationType `json:"correlation_type" db:"correlation_type"`
	Score           float64         `json:"correlation_score" db:"score"` // 0.0 - 1.0
	Evidence        []string        `json:"evidence_links" db:"evidence"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// NewCorrelationID derives the composite content-addressed ID for a
// (cyber, physical) pair
func NewCorrelationID(cyberEventID, physicalEventID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s", cyberEventID, physicalEventID)))
	return hex.EncodeToString(sum[:])
}

// PatternRule links a set of cyber threat categories to a set of physical
// evidence kinds with a weight. A pair matching the rule contributes
// weight * 0.3 to its correlation score. Rules are not mutually exclusive:
// every matching rule adds its own contribution.
type PatternRule struct {
	Name               string   `json:"name"`
	CyberCategories    []string `json:"cyber_categories"`
	PhysicalCategories []string `json:"physical_categories"`
	Weight             float64  `json:"weight"` // 0.0 - 1.0
}

// Matches reports whether the rule covers the given category pair
func (r PatternRule) Matches(cyberCategory, physicalKind string) bool {
	return containsString(r.CyberCategories, cyberCategory) &&
		containsString(r.PhysicalCategories, physicalKind)
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// DefaultPatternRules returns the built-in cyber-physical pattern table
func DefaultPatternRules() []PatternRule {
	return []PatternRule{
		{
			Name:               "sim_swap_fraud",
			CyberCategories:    []string{"sim_swap", "account_takeover", "unauthorized_transactions"},
			PhysicalCategories: []string{"phone_theft", "identity_theft", "card_fraud"},
			Weight:             0.8,
		},
		{
			Name:               "card_fraud",
			CyberCategories:    []string{"card_not_present", "online_fraud", "data_breach"},
			PhysicalCategories: []string{"card_theft", "atm_skimming", "pos_fraud"},
			Weight:             0.7,
		},
		{
			Name:               "identity_theft",
			CyberCategories:    []string{"phishing", "social_engineering", "data_breach"},
			PhysicalCategories: []string{"document_theft", "mail_theft", "dumpster_diving"},
			Weight:             0.6,
		},
	}
}

// CorrelationFilter represents filter options for querying correlations
type CorrelationFilter struct {
	Type     CorrelationType `json:"type,omitempty"`
	MinScore float64         `json:"min_score,omitempty"`
	Since    *time.Time      `json:"since,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// CorrelationRunResult summarizes one correlation pass
type CorrelationRunResult struct {
	CyberEvents    int           `json:"cyber_events"`
	PhysicalEvents int           `json:"physical_events"`
	PairsScored    int           `json:"pairs_scored"`
	Found          int           `json:"correlations_found"`
	Persisted      int           `json:"correlations_persisted"`
	Failed         int           `json:"correlations_failed"`
	Duration       time.Duration `json:"duration_ms"`
	StartedAt      time.Time     `json:"started_at"`
}
