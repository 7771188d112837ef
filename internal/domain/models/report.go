package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceActivity aggregates threat events per feed source
type SourceActivity struct {
	Source        string  `json:"source" db:"source"`
	EventCount    int64   `json:"event_count" db:"event_count"`
	AvgSeverity   float64 `json:"avg_severity" db:"avg_severity"`
	AvgConfidence float64 `json:"avg_confidence" db:"avg_confidence"`
}

// CategoryActivity aggregates threat events per threat category
type CategoryActivity struct {
	Category    string  `json:"threat_type" db:"threat_category"`
	Count       int64   `json:"count" db:"count"`
	AvgSeverity float64 `json:"avg_severity" db:"avg_severity"`
}

// GeoActivity aggregates threat events per (country, city) cell
type GeoActivity struct {
	CountryCode string  `json:"country_code" db:"country_code"`
	City        string  `json:"city" db:"city"`
	EventCount  int64   `json:"event_count" db:"event_count"`
	AvgSeverity float64 `json:"avg_severity" db:"avg_severity"`
}

// CorrelationTypeStats aggregates persisted correlations per type
type CorrelationTypeStats struct {
	Type     CorrelationType `json:"correlation_type" db:"correlation_type"`
	Count    int64           `json:"correlation_count" db:"count"`
	AvgScore float64         `json:"avg_score" db:"avg_score"`
}

// ThreatStatistics is the event half of an intelligence report
type ThreatStatistics struct {
	TotalEvents     int64              `json:"total_events"`
	Sources         []SourceActivity   `json:"sources"`
	TopThreatTypes  []CategoryActivity `json:"top_threat_types"`
	GeoDistribution []GeoActivity      `json:"geographic_distribution"`
}

// CorrelationStatistics is the correlation half of an intelligence report
type CorrelationStatistics struct {
	TotalCorrelations int64                  `json:"total_correlations"`
	ByType            []CorrelationTypeStats `json:"correlation_types"`
}

// IntelligenceReport is the aggregate output of the reporting pass.
// Recommendations are deterministic templated sentences over the statistics,
// never free text.
type IntelligenceReport struct {
	ID                uuid.UUID             `json:"report_id"`
	GeneratedAt       time.Time             `json:"report_timestamp"`
	EventWindow       time.Duration         `json:"event_window"`
	CorrelationWindow time.Duration         `json:"correlation_window"`
	Threats           ThreatStatistics      `json:"threat_statistics"`
	Correlations      CorrelationStatistics `json:"correlations"`
	Recommendations   []string              `json:"recommendations"`
}
