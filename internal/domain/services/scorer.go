package services

import (
	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

// Threat score weights. Abuse reputation dominates, service exposure is
// secondary, and the geographic term is a small base-risk premium.
const (
	abuseWeight    = 0.6
	exposureWeight = 0.3

	homeCountryRisk    = 0.05
	foreignCountryRisk = 0.10

	// Vulnerability counts saturate at this ceiling; anything above
	// contributes the full exposure weight.
	vulnerabilityCeiling = 20
)

// Scorer derives the composite threat score for an IP enrichment record
type Scorer struct {
	homeCountry string
	logger      *logger.Logger
}

// NewScorer creates a new Scorer. homeCountry is the ISO country code that
// takes the reduced base-risk premium; empty means every IP is treated as
// foreign.
func NewScorer(homeCountry string, log *logger.Logger) *Scorer {
	return &Scorer{
		homeCountry: homeCountry,
		logger:      log.WithComponent("scorer"),
	}
}

// Score computes the threat score for an enrichment record:
//
//	0.6 * (abuse_confidence / 100)
//	+ 0.3 * (min(vulnerability_count, 20) / 20)
//	+ 0.05 for home-country IPs, 0.10 otherwise
//
// clamped to [0, 1].
func (s *Scorer) Score(record *models.EnrichmentRecord) float64 {
	var score float64

	score += s.abuseTerm(record.Abuse) * abuseWeight
	score += s.exposureTerm(record.Exposure) * exposureWeight
	score += s.geographicTerm(record.Geo)

	return clamp(score, 0, 1)
}

// abuseTerm normalizes the provider's 0-100 abuse confidence to [0, 1]
func (s *Scorer) abuseTerm(abuse models.AbuseData) float64 {
	return clamp(float64(abuse.AbuseConfidenceScore)/100, 0, 1)
}

// exposureTerm normalizes the vulnerability count against the ceiling
func (s *Scorer) exposureTerm(exposure models.ExposureData) float64 {
	count := exposure.VulnerabilityCount
	if count > vulnerabilityCeiling {
		count = vulnerabilityCeiling
	}
	if count < 0 {
		count = 0
	}
	return float64(count) / vulnerabilityCeiling
}

// geographicTerm is the base-risk premium: home-country IPs carry a lower
// floor than foreign ones. An unset home country means the foreign premium
// applies everywhere.
func (s *Scorer) geographicTerm(geo models.GeoData) float64 {
	if s.homeCountry != "" && geo.CountryCode == s.homeCountry {
		return homeCountryRisk
	}
	return foreignCountryRisk
}

// ScoreBreakdown is the per-term decomposition of a threat score
type ScoreBreakdown struct {
	FinalScore     float64 `json:"final_score"`
	AbuseTerm      float64 `json:"abuse_term"`
	ExposureTerm   float64 `json:"exposure_term"`
	GeographicTerm float64 `json:"geographic_term"`
	HomeCountry    bool    `json:"home_country"`
}

// ScoreDetailed returns the score together with its per-term breakdown
func (s *Scorer) ScoreDetailed(record *models.EnrichmentRecord) ScoreBreakdown {
	abuse := s.abuseTerm(record.Abuse) * abuseWeight
	exposure := s.exposureTerm(record.Exposure) * exposureWeight
	geographic := s.geographicTerm(record.Geo)

	return ScoreBreakdown{
		FinalScore:     clamp(abuse+exposure+geographic, 0, 1),
		AbuseTerm:      abuse,
		ExposureTerm:   exposure,
		GeographicTerm: geographic,
		HomeCountry:    geographic == homeCountryRisk,
	}
}

// clamp clamps a value between min and max
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
