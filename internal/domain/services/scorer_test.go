package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

func TestScoreComposition(t *testing.T) {
	scorer := NewScorer("ZA", logger.NewNop())

	record := &models.EnrichmentRecord{
		IPAddress: "198.51.100.7",
		Geo:       models.GeoData{CountryCode: "US"},
		Abuse:     models.AbuseData{AbuseConfidenceScore: 50},
		Exposure:  models.ExposureData{VulnerabilityCount: 10},
	}

	// 0.6*0.5 + 0.3*0.5 + 0.10 foreign premium
	assert.InDelta(t, 0.55, scorer.Score(record), 1e-9)
}

func TestScoreHomeCountryPremium(t *testing.T) {
	scorer := NewScorer("ZA", logger.NewNop())

	home := &models.EnrichmentRecord{Geo: models.GeoData{CountryCode: "ZA"}}
	foreign := &models.EnrichmentRecord{Geo: models.GeoData{CountryCode: "US"}}

	assert.InDelta(t, 0.05, scorer.Score(home), 1e-9)
	assert.InDelta(t, 0.10, scorer.Score(foreign), 1e-9)
}

func TestScoreUnsetHomeCountryTreatsAllAsForeign(t *testing.T) {
	scorer := NewScorer("", logger.NewNop())

	record := &models.EnrichmentRecord{Geo: models.GeoData{CountryCode: "ZA"}}
	assert.InDelta(t, 0.10, scorer.Score(record), 1e-9)
}

func TestScoreCapsAtOne(t *testing.T) {
	scorer := NewScorer("", logger.NewNop())

	record := &models.EnrichmentRecord{
		Geo:      models.GeoData{CountryCode: "US"},
		Abuse:    models.AbuseData{AbuseConfidenceScore: 100},
		Exposure: models.ExposureData{VulnerabilityCount: 50},
	}

	// 0.6 + 0.3 + 0.1 = 1.0 exactly; anything past the vulnerability
	// ceiling cannot push it higher.
	assert.InDelta(t, 1.0, scorer.Score(record), 1e-9)
	assert.LessOrEqual(t, scorer.Score(record), 1.0)
}

func TestScoreVulnerabilityCeiling(t *testing.T) {
	scorer := NewScorer("", logger.NewNop())

	atCeiling := &models.EnrichmentRecord{Exposure: models.ExposureData{VulnerabilityCount: 20}}
	aboveCeiling := &models.EnrichmentRecord{Exposure: models.ExposureData{VulnerabilityCount: 200}}

	assert.InDelta(t, scorer.Score(atCeiling), scorer.Score(aboveCeiling), 1e-9)
}

func TestScoreBounds(t *testing.T) {
	scorer := NewScorer("ZA", logger.NewNop())

	records := []*models.EnrichmentRecord{
		{},
		{Abuse: models.AbuseData{AbuseConfidenceScore: -10}},
		{Abuse: models.AbuseData{AbuseConfidenceScore: 999}},
		{Exposure: models.ExposureData{VulnerabilityCount: -5}},
		{
			Geo:      models.GeoData{CountryCode: "ZA"},
			Abuse:    models.AbuseData{AbuseConfidenceScore: 100},
			Exposure: models.ExposureData{VulnerabilityCount: 100},
		},
	}

	for _, record := range records {
		score := scorer.Score(record)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestScoreDetailed(t *testing.T) {
	scorer := NewScorer("ZA", logger.NewNop())

	record := &models.EnrichmentRecord{
		Geo:      models.GeoData{CountryCode: "ZA"},
		Abuse:    models.AbuseData{AbuseConfidenceScore: 80},
		Exposure: models.ExposureData{VulnerabilityCount: 4},
	}

	breakdown := scorer.ScoreDetailed(record)

	assert.InDelta(t, 0.48, breakdown.AbuseTerm, 1e-9)
	assert.InDelta(t, 0.06, breakdown.ExposureTerm, 1e-9)
	assert.InDelta(t, 0.05, breakdown.GeographicTerm, 1e-9)
	assert.True(t, breakdown.HomeCountry)
	assert.InDelta(t, scorer.Score(record), breakdown.FinalScore, 1e-9)
}
