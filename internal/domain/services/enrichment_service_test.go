package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

func newTestEnrichment(store EnrichmentStore) *EnrichmentService {
	scorer := NewScorer("ZA", logger.NewNop())
	return NewEnrichmentService(store, scorer, 24*time.Hour, logger.NewNop())
}

func TestGetOrRefreshCacheHitMakesNoProviderCalls(t *testing.T) {
	store := newFakeEnrichmentStore()
	now := time.Now().UTC()
	store.records["41.0.0.1"] = &models.EnrichmentRecord{
		IPAddress:   "41.0.0.1",
		ThreatScore: 0.42,
		LastUpdated: now.Add(-time.Hour),
		ExpiresAt:   now.Add(23 * time.Hour),
	}

	provider := &countingProvider{slug: "ipapi", enabled: true}
	service := newTestEnrichment(store)
	service.RegisterProvider(provider)

	record, err := service.GetOrRefresh(context.Background(), "41.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, 0.42, record.ThreatScore)
	assert.Equal(t, 0, provider.callCount())

	stats := service.GetStats()
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(0), stats.CacheMisses)
}

func TestGetOrRefreshExpiredRecordRequeries(t *testing.T) {
	store := newFakeEnrichmentStore()
	now := time.Now().UTC()
	store.records["41.0.0.1"] = &models.EnrichmentRecord{
		IPAddress: "41.0.0.1",
		Abuse:     models.AbuseData{AbuseConfidenceScore: 90},
		ExpiresAt: now.Add(-time.Minute),
	}

	provider := &countingProvider{
		slug:    "ipapi",
		enabled: true,
		partial: &models.PartialEnrichment{Geo: &models.GeoData{CountryCode: "ZA", City: "Cape Town"}},
	}
	service := newTestEnrichment(store)
	service.RegisterProvider(provider)

	record, err := service.GetOrRefresh(context.Background(), "41.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, 1, provider.callCount())
	assert.Equal(t, "Cape Town", record.Geo.City)

	// The refresh replaced the whole record: the stale abuse data is gone.
	assert.Equal(t, 0, record.Abuse.AbuseConfidenceScore)
	assert.True(t, record.ExpiresAt.After(now))

	stats := service.GetStats()
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.Equal(t, int64(1), stats.Refreshes)
}

func TestGetOrRefreshMissRefreshesOnce(t *testing.T) {
	store := newFakeEnrichmentStore()
	provider := &countingProvider{
		slug:    "ipapi",
		enabled: true,
		partial: &models.PartialEnrichment{Geo: &models.GeoData{CountryCode: "ZA"}},
	}
	service := newTestEnrichment(store)
	service.RegisterProvider(provider)

	_, err := service.GetOrRefresh(context.Background(), "41.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.callCount())
	assert.Equal(t, 1, store.upserts)

	// Second call inside the TTL is a pure cache hit.
	_, err = service.GetOrRefresh(context.Background(), "41.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.callCount())
	assert.Equal(t, 1, store.upserts)
}

func TestGetOrRefreshRejectsMalformedIP(t *testing.T) {
	store := newFakeEnrichmentStore()
	provider := &countingProvider{slug: "ipapi", enabled: true}
	service := newTestEnrichment(store)
	service.RegisterProvider(provider)

	for _, ip := range []string{"", "not-an-ip", "999.1.1.1", "41.0.0"} {
		_, err := service.GetOrRefresh(context.Background(), ip)
		require.Error(t, err, "ip %q", ip)
		assert.ErrorIs(t, err, ErrInvalidIP)
	}

	assert.Equal(t, 0, provider.callCount())
	assert.Equal(t, 0, store.upserts)
}

func TestRefreshProviderFailureIsolation(t *testing.T) {
	store := newFakeEnrichmentStore()

	geo := &countingProvider{
		slug:    "ipapi",
		enabled: true,
		partial: &models.PartialEnrichment{Geo: &models.GeoData{CountryCode: "ZA"}},
	}
	abuse := &countingProvider{
		slug:    "abuseipdb",
		enabled: true,
		err:     errors.New("rate limited"),
	}
	exposure := &countingProvider{
		slug:    "shodan",
		enabled: true,
		partial: &models.PartialEnrichment{Exposure: &models.ExposureData{VulnerabilityCount: 4}},
	}

	service := newTestEnrichment(store)
	service.RegisterProvider(geo)
	service.RegisterProvider(abuse)
	service.RegisterProvider(exposure)

	record, err := service.Refresh(context.Background(), "41.0.0.1")
	require.NoError(t, err)

	// The failing provider degrades to an empty sub-object and never
	// blocks the others.
	assert.Equal(t, "ZA", record.Geo.CountryCode)
	assert.Equal(t, models.AbuseData{}, record.Abuse)
	assert.Equal(t, 4, record.Exposure.VulnerabilityCount)

	// 0.6*0 + 0.3*(4/20) + 0.05 home premium
	assert.InDelta(t, 0.11, record.ThreatScore, 1e-9)

	stats := service.GetStats()
	assert.Equal(t, int64(1), stats.ProviderSuccess["ipapi"])
	assert.Equal(t, int64(1), stats.ProviderFailure["abuseipdb"])
	assert.Equal(t, int64(1), stats.ProviderSuccess["shodan"])
}

func TestRefreshAllProvidersFailStillPersists(t *testing.T) {
	store := newFakeEnrichmentStore()

	service := newTestEnrichment(store)
	service.RegisterProvider(&countingProvider{slug: "ipapi", enabled: true, err: errors.New("timeout")})
	service.RegisterProvider(&countingProvider{slug: "shodan", enabled: true, err: errors.New("timeout")})

	record, err := service.Refresh(context.Background(), "198.51.100.7")
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, 1, store.upserts)
	assert.Equal(t, models.GeoData{}, record.Geo)

	// Only the foreign base-risk premium remains.
	assert.InDelta(t, 0.10, record.ThreatScore, 1e-9)
}

func TestRefreshSkipsDisabledProviders(t *testing.T) {
	store := newFakeEnrichmentStore()

	disabled := &countingProvider{slug: "abuseipdb", enabled: false}
	enabled := &countingProvider{
		slug:    "ipapi",
		enabled: true,
		partial: &models.PartialEnrichment{Geo: &models.GeoData{CountryCode: "ZA"}},
	}

	service := newTestEnrichment(store)
	service.RegisterProvider(disabled)
	service.RegisterProvider(enabled)

	_, err := service.Refresh(context.Background(), "41.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, 0, disabled.callCount())
	assert.Equal(t, 1, enabled.callCount())
}

func TestRefreshAppliesProviderTimeout(t *testing.T) {
	store := newFakeEnrichmentStore()
	provider := &countingProvider{slug: "ipapi", enabled: true}

	service := newTestEnrichment(store)
	service.SetProviderTimeout(time.Second)
	service.RegisterProvider(provider)

	_, err := service.Refresh(context.Background(), "41.0.0.1")
	require.NoError(t, err)

	assert.True(t, provider.hadDeadline, "provider lookup should run under a deadline")
}

func TestRefreshScoresTheMergedRecord(t *testing.T) {
	store := newFakeEnrichmentStore()

	service := newTestEnrichment(store)
	service.RegisterProvider(&countingProvider{
		slug:    "ipapi",
		enabled: true,
		partial: &models.PartialEnrichment{Geo: &models.GeoData{CountryCode: "ZA"}},
	})
	service.RegisterProvider(&countingProvider{
		slug:    "abuseipdb",
		enabled: true,
		partial: &models.PartialEnrichment{Abuse: &models.AbuseData{AbuseConfidenceScore: 100}},
	})
	service.RegisterProvider(&countingProvider{
		slug:    "shodan",
		enabled: true,
		partial: &models.PartialEnrichment{Exposure: &models.ExposureData{VulnerabilityCount: 20}},
	})

	record, err := service.Refresh(context.Background(), "41.0.0.1")
	require.NoError(t, err)

	// 0.6 + 0.3 + 0.05 home premium
	assert.InDelta(t, 0.95, record.ThreatScore, 1e-9)
}

func TestRefreshPersistFailureSurfaces(t *testing.T) {
	store := newFakeEnrichmentStore()
	store.upsertErr = errors.New("connection refused")

	service := newTestEnrichment(store)
	service.RegisterProvider(&countingProvider{slug: "ipapi", enabled: true})

	_, err := service.Refresh(context.Background(), "41.0.0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist enrichment")
}
