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

// defaultCacheTTL is how long an enrichment record stays fresh.
const defaultCacheTTL = 24 * time.Hour

// defaultProviderTimeout bounds each provider lookup.
const defaultProviderTimeout = 10 * time.Second

// EnrichmentProvider is the slice of the provider capability the enrichment
// service consumes
type EnrichmentProvider interface {
	// Slug returns the unique identifier for this provider
	Slug() string

	// IsEnabled returns whether this provider should be queried
	IsEnabled() bool

	// Lookup queries the provider for a single IP address
	Lookup(ctx context.Context, ip string) (*models.PartialEnrichment, error)
}

// EnrichmentService is the read-through enrichment cache. A fresh record is
// served as-is; a miss or expired record triggers a full refresh across all
// enabled providers, each inside its own timeout and error boundary.
type EnrichmentService struct {
	store     EnrichmentStore
	scorer    *Scorer
	providers []EnrichmentProvider
	cacheTTL  time.Duration
	timeout   time.Duration
	logger    *logger.Logger

	// Statistics
	statsMu         sync.RWMutex
	cacheHits       int64
	cacheMisses     int64
	refreshes       int64
	providerSuccess map[string]int64
	providerFailure map[string]int64
}

// NewEnrichmentService creates a new enrichment service
func NewEnrichmentService(store EnrichmentStore, scorer *Scorer, cacheTTL time.Duration, log *logger.Logger) *EnrichmentService {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &EnrichmentService{
		store:           store,
		scorer:          scorer,
		cacheTTL:        cacheTTL,
		timeout:         defaultProviderTimeout,
		logger:          log.WithComponent("enrichment"),
		providerSuccess: make(map[string]int64),
		providerFailure: make(map[string]int64),
	}
}

// SetProviderTimeout overrides the per-provider lookup timeout
func (s *EnrichmentService) SetProviderTimeout(timeout time.Duration) {
	if timeout > 0 {
		s.timeout = timeout
	}
}

// RegisterProvider appends a provider to the lookup chain. Providers run in
// registration order.
func (s *EnrichmentService) RegisterProvider(provider EnrichmentProvider) {
	s.providers = append(s.providers, provider)
	s.logger.Info().Str("provider", provider.Slug()).Msg("registered enrichment provider")
}

// GetOrRefresh returns the enrichment record for an IP, serving from cache
// when fresh and refreshing otherwise. A malformed IP is rejected with
// ErrInvalidIP before anything is persisted.
func (s *EnrichmentService) GetOrRefresh(ctx context.Context, ip string) (*models.EnrichmentRecord, error) {
	if net.ParseIP(ip) == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}

	record, err := s.store.GetEnrichment(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("failed to read enrichment cache for %s: %w", ip, err)
	}

	if record != nil && record.IsFresh(time.Now()) {
		s.statsMu.Lock()
		s.cacheHits++
		s.statsMu.Unlock()

		s.logger.Debug().Str("ip", ip).Msg("enrichment cache hit")
		return record, nil
	}

	s.statsMu.Lock()
	s.cacheMisses++
	s.statsMu.Unlock()

	return s.Refresh(ctx, ip)
}

// Refresh queries every enabled provider and atomically replaces the record
// for the IP. A provider failure degrades its sub-object to empty and never
// aborts the others; all providers failing still yields a stored record.
func (s *EnrichmentService) Refresh(ctx context.Context, ip string) (*models.EnrichmentRecord, error) {
	if net.ParseIP(ip) == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}

	now := time.Now().UTC()
	record := &models.EnrichmentRecord{
		IPAddress:   ip,
		LastUpdated: now,
		ExpiresAt:   now.Add(s.cacheTTL),
	}

	var succeeded, failed int
	for _, provider := range s.providers {
		if !provider.IsEnabled() {
			s.logger.Debug().Str("provider", provider.Slug()).Msg("provider disabled, skipping")
			continue
		}

		partial, err := s.lookup(ctx, provider, ip)
		if err != nil {
			failed++
			s.recordProviderResult(provider.Slug(), false)
			s.logger.Warn().Err(err).
				Str("provider", provider.Slug()).
				Str("ip", ip).
				Msg("provider lookup failed")
			continue
		}

		succeeded++
		s.recordProviderResult(provider.Slug(), true)
		mergePartial(record, partial)
	}

	record.ThreatScore = s.scorer.Score(record)

	if err := s.store.UpsertEnrichment(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist enrichment for %s: %w", ip, err)
	}

	s.statsMu.Lock()
	s.refreshes++
	s.statsMu.Unlock()

	s.logger.Info().
		Str("ip", ip).
		Int("providers_ok", succeeded).
		Int("providers_failed", failed).
		Float64("threat_score", record.ThreatScore).
		Time("expires_at", record.ExpiresAt).
		Msg("enrichment refreshed")

	return record, nil
}

// lookup runs one provider inside its own timeout
func (s *EnrichmentService) lookup(ctx context.Context, provider EnrichmentProvider, ip string) (*models.PartialEnrichment, error) {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return provider.Lookup(pctx, ip)
}

// mergePartial copies the sub-objects a provider filled into the record
func mergePartial(record *models.EnrichmentRecord, partial *models.PartialEnrichment) {
	if partial == nil {
		return
	}
	if partial.Geo != nil {
		record.Geo = *partial.Geo
	}
	if partial.Abuse != nil {
		record.Abuse = *partial.Abuse
	}
	if partial.Exposure != nil {
		record.Exposure = *partial.Exposure
	}
}

func (s *EnrichmentService) recordProviderResult(slug string, ok bool) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if ok {
		s.providerSuccess[slug]++
	} else {
		s.providerFailure[slug]++
	}
}

// EnrichmentStats is a snapshot of cache and provider counters
type EnrichmentStats struct {
	CacheHits       int64            `json:"cache_hits"`
	CacheMisses     int64            `json:"cache_misses"`
	Refreshes       int64            `json:"refreshes"`
	ProviderSuccess map[string]int64 `json:"provider_success"`
	ProviderFailure map[string]int64 `json:"provider_failure"`
}

// GetStats returns enrichment service statistics
func (s *EnrichmentService) GetStats() EnrichmentStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()

	stats := EnrichmentStats{
		CacheHits:       s.cacheHits,
		CacheMisses:     s.cacheMisses,
		Refreshes:       s.refreshes,
		ProviderSuccess: make(map[string]int64, len(s.providerSuccess)),
		ProviderFailure: make(map[string]int64, len(s.providerFailure)),
	}
	for k, v := range s.providerSuccess {
		stats.ProviderSuccess[k] = v
	}
	for k, v := range s.providerFailure {
		stats.ProviderFailure[k] = v
	}
	return stats
}
