package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/domain/services"
	"sentinel-lab/pkg/logger"
)

// EnrichmentTier layers the Redis hot tier in front of a durable enrichment
// store. Reads try Redis first and fall through to the backing store on a
// miss, warming the tier on the way out. Writes land in the backing store
// before Redis, so losing Redis never loses a record.
type EnrichmentTier struct {
	backing services.EnrichmentStore
	cache   *RedisCache
	logger  *logger.Logger
}

// NewEnrichmentTier wraps backing with the Redis hot tier
func NewEnrichmentTier(backing services.EnrichmentStore, cache *RedisCache, log *logger.Logger) *EnrichmentTier {
	return &EnrichmentTier{
		backing: backing,
		cache:   cache,
		logger:  log.WithComponent("enrichment_tier"),
	}
}

var _ services.EnrichmentStore = (*EnrichmentTier)(nil)

// GetEnrichment returns the record for an IP, or (nil, nil) when absent
func (t *EnrichmentTier) GetEnrichment(ctx context.Context, ip string) (*models.EnrichmentRecord, error) {
	var record models.EnrichmentRecord
	err := t.cache.GetCachedEnrichment(ctx, ip, &record)
	if err == nil {
		return &record, nil
	}
	if !errors.Is(err, redis.Nil) {
		t.logger.Warn().Err(err).Str("ip", ip).Msg("hot tier read failed, falling back to store")
	}

	stored, err := t.backing.GetEnrichment(ctx, ip)
	if err != nil || stored == nil {
		return stored, err
	}

	t.warm(ctx, stored)
	return stored, nil
}

// UpsertEnrichment atomically replaces the record for record.IPAddress
func (t *EnrichmentTier) UpsertEnrichment(ctx context.Context, record *models.EnrichmentRecord) error {
	if err := t.backing.UpsertEnrichment(ctx, record); err != nil {
		return err
	}
	t.warm(ctx, record)
	return nil
}

// warm writes a record into the hot tier with a TTL matching its expiry
func (t *EnrichmentTier) warm(ctx context.Context, record *models.EnrichmentRecord) {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if err := t.cache.CacheEnrichment(ctx, record.IPAddress, record, ttl); err != nil {
		t.logger.Warn().Err(err).Str("ip", record.IPAddress).Msg("failed to warm enrichment hot tier")
	}
}
