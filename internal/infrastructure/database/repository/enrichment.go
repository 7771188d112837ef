package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sentinel-lab/internal/domain/models"
)

// EnrichmentRepository handles enrichment cache persistence
type EnrichmentRepository struct {
	pool *pgxpool.Pool
}

// NewEnrichmentRepository creates a new enrichment repository
func NewEnrichmentRepository(pool *pgxpool.Pool) *EnrichmentRepository {
	return &EnrichmentRepository{pool: pool}
}

// GetEnrichment returns the cached record for an IP, or (nil, nil) when absent
func (r *EnrichmentRepository) GetEnrichment(ctx context.Context, ip string) (*models.EnrichmentRecord, error) {
	query := `
		SELECT ip_address, geo, abuse, exposure, threat_score, last_updated, expires_at
		FROM ip_enrichment_cache
		WHERE ip_address = $1`

	record := &models.EnrichmentRecord{}
	var geo, abuse, exposure []byte

	err := r.pool.QueryRow(ctx, query, ip).Scan(
		&record.IPAddress, &geo, &abuse, &exposure,
		&record.ThreatScore, &record.LastUpdated, &record.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get enrichment record: %w", err)
	}

	if err := unmarshalJSONB(geo, &record.Geo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal geo data: %w", err)
	}
	if err := unmarshalJSONB(abuse, &record.Abuse); err != nil {
		return nil, fmt.Errorf("failed to unmarshal abuse data: %w", err)
	}
	if err := unmarshalJSONB(exposure, &record.Exposure); err != nil {
		return nil, fmt.Errorf("failed to unmarshal exposure data: %w", err)
	}

	return record, nil
}

// UpsertEnrichment atomically replaces the whole record for record.IPAddress.
// Sub-objects from a previous refresh never survive; a provider that failed
// this time leaves its section empty.
func (r *EnrichmentRepository) UpsertEnrichment(ctx context.Context, record *models.EnrichmentRecord) error {
	geo, err := marshalJSONB(record.Geo)
	if err != nil {
		return fmt.Errorf("failed to marshal geo data: %w", err)
	}
	abuse, err := marshalJSONB(record.Abuse)
	if err != nil {
		return fmt.Errorf("failed to marshal abuse data: %w", err)
	}
	exposure, err := marshalJSONB(record.Exposure)
	if err != nil {
		return fmt.Errorf("failed to marshal exposure data: %w", err)
	}

	query := `
		INSERT INTO ip_enrichment_cache (
			ip_address, geo, abuse, exposure, threat_score, last_updated, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ip_address) DO UPDATE SET
			geo = EXCLUDED.geo,
			abuse = EXCLUDED.abuse,
			exposure = EXCLUDED.exposure,
			threat_score = EXCLUDED.threat_score,
			last_updated = EXCLUDED.last_updated,
			expires_at = EXCLUDED.expires_at`

	_, err = r.pool.Exec(ctx, query,
		record.IPAddress, geo, abuse, exposure,
		record.ThreatScore, record.LastUpdated, record.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert enrichment record: %w", err)
	}

	return nil
}

// DeleteExpired removes cache rows whose TTL has elapsed and returns how many
// were dropped
func (r *EnrichmentRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM ip_enrichment_cache WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired enrichment records: %w", err)
	}
	return tag.RowsAffected(), nil
}
