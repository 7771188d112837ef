package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"sentinel-lab/internal/domain/models"
)

// EvidenceRepository handles physical evidence persistence
type EvidenceRepository struct {
	pool *pgxpool.Pool
}

// NewEvidenceRepository creates a new evidence repository
func NewEvidenceRepository(pool *pgxpool.Pool) *EvidenceRepository {
	return &EvidenceRepository{pool: pool}
}

// UpsertEvidence creates or replaces an evidence record by ID
func (r *EvidenceRepository) UpsertEvidence(ctx context.Context, evidence *models.PhysicalEvidenceEvent) error {
	query := `
		INSERT INTO physical_evidence (
			evidence_id, kind, latitude, longitude, location_name, metadata, occurred_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (evidence_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			location_name = EXCLUDED.location_name,
			metadata = EXCLUDED.metadata,
			occurred_at = EXCLUDED.occurred_at`

	_, err := r.pool.Exec(ctx, query,
		evidence.ID, evidence.Kind, evidence.Latitude, evidence.Longitude,
		evidence.LocationName, []byte(evidence.Metadata), evidence.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert evidence: %w", err)
	}

	return nil
}

// ListEvidenceWithLocation returns located evidence newer than the cutoff,
// newest first. Evidence without coordinates cannot participate in spatial
// correlation and is excluded.
func (r *EvidenceRepository) ListEvidenceWithLocation(ctx context.Context, since time.Time) ([]*models.PhysicalEvidenceEvent, error) {
	query := `
		SELECT evidence_id, kind, latitude, longitude, location_name, metadata, occurred_at, created_at
		FROM physical_evidence
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL AND occurred_at >= $1
		ORDER BY occurred_at DESC, evidence_id`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	result := make([]*models.PhysicalEvidenceEvent, 0)
	for rows.Next() {
		e := &models.PhysicalEvidenceEvent{}
		var metadata []byte

		err := rows.Scan(
			&e.ID, &e.Kind, &e.Latitude, &e.Longitude,
			&e.LocationName, &metadata, &e.OccurredAt, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}

		e.Metadata = metadata
		result = append(result, e)
	}

	return result, rows.Err()
}
