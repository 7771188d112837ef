package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"sentinel-lab/internal/domain/models"
)

// CorrelationRepository handles correlation persistence
type CorrelationRepository struct {
	pool *pgxpool.Pool
}

// NewCorrelationRepository creates a new correlation repository
func NewCorrelationRepository(pool *pgxpool.Pool) *CorrelationRepository {
	return &CorrelationRepository{pool: pool}
}

// UpsertCorrelation creates or replaces a correlation by its composite ID.
// Re-running a pass over the same window refreshes created_at, keeping a
// still-confirmed correlation inside the reporting window.
func (r *CorrelationRepository) UpsertCorrelation(ctx context.Context, correlation *models.Correlation) error {
	if correlation.CreatedAt.IsZero() {
		correlation.CreatedAt = time.Now()
	}

	evidence, err := marshalJSONB(correlation.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence links: %w", err)
	}

	query := `
		INSERT INTO correlations (
			correlation_id, cyber_event_id, physical_event_id, correlation_type, score, evidence, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (correlation_id) DO UPDATE SET
			cyber_event_id = EXCLUDED.cyber_event_id,
			physical_event_id = EXCLUDED.physical_event_id,
			correlation_type = EXCLUDED.correlation_type,
			score = EXCLUDED.score,
			evidence = EXCLUDED.evidence,
			created_at = EXCLUDED.created_at`

	_, err = r.pool.Exec(ctx, query,
		correlation.ID, correlation.CyberEventID, correlation.PhysicalEventID,
		correlation.Type, correlation.Score, evidence, correlation.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert correlation: %w", err)
	}

	return nil
}

// ListCorrelations returns correlations matching the filter, newest first
func (r *CorrelationRepository) ListCorrelations(ctx context.Context, filter models.CorrelationFilter) ([]*models.Correlation, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("correlation_type = $%d", argNum))
		args = append(args, filter.Type)
		argNum++
	}

	if filter.MinScore > 0 {
		conditions = append(conditions, fmt.Sprintf("score >= $%d", argNum))
		args = append(args, filter.MinScore)
		argNum++
	}

	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argNum))
		args = append(args, *filter.Since)
		argNum++
	}

	whereClause := "1=1"
	if len(conditions) > 0 {
		whereClause = strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT correlation_id, cyber_event_id, physical_event_id, correlation_type, score, evidence, created_at
		FROM correlations
		WHERE %s
		ORDER BY created_at DESC, correlation_id`, whereClause)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list correlations: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Correlation, 0)
	for rows.Next() {
		c := &models.Correlation{}
		var evidence []byte

		err := rows.Scan(
			&c.ID, &c.CyberEventID, &c.PhysicalEventID,
			&c.Type, &c.Score, &evidence, &c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan correlation: %w", err)
		}

		if err := unmarshalJSONB(evidence, &c.Evidence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence links: %w", err)
		}
		result = append(result, c)
	}

	return result, rows.Err()
}

// CorrelationStatsByType aggregates persisted correlations per type since the cutoff
func (r *CorrelationRepository) CorrelationStatsByType(ctx context.Context, since time.Time) ([]models.CorrelationTypeStats, error) {
	query := `
		SELECT correlation_type, COUNT(*) AS correlation_count, AVG(score)
		FROM correlations
		WHERE created_at >= $1
		GROUP BY correlation_type
		ORDER BY correlation_count DESC, correlation_type`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate correlation stats: %w", err)
	}
	defer rows.Close()

	result := make([]models.CorrelationTypeStats, 0)
	for rows.Next() {
		var s models.CorrelationTypeStats
		if err := rows.Scan(&s.Type, &s.Count, &s.AvgScore); err != nil {
			return nil, fmt.Errorf("failed to scan correlation stats: %w", err)
		}
		result = append(result, s)
	}

	return result, rows.Err()
}
