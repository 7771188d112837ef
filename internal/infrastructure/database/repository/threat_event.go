package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sentinel-lab/internal/domain/models"
)

// ThreatEventRepository handles threat event persistence
type ThreatEventRepository struct {
	pool *pgxpool.Pool
}

// NewThreatEventRepository creates a new threat event repository
func NewThreatEventRepository(pool *pgxpool.Pool) *ThreatEventRepository {
	return &ThreatEventRepository{pool: pool}
}

// UpsertThreatEvent creates or replaces an event by its content-addressed ID.
// The latest write wins; created_at survives replacement.
func (r *ThreatEventRepository) UpsertThreatEvent(ctx context.Context, event *models.ThreatEvent) error {
	categories, err := marshalJSONB(event.Categories)
	if err != nil {
		return fmt.Errorf("failed to marshal event categories: %w", err)
	}

	query := `
		INSERT INTO threat_events (
			event_id, ip_address, threat_category, severity, confidence, source,
			country_code, latitude, longitude, city, region, isp, asn,
			first_seen, last_seen, report_count, categories, raw_data,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW(), NOW()
		)
		ON CONFLICT (event_id) DO UPDATE SET
			ip_address = EXCLUDED.ip_address,
			threat_category = EXCLUDED.threat_category,
			severity = EXCLUDED.severity,
			confidence = EXCLUDED.confidence,
			source = EXCLUDED.source,
			country_code = EXCLUDED.country_code,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			city = EXCLUDED.city,
			region = EXCLUDED.region,
			isp = EXCLUDED.isp,
			asn = EXCLUDED.asn,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			report_count = EXCLUDED.report_count,
			categories = EXCLUDED.categories,
			raw_data = EXCLUDED.raw_data,
			updated_at = NOW()`

	_, err = r.pool.Exec(ctx, query,
		event.ID, event.IPAddress, event.ThreatCategory, event.Severity, event.Confidence, event.Source,
		event.CountryCode, event.Latitude, event.Longitude, event.City, event.Region, event.ISP, event.ASN,
		event.FirstSeen, event.LastSeen, event.ReportCount, categories, []byte(event.RawData),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert threat event: %w", err)
	}

	return nil
}

// ListThreatEvents returns events matching the filter, newest first
func (r *ThreatEventRepository) ListThreatEvents(ctx context.Context, filter models.ThreatEventFilter) ([]*models.ThreatEvent, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("threat_category = $%d", argNum))
		args = append(args, filter.Category)
		argNum++
	}

	if filter.Source != "" {
		conditions = append(conditions, fmt.Sprintf("source = $%d", argNum))
		args = append(args, filter.Source)
		argNum++
	}

	if filter.CountryCode != "" {
		conditions = append(conditions, fmt.Sprintf("country_code = $%d", argNum))
		args = append(args, filter.CountryCode)
		argNum++
	}

	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("last_seen >= $%d", argNum))
		args = append(args, *filter.Since)
		argNum++
	}

	whereClause := "1=1"
	if len(conditions) > 0 {
		whereClause = strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT event_id, ip_address, threat_category, severity, confidence, source,
			   country_code, latitude, longitude, city, region, isp, asn,
			   first_seen, last_seen, report_count, categories, raw_data,
			   created_at, updated_at
		FROM threat_events
		WHERE %s
		ORDER BY last_seen DESC, event_id`, whereClause)

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
		return nil, fmt.Errorf("failed to list threat events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.ThreatEvent, 0)
	for rows.Next() {
		e, err := scanThreatEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// SourceActivity aggregates per-source counts and averages since the cutoff
func (r *ThreatEventRepository) SourceActivity(ctx context.Context, since time.Time) ([]models.SourceActivity, error) {
	query := `
		SELECT source, COUNT(*) AS event_count, AVG(severity), AVG(confidence)
		FROM threat_events
		WHERE last_seen >= $1
		GROUP BY source
		ORDER BY event_count DESC, source`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate source activity: %w", err)
	}
	defer rows.Close()

	result := make([]models.SourceActivity, 0)
	for rows.Next() {
		var a models.SourceActivity
		if err := rows.Scan(&a.Source, &a.EventCount, &a.AvgSeverity, &a.AvgConfidence); err != nil {
			return nil, fmt.Errorf("failed to scan source activity: %w", err)
		}
		result = append(result, a)
	}

	return result, rows.Err()
}

// TopCategories aggregates per-category counts and averages since the cutoff
func (r *ThreatEventRepository) TopCategories(ctx context.Context, since time.Time, limit int) ([]models.CategoryActivity, error) {
	query := `
		SELECT threat_category, COUNT(*) AS event_count, AVG(severity)
		FROM threat_events
		WHERE last_seen >= $1
		GROUP BY threat_category
		ORDER BY event_count DESC, threat_category`

	args := []any{since}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate top categories: %w", err)
	}
	defer rows.Close()

	result := make([]models.CategoryActivity, 0)
	for rows.Next() {
		var a models.CategoryActivity
		if err := rows.Scan(&a.Category, &a.Count, &a.AvgSeverity); err != nil {
			return nil, fmt.Errorf("failed to scan category activity: %w", err)
		}
		result = append(result, a)
	}

	return result, rows.Err()
}

// GeoDistribution aggregates per-(country, city) counts since the cutoff.
// Events without a country code carry no usable geography and are skipped.
func (r *ThreatEventRepository) GeoDistribution(ctx context.Context, since time.Time, limit int) ([]models.GeoActivity, error) {
	query := `
		SELECT country_code, city, COUNT(*) AS event_count, AVG(severity)
		FROM threat_events
		WHERE last_seen >= $1 AND country_code <> ''
		GROUP BY country_code, city
		ORDER BY event_count DESC, country_code, city`

	args := []any{since}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate geo distribution: %w", err)
	}
	defer rows.Close()

	result := make([]models.GeoActivity, 0)
	for rows.Next() {
		var a models.GeoActivity
		if err := rows.Scan(&a.CountryCode, &a.City, &a.EventCount, &a.AvgSeverity); err != nil {
			return nil, fmt.Errorf("failed to scan geo activity: %w", err)
		}
		result = append(result, a)
	}

	return result, rows.Err()
}

func scanThreatEvent(rows pgx.Rows) (*models.ThreatEvent, error) {
	e := &models.ThreatEvent{}
	var categories, rawData []byte

	err := rows.Scan(
		&e.ID, &e.IPAddress, &e.ThreatCategory, &e.Severity, &e.Confidence, &e.Source,
		&e.CountryCode, &e.Latitude, &e.Longitude, &e.City, &e.Region, &e.ISP, &e.ASN,
		&e.FirstSeen, &e.LastSeen, &e.ReportCount, &categories, &rawData,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan threat event: %w", err)
	}

	if err := unmarshalJSONB(categories, &e.Categories); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event categories: %w", err)
	}
	e.RawData = rawData

	return e, nil
}
