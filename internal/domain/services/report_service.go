package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

const (
	defaultEventWindow       = 30 * 24 * time.Hour
	defaultCorrelationWindow = 7 * 24 * time.Hour

	topCategoriesLimit = 10
	geoCellsLimit      = 20

	// severityRecommendationFloor gates the category recommendation.
	severityRecommendationFloor = 0.7
)

// ReportService builds aggregate intelligence reports over rolling windows.
// Recommendations are deterministic templated sentences over the statistics.
type ReportService struct {
	events       ThreatEventStore
	correlations CorrelationStore
	logger       *logger.Logger

	eventWindow       time.Duration
	correlationWindow time.Duration
}

// NewReportService creates a new report service
func NewReportService(events ThreatEventStore, correlations CorrelationStore, eventWindow, correlationWindow time.Duration, log *logger.Logger) *ReportService {
	if eventWindow <= 0 {
		eventWindow = defaultEventWindow
	}
	if correlationWindow <= 0 {
		correlationWindow = defaultCorrelationWindow
	}
	return &ReportService{
		events:            events,
		correlations:      correlations,
		logger:            log.WithComponent("report"),
		eventWindow:       eventWindow,
		correlationWindow: correlationWindow,
	}
}

// BuildReport aggregates event and correlation activity into one report
func (s *ReportService) BuildReport(ctx context.Context) (*models.IntelligenceReport, error) {
	start := time.Now()
	eventCutoff := start.Add(-s.eventWindow)
	correlationCutoff := start.Add(-s.correlationWindow)

	sources, err := s.events.SourceActivity(ctx, eventCutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate source activity: %w", err)
	}

	topCategories, err := s.events.TopCategories(ctx, eventCutoff, topCategoriesLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate threat categories: %w", err)
	}

	geoCells, err := s.events.GeoDistribution(ctx, eventCutoff, geoCellsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate geographic distribution: %w", err)
	}

	correlationStats, err := s.correlations.CorrelationStatsByType(ctx, correlationCutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate correlations: %w", err)
	}

	var totalEvents int64
	for _, src := range sources {
		totalEvents += src.EventCount
	}
	var totalCorrelations int64
	for _, ct := range correlationStats {
		totalCorrelations += ct.Count
	}

	report := &models.IntelligenceReport{
		ID:                uuid.New(),
		GeneratedAt:       start,
		EventWindow:       s.eventWindow,
		CorrelationWindow: s.correlationWindow,
		Threats: models.ThreatStatistics{
			TotalEvents:     totalEvents,
			Sources:         sources,
			TopThreatTypes:  topCategories,
			GeoDistribution: geoCells,
		},
		Correlations: models.CorrelationStatistics{
			TotalCorrelations: totalCorrelations,
			ByType:            correlationStats,
		},
	}
	report.Recommendations = s.recommendations(report)

	s.logger.Info().
		Str("report_id", report.ID.String()).
		Int64("total_events", totalEvents).
		Int64("total_correlations", totalCorrelations).
		Dur("duration", time.Since(start)).
		Msg("intelligence report generated")

	return report, nil
}

// recommendations renders the deterministic recommendation templates:
// the most frequent high-severity category, the most frequent correlation
// type, and the busiest feed source.
func (s *ReportService) recommendations(report *models.IntelligenceReport) []string {
	recommendations := make([]string, 0, 3)

	for _, category := range report.Threats.TopThreatTypes {
		if category.AvgSeverity > severityRecommendationFloor {
			recommendations = append(recommendations, fmt.Sprintf(
				"Focus on %s threats - highest severity score (%.2f)",
				category.Category, category.AvgSeverity,
			))
			break
		}
	}

	if len(report.Correlations.ByType) > 0 {
		top := report.Correlations.ByType[0]
		recommendations = append(recommendations, fmt.Sprintf(
			"Investigate %s correlations - %d instances found",
			top.Type, top.Count,
		))
	}

	if len(report.Threats.Sources) > 0 {
		top := report.Threats.Sources[0]
		for _, src := range report.Threats.Sources[1:] {
			if src.EventCount > top.EventCount {
				top = src
			}
		}
		recommendations = append(recommendations, fmt.Sprintf(
			"Monitor %s feed closely - %d events in last %d days",
			top.Source, top.EventCount, int(s.eventWindow.Hours()/24),
		))
	}

	return recommendations
}
