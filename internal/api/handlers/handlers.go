package handlers

import (
	"sentinel-lab/internal/domain/services"
	"sentinel-lab/internal/infrastructure/cache"
	"sentinel-lab/internal/infrastructure/database"
	"sentinel-lab/internal/streaming"
	"sentinel-lab/pkg/logger"
)

// Handlers holds all API handlers
type Handlers struct {
	Health       *HealthHandler
	Stats        *StatsHandler
	Enrichment   *EnrichmentHandler
	Events       *EventsHandler
	Evidence     *EvidenceHandler
	Correlations *CorrelationsHandler
	Streaming    *StreamingHandler
}

// Dependencies holds dependencies for handlers
type Dependencies struct {
	Enrichment   *services.EnrichmentService
	Ingest       *services.IngestService
	Engine       *services.CorrelationEngine
	Reports      *services.ReportService
	Events       services.ThreatEventStore
	Correlations services.CorrelationStore
	Evidence     services.EvidenceStore
	DB           *database.PostgresDB
	Cache        *cache.RedisCache
	WSHub        *streaming.WebSocketHub
	EventBus     *streaming.EventBus
	Version      string
	Logger       *logger.Logger
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(deps.DB, deps.Cache, deps.Version, deps.Logger),
		Stats:        NewStatsHandler(deps.Events, deps.Correlations, deps.Cache, deps.Logger),
		Enrichment:   NewEnrichmentHandler(deps.Enrichment, deps.Logger),
		Events:       NewEventsHandler(deps.Ingest, deps.Events, deps.Logger),
		Evidence:     NewEvidenceHandler(deps.Evidence, deps.Logger),
		Correlations: NewCorrelationsHandler(deps.Engine, deps.Correlations, deps.Reports, deps.Logger),
		Streaming:    NewStreamingHandler(deps.WSHub, deps.EventBus, deps.Logger),
	}
}
