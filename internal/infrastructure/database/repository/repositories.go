package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"sentinel-lab/internal/domain/services"
)

// Repositories bundles the Postgres-backed implementations of the domain
// store interfaces onto one shared connection pool
type Repositories struct {
	Enrichment   *EnrichmentRepository
	ThreatEvents *ThreatEventRepository
	Evidence     *EvidenceRepository
	Correlations *CorrelationRepository
}

// New wires all repositories onto the given pool
func New(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Enrichment:   NewEnrichmentRepository(pool),
		ThreatEvents: NewThreatEventRepository(pool),
		Evidence:     NewEvidenceRepository(pool),
		Correlations: NewCorrelationRepository(pool),
	}
}

// The repositories satisfy the store interfaces the domain services consume
var (
	_ services.EnrichmentStore  = (*EnrichmentRepository)(nil)
	_ services.ThreatEventStore = (*ThreatEventRepository)(nil)
	_ services.EvidenceStore    = (*EvidenceRepository)(nil)
	_ services.CorrelationStore = (*CorrelationRepository)(nil)
)
