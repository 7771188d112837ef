package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"sentinel-lab/internal/domain/models"
)

// fakeEventStore is a canned ThreatEventStore. Listing returns listOut and
// records the filter it was called with; upserts land in a map unless the
// record's IP is marked as failing.
type fakeEventStore struct {
	mu         sync.Mutex
	upserted   map[string]*models.ThreatEvent
	failIPs    map[string]bool
	listOut    []*models.ThreatEvent
	listErr    error
	lastFilter models.ThreatEventFilter

	sources    []models.SourceActivity
	categories []models.CategoryActivity
	geo        []models.GeoActivity
	aggErr     error
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{
		upserted: make(map[string]*models.ThreatEvent),
		failIPs:  make(map[string]bool),
	}
}

func (f *fakeEventStore) UpsertThreatEvent(_ context.Context, event *models.ThreatEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIPs[event.IPAddress] {
		return errors.New("connection reset")
	}
	f.upserted[event.ID] = event
	return nil
}

func (f *fakeEventStore) ListThreatEvents(_ context.Context, filter models.ThreatEventFilter) ([]*models.ThreatEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	return f.listOut, f.listErr
}

func (f *fakeEventStore) SourceActivity(_ context.Context, _ time.Time) ([]models.SourceActivity, error) {
	return f.sources, f.aggErr
}

func (f *fakeEventStore) TopCategories(_ context.Context, _ time.Time, _ int) ([]models.CategoryActivity, error) {
	return f.categories, f.aggErr
}

func (f *fakeEventStore) GeoDistribution(_ context.Context, _ time.Time, _ int) ([]models.GeoActivity, error) {
	return f.geo, f.aggErr
}

// fakeEvidenceStore is a canned EvidenceStore
type fakeEvidenceStore struct {
	mu        sync.Mutex
	upserted  map[string]*models.PhysicalEvidenceEvent
	listOut   []*models.PhysicalEvidenceEvent
	listErr   error
	lastSince time.Time
}

func newFakeEvidenceStore() *fakeEvidenceStore {
	return &fakeEvidenceStore{upserted: make(map[string]*models.PhysicalEvidenceEvent)}
}

func (f *fakeEvidenceStore) UpsertEvidence(_ context.Context, evidence *models.PhysicalEvidenceEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted[evidence.ID] = evidence
	return nil
}

func (f *fakeEvidenceStore) ListEvidenceWithLocation(_ context.Context, since time.Time) ([]*models.PhysicalEvidenceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSince = since
	return f.listOut, f.listErr
}

// fakeCorrelationStore records upserts, optionally failing selected IDs
type fakeCorrelationStore struct {
	mu       sync.Mutex
	upserted map[string]*models.Correlation
	failIDs  map[string]bool
	stats    []models.CorrelationTypeStats
	statsErr error
}

func newFakeCorrelationStore() *fakeCorrelationStore {
	return &fakeCorrelationStore{
		upserted: make(map[string]*models.Correlation),
		failIDs:  make(map[string]bool),
	}
}

func (f *fakeCorrelationStore) UpsertCorrelation(_ context.Context, correlation *models.Correlation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[correlation.ID] {
		return errors.New("connection reset")
	}
	f.upserted[correlation.ID] = correlation
	return nil
}

func (f *fakeCorrelationStore) ListCorrelations(_ context.Context, _ models.CorrelationFilter) ([]*models.Correlation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Correlation, 0, len(f.upserted))
	for _, c := range f.upserted {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCorrelationStore) CorrelationStatsByType(_ context.Context, _ time.Time) ([]models.CorrelationTypeStats, error) {
	return f.stats, f.statsErr
}

// fakePublisher records everything published
type fakePublisher struct {
	mu           sync.Mutex
	correlations []*models.Correlation
	ingests      []*models.IngestResult
	pubErr       error
}

func (f *fakePublisher) PublishCorrelation(_ context.Context, correlation *models.Correlation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubErr != nil {
		return f.pubErr
	}
	f.correlations = append(f.correlations, correlation)
	return nil
}

func (f *fakePublisher) PublishIngest(_ context.Context, result *models.IngestResult, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubErr != nil {
		return f.pubErr
	}
	f.ingests = append(f.ingests, result)
	return nil
}

// countingProvider is a call-counting EnrichmentProvider returning a canned
// partial
type countingProvider struct {
	mu          sync.Mutex
	slug        string
	enabled     bool
	partial     *models.PartialEnrichment
	err         error
	calls       int
	hadDeadline bool
}

func (p *countingProvider) Slug() string    { return p.slug }
func (p *countingProvider) IsEnabled() bool { return p.enabled }

func (p *countingProvider) Lookup(ctx context.Context, _ string) (*models.PartialEnrichment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	_, p.hadDeadline = ctx.Deadline()
	if p.err != nil {
		return nil, p.err
	}
	return p.partial, nil
}

func (p *countingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeEnrichmentStore is a map-backed EnrichmentStore
type fakeEnrichmentStore struct {
	mu        sync.Mutex
	records   map[string]*models.EnrichmentRecord
	getErr    error
	upsertErr error
	upserts   int
}

func newFakeEnrichmentStore() *fakeEnrichmentStore {
	return &fakeEnrichmentStore{records: make(map[string]*models.EnrichmentRecord)}
}

func (f *fakeEnrichmentStore) GetEnrichment(_ context.Context, ip string) (*models.EnrichmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.records[ip], nil
}

func (f *fakeEnrichmentStore) UpsertEnrichment(_ context.Context, record *models.EnrichmentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts++
	f.records[record.IPAddress] = record
	return nil
}
