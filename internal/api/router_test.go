package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-lab/internal/api/handlers"
	"sentinel-lab/internal/config"
	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/domain/services"
	"sentinel-lab/internal/infrastructure/memory"
	"sentinel-lab/pkg/logger"
)

const testAPIKey = "test-key"

// stubProvider is a canned enrichment provider for router tests
type stubProvider struct {
	slug    string
	partial *models.PartialEnrichment
	err     error
	calls   int
}

func (p *stubProvider) Slug() string    { return p.slug }
func (p *stubProvider) IsEnabled() bool { return true }

func (p *stubProvider) Lookup(_ context.Context, _ string) (*models.PartialEnrichment, error) {
	p.calls++
	return p.partial, p.err
}

type testEnv struct {
	store   *memory.Store
	engine  *services.CorrelationEngine
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.New()
	log := logger.NewNop()

	scorer := services.NewScorer("ZA", log)
	enrichment := services.NewEnrichmentService(store, scorer, time.Hour, log)
	enrichment.RegisterProvider(&stubProvider{
		slug: "geoip",
		partial: &models.PartialEnrichment{
			Geo: &models.GeoData{CountryCode: "ZA", City: "Johannesburg"},
		},
	})

	ingest := services.NewIngestService(store, log)

	engine := services.NewCorrelationEngine(
		config.CorrelationConfig{},
		"ZA",
		store, store, store,
		log,
	)

	reports := services.NewReportService(store, store, 0, 0, log)

	h := handlers.NewHandlers(handlers.Dependencies{
		Enrichment:   enrichment,
		Ingest:       ingest,
		Engine:       engine,
		Reports:      reports,
		Events:       store,
		Correlations: store,
		Evidence:     store,
		Logger:       log,
	})

	cfg := config.Config{
		API: config.APIConfig{Key: testAPIKey},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		},
	}

	router := NewRouter(cfg, h, nil, log)
	return &testEnv{store: store, engine: engine, handler: router.Setup()}
}

func (env *testEnv) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
	}

	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(dst))
}

func ptr(v float64) *float64 { return &v }

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)

	var health map[string]any
	decodeBody(t, w, &health)
	assert.Equal(t, "healthy", health["status"])

	w = env.do(t, http.MethodGet, "/ready", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)

	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeBody(t, w, &ready)
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, "not configured", ready.Checks["redis"])
	assert.Equal(t, "not configured", ready.Checks["postgres"])
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/events"},
		{http.MethodGet, "/api/v1/enrichment/1.2.3.4"},
		{http.MethodGet, "/api/v1/correlations"},
		{http.MethodPost, "/api/v1/correlations/run"},
	}

	for _, p := range paths {
		w := env.do(t, p.method, p.path, nil, false)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s without auth", p.method, p.path)
	}

	// Wrong key is rejected
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]string
	decodeBody(t, w, &body)
	assert.Equal(t, "invalid API key", body["error"])
}

func TestIngestEndpoint(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{
		"source": "abuseipdb",
		"records": []map[string]any{
			{
				"ip":               "203.0.113.10",
				"timestamp":        "2024-03-01T10:00:00Z",
				"threat_type":      "phishing",
				"severity_score":   0.9,
				"confidence_score": 0.8,
			},
			{
				"ip":        "not-an-ip",
				"timestamp": "2024-03-01T10:00:00Z",
			},
		},
	}

	w := env.do(t, http.MethodPost, "/api/v1/events/ingest", body, true)
	require.Equal(t, http.StatusOK, w.Code)

	var result models.IngestResult
	decodeBody(t, w, &result)
	assert.Equal(t, 2, result.Received)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 1, result.Rejected)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "unparseable ip address", result.Failures[0].Reason)

	// The accepted event is listable
	w = env.do(t, http.MethodGet, "/api/v1/events?category=phishing", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Data  []*models.ThreatEvent `json:"data"`
		Count int                   `json:"count"`
	}
	decodeBody(t, w, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "203.0.113.10", list.Data[0].IPAddress)
	assert.Equal(t, "abuseipdb", list.Data[0].Source)
}

func TestIngestValidation(t *testing.T) {
	env := newTestEnv(t)

	// Missing source
	w := env.do(t, http.MethodPost, "/api/v1/events/ingest", map[string]any{
		"records": []map[string]any{{"ip": "1.2.3.4"}},
	}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Empty records
	w = env.do(t, http.MethodPost, "/api/v1/events/ingest", map[string]any{
		"source":  "test",
		"records": []map[string]any{},
	}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Oversized batch
	records := make([]map[string]any, 1001)
	for i := range records {
		records[i] = map[string]any{"ip": "1.2.3.4", "timestamp": "2024-03-01T10:00:00Z"}
	}
	w = env.do(t, http.MethodPost, "/api/v1/events/ingest", map[string]any{
		"source":  "test",
		"records": records,
	}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]string
	decodeBody(t, w, &body)
	assert.Equal(t, "maximum 1000 records per batch", body["error"])
}

func TestEvidenceEndpoint(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{
		"records": []map[string]any{
			{
				"kind":          "cyber_fraud",
				"latitude":      -26.21,
				"longitude":     28.05,
				"location_name": "Sandton",
				"occurred_at":   "2024-03-01T11:00:00Z",
			},
			{
				// Missing kind is rejected
				"occurred_at": "2024-03-01T11:00:00Z",
			},
			{
				// Zero timestamp is rejected
				"kind": "theft",
			},
		},
	}

	w := env.do(t, http.MethodPost, "/api/v1/evidence", body, true)
	require.Equal(t, http.StatusOK, w.Code)

	var result struct {
		Received int                    `json:"received"`
		Accepted int                    `json:"accepted"`
		Rejected int                    `json:"rejected"`
		Failures []models.RecordFailure `json:"failures"`
	}
	decodeBody(t, w, &result)
	assert.Equal(t, 3, result.Received)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 2, result.Rejected)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "empty kind", result.Failures[0].Reason)
	assert.Equal(t, "zero timestamp", result.Failures[1].Reason)

	// The stored record got a content-addressed ID
	occurred, _ := time.Parse(time.RFC3339, "2024-03-01T11:00:00Z")
	stored, err := env.store.ListEvidenceWithLocation(context.Background(), occurred.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.NewEvidenceID("cyber_fraud", occurred, "Sandton"), stored[0].ID)
}

func TestEnrichmentEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/enrichment/203.0.113.10", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var record models.EnrichmentRecord
	decodeBody(t, w, &record)
	assert.Equal(t, "203.0.113.10", record.IPAddress)
	assert.Equal(t, "ZA", record.Geo.CountryCode)

	// Malformed IP is a 400
	w = env.do(t, http.MethodGet, "/api/v1/enrichment/not-an-ip", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]string
	decodeBody(t, w, &body)
	assert.Equal(t, "invalid ip address", body["error"])
}

func TestCorrelationEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetRules([]models.PatternRule{{
		Name:               "phishing_cyber_fraud",
		CyberCategories:    []string{"phishing"},
		PhysicalCategories: []string{"cyber_fraud"},
		Weight:             0.6,
	}})
	now := time.Now().UTC().Truncate(time.Second)

	// Cyber event and physical evidence ~1.5km and 1h apart
	ingestBody := map[string]any{
		"source": "sentinel",
		"records": []map[string]any{
			{
				"ip":               "203.0.113.10",
				"timestamp":        now.Add(-2 * time.Hour).Format(time.RFC3339),
				"threat_type":      "phishing",
				"severity_score":   0.9,
				"confidence_score": 0.8,
				"country_code":     "ZA",
				"latitude":         -26.20,
				"longitude":        28.04,
			},
		},
	}
	w := env.do(t, http.MethodPost, "/api/v1/events/ingest", ingestBody, true)
	require.Equal(t, http.StatusOK, w.Code)

	evidenceBody := map[string]any{
		"records": []map[string]any{
			{
				"kind":        "cyber_fraud",
				"latitude":    -26.21,
				"longitude":   28.05,
				"occurred_at": now.Add(-time.Hour).Format(time.RFC3339),
			},
		},
	}
	w = env.do(t, http.MethodPost, "/api/v1/evidence", evidenceBody, true)
	require.Equal(t, http.StatusOK, w.Code)

	// Run the pass
	w = env.do(t, http.MethodPost, "/api/v1/correlations/run", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var run models.CorrelationRunResult
	decodeBody(t, w, &run)
	assert.Equal(t, 1, run.CyberEvents)
	assert.Equal(t, 1, run.PhysicalEvents)
	assert.Equal(t, 1, run.Persisted)

	// The persisted correlation is listable with the expected score
	w = env.do(t, http.MethodGet, "/api/v1/correlations?min_score=0.5", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Data  []*models.Correlation `json:"data"`
		Count int                   `json:"count"`
	}
	decodeBody(t, w, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, models.CorrelationPhishingFraud, list.Data[0].Type)
	assert.InDelta(t, 0.816, list.Data[0].Score, 0.02)
	assert.Contains(t, list.Data[0].Evidence, "Events occurred within 24 hours of each other")

	// Type filter excludes other types
	w = env.do(t, http.MethodGet, "/api/v1/correlations?type=sim_swap_theft_correlation", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &list)
	assert.Equal(t, 0, list.Count)

	// The report reflects the persisted correlation
	w = env.do(t, http.MethodGet, "/api/v1/correlations/report", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var report models.IntelligenceReport
	decodeBody(t, w, &report)
	assert.Equal(t, int64(1), report.Threats.TotalEvents)
	assert.Equal(t, int64(1), report.Correlations.TotalCorrelations)
	require.NotEmpty(t, report.Recommendations)
	assert.Contains(t, report.Recommendations, "Focus on phishing threats - highest severity score (0.90)")
	assert.Contains(t, report.Recommendations, "Investigate phishing_fraud_correlation correlations - 1 instances found")
	assert.Contains(t, report.Recommendations, "Monitor sentinel feed closely - 1 events in last 30 days")
}

func TestCorrelationsListValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/correlations?min_score=abc", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	// Seed one event
	event := &models.ThreatEvent{
		ID:             "evt-1",
		IPAddress:      "203.0.113.10",
		ThreatCategory: "botnet_c2",
		Severity:       0.7,
		Confidence:     0.9,
		Source:         "feodotracker",
		FirstSeen:      time.Now().Add(-time.Hour),
		LastSeen:       time.Now().Add(-time.Hour),
	}
	require.NoError(t, env.store.UpsertThreatEvent(context.Background(), event))

	w := env.do(t, http.MethodGet, "/stats", nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	var stats struct {
		TotalEvents    int64            `json:"total_events"`
		EventsBySource map[string]int64 `json:"events_by_source"`
	}
	decodeBody(t, w, &stats)
	assert.Equal(t, int64(1), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.EventsBySource["feodotracker"])
}

func TestEventsListPagination(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		event := &models.ThreatEvent{
			ID:             fmt.Sprintf("evt-%d", i),
			IPAddress:      fmt.Sprintf("203.0.113.%d", i),
			ThreatCategory: "scanning",
			Source:         "test",
			LastSeen:       now.Add(-time.Duration(i) * time.Minute),
		}
		require.NoError(t, env.store.UpsertThreatEvent(context.Background(), event))
	}

	w := env.do(t, http.MethodGet, "/api/v1/events?limit=2&offset=1", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Data  []*models.ThreatEvent `json:"data"`
		Count int                   `json:"count"`
	}
	decodeBody(t, w, &list)
	require.Equal(t, 2, list.Count)
	// Newest first, offset skips the newest
	assert.Equal(t, "evt-1", list.Data[0].ID)
	assert.Equal(t, "evt-2", list.Data[1].ID)
}
