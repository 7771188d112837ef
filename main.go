// main.go - Sentinel crime intelligence demo server. Runs the full pipeline
// (enrichment, ingestion, correlation, reporting) on in-memory stores with
// canned provider data, so it works with no database and no network.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"sentinel-lab/internal/config"
	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/domain/services"
	"sentinel-lab/internal/infrastructure/memory"
	"sentinel-lab/pkg/logger"
)

// ============================================================================
// GLOBAL STATE
// ============================================================================

var (
	store      *memory.Store
	enrichment *services.EnrichmentService
	ingest     *services.IngestService
	engine     *services.CorrelationEngine
	reports    *services.ReportService
	apiKey     string
)

// ============================================================================
// INITIALIZATION
// ============================================================================

func init() {
	zlog := logger.NewDevelopment()

	store = memory.New()
	scorer := services.NewScorer("ZA", zlog)

	enrichment = services.NewEnrichmentService(store, scorer, 24*time.Hour, zlog)
	enrichment.RegisterProvider(&cannedProvider{})

	ingest = services.NewIngestService(store, zlog)
	engine = services.NewCorrelationEngine(config.CorrelationConfig{}, "ZA", store, store, store, zlog)
	reports = services.NewReportService(store, store, 0, 0, zlog)

	// Load API key from environment
	apiKey = os.Getenv("SENTINEL_API_KEY")
	if apiKey == "" {
		apiKey = "demo-key" // For local demo only
		log.Println("WARNING: Using default API key. Set SENTINEL_API_KEY for anything beyond a demo.")
	}
}

// ============================================================================
// CANNED ENRICHMENT PROVIDER
// ============================================================================

// cannedProvider serves fixed enrichment data so the demo needs no network
type cannedProvider struct{}

func (p *cannedProvider) Slug() string    { return "canned" }
func (p *cannedProvider) IsEnabled() bool { return true }

func (p *cannedProvider) Lookup(_ context.Context, ip string) (*models.PartialEnrichment, error) {
	if partial, ok := cannedEnrichment[ip]; ok {
		return partial, nil
	}
	return &models.PartialEnrichment{
		Geo: &models.GeoData{Country: "South Africa", CountryCode: "ZA"},
	}, nil
}

var cannedEnrichment = map[string]*models.PartialEnrichment{
	"196.25.10.40": {
		Geo: &models.GeoData{
			Latitude:    ptr(-26.2041),
			Longitude:   ptr(28.0473),
			City:        "Johannesburg",
			Region:      "Gauteng",
			Country:     "South Africa",
			CountryCode: "ZA",
			ISP:         "Telkom SA",
		},
		Abuse: &models.AbuseData{
			AbuseConfidenceScore: 85,
			TotalReports:         42,
			CountryCode:          "ZA",
			IsPublic:             true,
		},
	},
	"41.0.23.7": {
		Geo: &models.GeoData{
			Latitude:    ptr(-33.9249),
			Longitude:   ptr(18.4241),
			City:        "Cape Town",
			Region:      "Western Cape",
			Country:     "South Africa",
			CountryCode: "ZA",
			ISP:         "Vodacom",
		},
		Abuse: &models.AbuseData{
			AbuseConfidenceScore: 60,
			TotalReports:         11,
			CountryCode:          "ZA",
			IsPublic:             true,
		},
		Exposure: &models.ExposureData{
			Ports:              []int{22, 80, 8080},
			Organization:       "Vodacom",
			Vulnerabilities:    []string{"CVE-2023-44487"},
			VulnerabilityCount: 1,
		},
	},
}

// ============================================================================
// SEED DATA
// ============================================================================

// seedDemoData loads a small cyber-physical scenario: a SIM swap campaign in
// Johannesburg alongside a phone theft two streets away, which the default
// pattern rules link into a sim_swap_theft_correlation.
func seedDemoData() error {
	now := time.Now().UTC()

	records := []models.FeedRecord{
		{
			IP:             "196.25.10.40",
			Timestamp:      now.Add(-2 * time.Hour),
			ThreatCategory: "sim_swap",
			Severity:       0.9,
			Confidence:     0.85,
			CountryCode:    "ZA",
			Latitude:       ptr(-26.2041),
			Longitude:      ptr(28.0473),
			City:           "Johannesburg",
		},
		{
			IP:             "41.0.23.7",
			Timestamp:      now.Add(-6 * time.Hour),
			ThreatCategory: "phishing",
			Severity:       0.7,
			Confidence:     0.8,
			CountryCode:    "ZA",
			Latitude:       ptr(-33.9249),
			Longitude:      ptr(18.4241),
			City:           "Cape Town",
		},
		{
			IP:             "102.65.8.120",
			Timestamp:      now.Add(-26 * time.Hour),
			ThreatCategory: "botnet_c2",
			Severity:       0.95,
			Confidence:     0.9,
			CountryCode:    "ZA",
		},
	}

	result, err := ingest.IngestBatch(context.Background(), "demo", records)
	if err != nil {
		return err
	}
	log.Printf("[Seed] Ingested %d threat events", result.Accepted)

	evidence := &models.PhysicalEvidenceEvent{
		ID:           models.NewEvidenceID("phone_theft", now.Add(-1*time.Hour), "Braamfontein"),
		Kind:         "phone_theft",
		Latitude:     ptr(-26.1929),
		Longitude:    ptr(28.0305),
		LocationName: "Braamfontein",
		OccurredAt:   now.Add(-1 * time.Hour),
		CreatedAt:    now,
	}
	if err := store.UpsertEvidence(context.Background(), evidence); err != nil {
		return err
	}
	log.Println("[Seed] Stored 1 physical evidence event")

	runResult, err := engine.RunPass(context.Background())
	if err != nil {
		return err
	}
	log.Printf("[Seed] Correlation pass: %d pairs scored, %d correlations persisted",
		runResult.PairsScored, runResult.Persisted)

	return nil
}

// ============================================================================
// HTTP HANDLERS
// ============================================================================

// Middleware for API key authentication
func authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		providedKey := r.Header.Get("Authorization")
		if providedKey == "" || providedKey != "Bearer "+apiKey {
			respondWithError(w, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}

		next(w, r)
	}
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Health check
func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": "1.0.0",
		"mode":    "demo",
	})
}

// Enrich one IP through the canned provider
func handleEnrich(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]

	record, err := enrichment.GetOrRefresh(r.Context(), ip)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, record)
}

// Ingest a batch of feed records
func handleIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source  string              `json:"source"`
		Records []models.FeedRecord `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := ingest.IngestBatch(r.Context(), req.Source, req.Records)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// List stored threat events
func handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter := models.ThreatEventFilter{
		Category: r.URL.Query().Get("category"),
		Source:   r.URL.Query().Get("source"),
		Limit:    100,
	}

	events, err := store.ListThreatEvents(r.Context(), filter)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"data":  events,
		"count": len(events),
	})
}

// Store a physical evidence event
func handleAddEvidence(w http.ResponseWriter, r *http.Request) {
	var evidence models.PhysicalEvidenceEvent
	if err := json.NewDecoder(r.Body).Decode(&evidence); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if evidence.Kind == "" || evidence.OccurredAt.IsZero() {
		respondWithError(w, http.StatusBadRequest, "Missing kind or occurred_at")
		return
	}
	if evidence.ID == "" {
		evidence.ID = models.NewEvidenceID(evidence.Kind, evidence.OccurredAt, evidence.LocationName)
	}
	if evidence.CreatedAt.IsZero() {
		evidence.CreatedAt = time.Now().UTC()
	}

	if err := store.UpsertEvidence(r.Context(), &evidence); err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, evidence)
}

// Run a correlation pass over the current windows
func handleRunCorrelation(w http.ResponseWriter, r *http.Request) {
	result, err := engine.RunPass(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// List stored correlations
func handleListCorrelations(w http.ResponseWriter, r *http.Request) {
	correlations, err := store.ListCorrelations(r.Context(), models.CorrelationFilter{Limit: 100})
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"data":  correlations,
		"count": len(correlations),
	})
}

// Build the aggregate intelligence report
func handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := reports.BuildReport(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, report)
}

// Get pipeline statistics
func handleStats(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]any{
		"enrichment":  enrichment.GetStats(),
		"ingest":      ingest.GetStats(),
		"correlation": engine.GetStats(),
	})
}

// ============================================================================
// HELPER FUNCTIONS
// ============================================================================

func ptr(v float64) *float64 {
	return &v
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]any{"error": message})
}

// ============================================================================
// MAIN
// ============================================================================

func main() {
	log.Println("Seeding demo data...")
	if err := seedDemoData(); err != nil {
		log.Printf("Warning: demo seed completed with errors: %v", err)
	}

	// Setup router
	r := mux.NewRouter()

	// Public endpoints
	r.HandleFunc("/health", handleHealth).Methods("GET")
	r.HandleFunc("/api/v1/stats", handleStats).Methods("GET")

	// Protected endpoints
	r.HandleFunc("/api/v1/enrichment/{ip}", authMiddleware(handleEnrich)).Methods("GET")
	r.HandleFunc("/api/v1/events", authMiddleware(handleListEvents)).Methods("GET")
	r.HandleFunc("/api/v1/events/ingest", authMiddleware(handleIngest)).Methods("POST")
	r.HandleFunc("/api/v1/evidence", authMiddleware(handleAddEvidence)).Methods("POST")
	r.HandleFunc("/api/v1/correlations", authMiddleware(handleListCorrelations)).Methods("GET")
	r.HandleFunc("/api/v1/correlations/run", authMiddleware(handleRunCorrelation)).Methods("POST")
	r.HandleFunc("/api/v1/correlations/report", authMiddleware(handleReport)).Methods("GET")

	// Apply CORS middleware
	handler := corsMiddleware(r)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Sentinel demo server starting on port %s", port)
	log.Fatal(server.ListenAndServe())
}
