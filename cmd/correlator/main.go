package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"sentinel-lab/internal/config"
	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/domain/services"
	"sentinel-lab/internal/feeds"
	"sentinel-lab/internal/infrastructure/cache"
	"sentinel-lab/internal/infrastructure/database"
	"sentinel-lab/internal/infrastructure/database/repository"
	"sentinel-lab/internal/providers"
	"sentinel-lab/internal/streaming"
	"sentinel-lab/pkg/logger"
)

const (
	// Lock settings
	lockKey     = "correlator"
	lockRefresh = 1 * time.Minute

	defaultLockTTL  = 5 * time.Minute
	defaultInterval = 15 * time.Minute

	// Retry settings
	defaultMaxRetries = 3
	baseRetryDelay    = 30 * time.Second
	maxRetryDelay     = 5 * time.Minute

	// Enrichment fan-out
	defaultWorkerPoolSize = 5

	runHistoryKeep = 100
)

func main() {
	// Load configuration
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var log *logger.Logger
	if cfg.App.Environment == "production" {
		log = logger.NewProduction()
	} else {
		log = logger.NewDevelopment()
	}
	log = log.WithComponent("correlator-worker")
	logger.SetGlobal(log)

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting Sentinel Correlator Worker")

	if !cfg.Correlator.Enabled {
		log.Warn().Msg("correlator is disabled in config, exiting")
		return
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize infrastructure
	db, redisCache, err := initInfrastructure(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize infrastructure")
	}
	defer func() {
		db.Close()
		redisCache.Close()
	}()

	// Initialize repositories
	repos := repository.New(db.Pool())
	log.Info().Msg("repositories initialized")

	// NATS is optional; correlations still persist without it
	var natsPublisher *streaming.NATSPublisher
	if cfg.NATS.Enabled {
		natsPublisher, err = streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, continuing without event publishing")
		} else {
			defer natsPublisher.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("connected to NATS")
		}
	}

	// Create worker
	worker := NewCorrelatorWorker(cfg, repos, redisCache, natsPublisher, log)

	// Handle shutdown signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Start worker
	go func() {
		if err := worker.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("worker stopped with error")
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-quit
	log.Info().Msg("shutting down correlator worker...")
	cancel()

	// Give time for graceful shutdown
	time.Sleep(2 * time.Second)
	log.Info().Msg("shutdown complete")
}

// CorrelatorWorker is a standalone background worker that pulls threat
// feeds, keeps enrichment warm for the active event window, and runs the
// correlation pass on a fixed interval. A Redis lock keeps concurrent
// replicas from running the same cycle.
type CorrelatorWorker struct {
	config     *config.Config
	repos      *repository.Repositories
	cache      *cache.RedisCache
	logger     *logger.Logger
	registry   *feeds.Registry
	ingest     *services.IngestService
	enrichment *services.EnrichmentService
	engine     *services.CorrelationEngine

	interval       time.Duration
	lockTTL        time.Duration
	maxRetries     int
	workerPoolSize int
}

// NewCorrelatorWorker creates a new correlator worker
func NewCorrelatorWorker(
	cfg *config.Config,
	repos *repository.Repositories,
	redisCache *cache.RedisCache,
	natsPublisher *streaming.NATSPublisher,
	log *logger.Logger,
) *CorrelatorWorker {
	// Initialize services
	scorer := services.NewScorer(cfg.Enrichment.HomeCountry, log)
	enrichmentStore := cache.NewEnrichmentTier(repos.Enrichment, redisCache, log)
	enrichment := services.NewEnrichmentService(enrichmentStore, scorer, cfg.Enrichment.CacheTTL, log)
	registerProviders(enrichment, cfg.Providers, log)

	ingest := services.NewIngestService(repos.ThreatEvents, log)
	engine := services.NewCorrelationEngine(cfg.Correlation, cfg.Enrichment.HomeCountry, repos.ThreatEvents, repos.Evidence, repos.Correlations, log)

	// Wire event publisher so persisted correlations reach NATS
	eventBus := streaming.NewEventBus(natsPublisher, log)
	publisher := streaming.NewEventBusPublisher(eventBus, nil)
	ingest.SetEventPublisher(publisher)
	engine.SetEventPublisher(publisher)

	// Register feed pullers
	registry := feeds.NewRegistry(log)
	registerFeeds(registry, cfg.Feeds, log)

	interval := cfg.Correlator.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	lockTTL := cfg.Correlator.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	maxRetries := cfg.Correlator.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	workerPoolSize := cfg.Correlator.WorkerPoolSize
	if workerPoolSize <= 0 {
		workerPoolSize = defaultWorkerPoolSize
	}

	return &CorrelatorWorker{
		config:         cfg,
		repos:          repos,
		cache:          redisCache,
		logger:         log,
		registry:       registry,
		ingest:         ingest,
		enrichment:     enrichment,
		engine:         engine,
		interval:       interval,
		lockTTL:        lockTTL,
		maxRetries:     maxRetries,
		workerPoolSize: workerPoolSize,
	}
}

// Run starts the worker main loop
func (w *CorrelatorWorker) Run(ctx context.Context) error {
	w.logger.Info().
		Dur("interval", w.interval).
		Int("max_retries", w.maxRetries).
		Msg("starting correlator worker loop")

	// Optional initial delay lets the API apply migrations first
	if delay := w.config.Correlator.InitialDelay; delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	// Run immediately on start
	w.runWithLockAndRetry(ctx)

	// Then run periodically
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("correlator worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.runWithLockAndRetry(ctx)
		}
	}
}

// runWithLockAndRetry attempts to acquire the lock and run a cycle with retry
func (w *CorrelatorWorker) runWithLockAndRetry(ctx context.Context) {
	// Try to acquire distributed lock
	acquired, err := w.cache.AcquireLock(ctx, lockKey, w.lockTTL)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to acquire lock")
		return
	}

	if !acquired {
		w.logger.Debug().Msg("another worker is running, skipping")
		return
	}

	// Release lock when done
	defer func() {
		if err := w.cache.ReleaseLock(ctx, lockKey); err != nil {
			w.logger.Warn().Err(err).Msg("failed to release lock")
		}
	}()

	// Start lock refresh goroutine
	lockCtx, lockCancel := context.WithCancel(ctx)
	defer lockCancel()
	go w.refreshLock(lockCtx)

	// Run the cycle with retry
	w.runWithRetry(ctx)
}

// refreshLock periodically extends the distributed lock
func (w *CorrelatorWorker) refreshLock(ctx context.Context) {
	ticker := time.NewTicker(lockRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.cache.RefreshLock(ctx, lockKey, w.lockTTL); err != nil {
				w.logger.Warn().Err(err).Msg("failed to refresh lock")
			}
		}
	}
}

// runWithRetry runs a cycle with exponential backoff retry
func (w *CorrelatorWorker) runWithRetry(ctx context.Context) {
	var lastErr error

	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt)
			w.logger.Info().
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("retrying correlation cycle after delay")

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		err := w.runCycle(ctx)
		if err == nil {
			return
		}

		lastErr = err
		w.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", w.maxRetries).
			Msg("correlation cycle failed")
	}

	w.logger.Error().
		Err(lastErr).
		Int("attempts", w.maxRetries+1).
		Msg("correlation cycle failed after all retries")
}

// runCycle runs a single cycle: pull feeds, warm enrichment for the active
// window, then score and persist correlations. Feed and enrichment failures
// are logged but never abort the pass; only correlation failures bubble up
// into the retry loop.
func (w *CorrelatorWorker) runCycle(ctx context.Context) error {
	start := time.Now()
	w.logger.Info().Msg("starting correlation cycle")

	w.pruneExpiredEnrichment(ctx)
	w.pullFeeds(ctx)
	w.refreshEnrichment(ctx)

	result, err := w.engine.RunPass(ctx)

	duration := time.Since(start)
	if err != nil {
		w.logger.Error().
			Err(err).
			Dur("duration", duration).
			Msg("correlation cycle failed")

		w.recordRunHistory(ctx, start, duration, false, err.Error())
		return err
	}

	w.logger.Info().
		Int("cyber_events", result.CyberEvents).
		Int("physical_events", result.PhysicalEvents).
		Int("persisted", result.Persisted).
		Dur("duration", duration).
		Msg("correlation cycle completed successfully")

	w.recordRunHistory(ctx, start, duration, true, "")
	return nil
}

// pruneExpiredEnrichment drops enrichment rows whose TTL has elapsed
func (w *CorrelatorWorker) pruneExpiredEnrichment(ctx context.Context) {
	dropped, err := w.repos.Enrichment.DeleteExpired(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to prune expired enrichment records")
		return
	}
	if dropped > 0 {
		w.logger.Info().Int64("dropped", dropped).Msg("pruned expired enrichment records")
	}
}

// pullFeeds fetches every enabled feed and ingests the results
func (w *CorrelatorWorker) pullFeeds(ctx context.Context) {
	results, errs := w.registry.FetchAll(ctx)
	for _, err := range errs {
		w.logger.Warn().Err(err).Msg("feed fetch failed")
	}

	for _, result := range results {
		ingestResult, err := w.ingest.IngestBatch(ctx, result.FeedSlug, result.Records)
		if err != nil {
			w.logger.Error().Err(err).Str("feed", result.FeedSlug).Msg("feed ingestion failed")
			continue
		}

		w.logger.Info().
			Str("feed", result.FeedSlug).
			Int("received", ingestResult.Received).
			Int("accepted", ingestResult.Accepted).
			Int("rejected", ingestResult.Rejected).
			Msg("feed batch ingested")
	}
}

// refreshEnrichment warms the enrichment cache for every distinct IP seen in
// the current cyber window. Fresh records are served from cache; only stale
// or missing ones hit the providers.
func (w *CorrelatorWorker) refreshEnrichment(ctx context.Context) {
	window := w.config.Correlation.CyberWindow
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	since := time.Now().Add(-window)

	events, err := w.repos.ThreatEvents.ListThreatEvents(ctx, models.ThreatEventFilter{Since: &since})
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to list events for enrichment")
		return
	}

	seen := make(map[string]struct{}, len(events))
	ips := make([]string, 0, len(events))
	for _, event := range events {
		if _, ok := seen[event.IPAddress]; ok {
			continue
		}
		seen[event.IPAddress] = struct{}{}
		ips = append(ips, event.IPAddress)
	}

	if len(ips) == 0 {
		return
	}

	jobs := make(chan string, len(ips))
	var failures int64
	var mu sync.Mutex

	// Start workers
	var wg sync.WaitGroup
	for i := 0; i < w.workerPoolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ip := range jobs {
				if _, err := w.enrichment.GetOrRefresh(ctx, ip); err != nil {
					mu.Lock()
					failures++
					mu.Unlock()
					w.logger.Warn().Err(err).Str("ip", ip).Msg("enrichment refresh failed")
				}
			}
		}()
	}

	// Send jobs
	for _, ip := range ips {
		jobs <- ip
	}
	close(jobs)

	wg.Wait()

	w.logger.Info().
		Int("ips", len(ips)).
		Int64("failures", failures).
		Msg("enrichment refresh completed")
}

// recordRunHistory records the cycle in the worker run history
func (w *CorrelatorWorker) recordRunHistory(ctx context.Context, startTime time.Time, duration time.Duration, success bool, errorMsg string) {
	entry := fmt.Sprintf("%s|%v|%d|%s",
		startTime.Format(time.RFC3339),
		success,
		duration.Milliseconds(),
		errorMsg,
	)

	if err := w.cache.RecordWorkerRun(ctx, lockKey, entry, runHistoryKeep); err != nil {
		w.logger.Warn().Err(err).Msg("failed to record run history")
	}

	// Keep the latest run queryable as JSON
	lastRun := map[string]any{
		"started_at":   startTime.Format(time.RFC3339),
		"completed_at": time.Now().Format(time.RFC3339),
		"duration_ms":  duration.Milliseconds(),
		"success":      success,
		"error":        errorMsg,
	}
	if err := w.cache.SetJSON(ctx, "correlator:last_run", lastRun, 24*time.Hour); err != nil {
		w.logger.Warn().Err(err).Msg("failed to cache last run")
	}
}

// calculateBackoff calculates exponential backoff delay
func calculateBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt-1)) // 2^(attempt-1) * baseDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// initInfrastructure initializes database and cache connections. Both are
// required: stores live in Postgres and the worker lock lives in Redis.
func initInfrastructure(ctx context.Context, cfg *config.Config, log *logger.Logger) (*database.PostgresDB, *cache.RedisCache, error) {
	db, err := database.NewPostgres(ctx, cfg.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	redisCache, err := cache.NewRedis(ctx, cfg.Redis, log)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return db, redisCache, nil
}

// registerProviders configures and registers the enrichment providers
func registerProviders(enrichment *services.EnrichmentService, cfg config.ProvidersConfig, log *logger.Logger) {
	geoip := providers.NewGeoIPProvider(log)
	if err := geoip.Configure(providerConfig(cfg.GeoIP)); err != nil {
		log.Warn().Err(err).Msg("failed to configure GeoIP provider")
	}
	enrichment.RegisterProvider(geoip)

	abuseipdb := providers.NewAbuseIPDBProvider(log)
	if err := abuseipdb.Configure(providerConfig(cfg.AbuseIPDB)); err != nil {
		log.Warn().Err(err).Msg("failed to configure AbuseIPDB provider")
	}
	enrichment.RegisterProvider(abuseipdb)

	shodan := providers.NewShodanProvider(log)
	if err := shodan.Configure(providerConfig(cfg.Shodan)); err != nil {
		log.Warn().Err(err).Msg("failed to configure Shodan provider")
	}
	enrichment.RegisterProvider(shodan)
}

// providerConfig maps the file config onto the provider package config
func providerConfig(cfg config.ProviderConfig) providers.Config {
	return providers.Config{
		Enabled: cfg.Enabled,
		APIURL:  cfg.APIURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
	}
}

// registerFeeds configures and registers the threat feed pullers
func registerFeeds(registry *feeds.Registry, cfg config.FeedsConfig, log *logger.Logger) {
	feodo := feeds.NewFeodoTrackerFeed(log)
	if err := feodo.Configure(feedConfig(cfg.FeodoTracker)); err != nil {
		log.Warn().Err(err).Msg("failed to configure FeodoTracker feed")
	}
	if err := registry.Register(feodo); err != nil {
		log.Warn().Err(err).Msg("failed to register FeodoTracker feed")
	}

	log.Info().
		Int("total", registry.Count()).
		Int("enabled", registry.CountEnabled()).
		Msg("registered threat feeds")
}

// feedConfig maps the file config onto the feeds package config
func feedConfig(cfg config.FeedConfig) feeds.Config {
	return feeds.Config{
		Enabled:        cfg.Enabled,
		FeedURL:        cfg.FeedURL,
		UpdateInterval: cfg.UpdateInterval,
	}
}
