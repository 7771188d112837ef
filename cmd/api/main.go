package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"sentinel-lab/internal/api"
	"sentinel-lab/internal/api/handlers"
	"sentinel-lab/internal/config"
	"sentinel-lab/internal/domain/services"
	"sentinel-lab/internal/grpc/intel"
	"sentinel-lab/internal/infrastructure/cache"
	"sentinel-lab/internal/infrastructure/database"
	"sentinel-lab/internal/infrastructure/database/repository"
	"sentinel-lab/internal/providers"
	"sentinel-lab/internal/streaming"
	"sentinel-lab/pkg/logger"
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
	logger.SetGlobal(log)

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting Sentinel API")

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

	// Apply schema migrations
	if err := database.RunMigrations(cfg.Database, log); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	// Initialize repositories
	repos := repository.New(db.Pool())
	log.Info().Msg("repositories initialized")

	// Initialize streaming infrastructure
	var natsPublisher *streaming.NATSPublisher
	if cfg.NATS.Enabled {
		natsPublisher, err = streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, continuing without real-time streaming")
		} else {
			defer natsPublisher.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("connected to NATS")
		}
	}

	// Create event bus for real-time updates
	eventBus := streaming.NewEventBus(natsPublisher, log)
	log.Info().Bool("nats_enabled", natsPublisher != nil).Msg("event bus initialized")

	// Create WebSocket hub for dashboard clients
	wsHub := streaming.NewWebSocketHub(log)
	go wsHub.Run(ctx)

	// Initialize services
	scorer := services.NewScorer(cfg.Enrichment.HomeCountry, log)

	// Enrichment cache: Redis hot tier layered over the Postgres store
	enrichmentStore := cache.NewEnrichmentTier(repos.Enrichment, redisCache, log)
	enrichment := services.NewEnrichmentService(enrichmentStore, scorer, cfg.Enrichment.CacheTTL, log)
	registerProviders(enrichment, cfg.Providers, log)

	ingest := services.NewIngestService(repos.ThreatEvents, log)
	engine := services.NewCorrelationEngine(cfg.Correlation, cfg.Enrichment.HomeCountry, repos.ThreatEvents, repos.Evidence, repos.Correlations, log)
	reports := services.NewReportService(repos.ThreatEvents, repos.Correlations, cfg.Correlation.ReportWindow, 0, log)

	// Wire event publisher for real-time updates
	eventPublisher := streaming.NewEventBusPublisher(eventBus, wsHub)
	ingest.SetEventPublisher(eventPublisher)
	engine.SetEventPublisher(eventPublisher)

	// Initialize handlers
	deps := handlers.Dependencies{
		Enrichment:   enrichment,
		Ingest:       ingest,
		Engine:       engine,
		Reports:      reports,
		Events:       repos.ThreatEvents,
		Correlations: repos.Correlations,
		Evidence:     repos.Evidence,
		DB:           db,
		Cache:        redisCache,
		WSHub:        wsHub,
		EventBus:     eventBus,
		Version:      cfg.App.Version,
		Logger:       log,
	}
	h := handlers.NewHandlers(deps)

	// Create router
	router := api.NewRouter(*cfg, h, redisCache, log)
	httpHandler := router.Setup()

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC health server
	grpcListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gRPC listener")
	}

	grpcServer := grpc.NewServer()
	intel.RegisterHealthServer(ctx, grpcServer, db, redisCache)

	go func() {
		log.Info().
			Str("addr", grpcListener.Addr().String()).
			Msg("starting gRPC health server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Fatal().Err(err).Msg("gRPC server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	// Cancel context to stop background services
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop gRPC server
	grpcServer.GracefulStop()

	// Stop HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("shutdown complete")
}

// initInfrastructure initializes database and cache connections. Both are
// required: the API serves nothing useful without its stores.
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

// registerProviders configures and registers the enrichment providers.
// Disabled providers stay registered; the enrichment service skips them.
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
