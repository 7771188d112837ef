package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"sentinel-lab/internal/api/handlers"
	apimiddleware "sentinel-lab/internal/api/middleware"
	"sentinel-lab/internal/config"
	"sentinel-lab/internal/infrastructure/cache"
	"sentinel-lab/pkg/logger"
)

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	cache    *cache.RedisCache
	logger   *logger.Logger
}

// NewRouter creates a new Router instance
func NewRouter(cfg config.Config, h *handlers.Handlers, c *cache.RedisCache, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		cache:    c,
		logger:   log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Core middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.Logger(r.logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.CORS.AllowedOrigins,
		AllowedMethods:   r.config.CORS.AllowedMethods,
		AllowedHeaders:   r.config.CORS.AllowedHeaders,
		AllowCredentials: r.config.CORS.AllowCredentials,
		MaxAge:           r.config.CORS.MaxAge,
	}))

	// Public routes
	router.Group(func(pub chi.Router) {
		pub.Get("/health", r.handlers.Health.Check)
		pub.Get("/ready", r.handlers.Health.Ready)
		pub.Get("/stats", r.handlers.Stats.Get)
	})

	// API v1 routes (authenticated, rate limited per key)
	router.Route("/api/v1", func(api chi.Router) {
		api.Use(apimiddleware.APIKeyAuth(r.config.API.Key))
		if r.config.RateLimit.Enabled && r.cache != nil {
			api.Use(apimiddleware.RateLimiter(r.cache, r.config.RateLimit))
		}

		// IP enrichment
		api.Route("/enrichment", func(enrichment chi.Router) {
			enrichment.Get("/stats", r.handlers.Enrichment.GetStats)
			enrichment.Get("/{ip}", r.handlers.Enrichment.Get)
		})

		// Threat events
		api.Route("/events", func(events chi.Router) {
			events.Get("/", r.handlers.Events.List)
			events.Post("/ingest", r.handlers.Events.Ingest)
		})

		// Physical evidence
		api.Post("/evidence", r.handlers.Evidence.Ingest)

		// Correlations
		api.Route("/correlations", func(correlations chi.Router) {
			correlations.Get("/", r.handlers.Correlations.List)
			correlations.Post("/run", r.handlers.Correlations.Run)
			correlations.Get("/report", r.handlers.Correlations.Report)
			correlations.Get("/stats", r.handlers.Correlations.GetStats)
		})

		// Live event stream (WebSocket)
		api.Get("/stream", r.handlers.Streaming.HandleWebSocket)
		api.Get("/streaming/stats", r.handlers.Streaming.GetStats)
	})

	return router
}
