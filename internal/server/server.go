// Package server provides the HTTP API for the citation graph service:
// seeding crawls, inspecting papers and their relations, and reading queue
// and recovery statistics.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/citegraph-service/internal/config"
	"github.com/helixir/citegraph-service/internal/database"
	"github.com/helixir/citegraph-service/internal/dispatch"
	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/observability"
	"github.com/helixir/citegraph-service/internal/ratelimit"
	"github.com/helixir/citegraph-service/internal/recovery"
	"github.com/helixir/citegraph-service/internal/repository"
)

// CrawlQueue is the slice of the queue service the API uses. Satisfied by
// queue.Service.
type CrawlQueue interface {
	Enqueue(ctx context.Context, paperID string, taskType domain.TaskType, priority int, params domain.TaskParameters) (*domain.QueueEntry, bool, error)
	Stats(ctx context.Context) ([]repository.QueueStat, error)
}

// RecoveryStats reports recovery action statistics. Satisfied by
// recovery.Manager.
type RecoveryStats interface {
	Stats() []recovery.ActionStats
}

// Admitter decides request admission. Satisfied by ratelimit.Limiter.
type Admitter interface {
	Admit(ctx context.Context, key, path string) ratelimit.Decision
	Window() time.Duration
}

// HealthChecker reports persistence health. Satisfied by database.DB.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server

	papers    repository.PaperRepository
	relations repository.RelationRepository
	queue     CrawlQueue
	publisher dispatch.Publisher
	recovery  RecoveryStats
	limiter   Admitter
	health    HealthChecker

	// defaultMaxHops is the expansion depth used when a seed request
	// omits max_hops.
	defaultMaxHops int

	logger zerolog.Logger
}

// NewServer creates the HTTP server. The recovery stats source, limiter,
// and health checker are optional; nil disables the corresponding endpoint
// behavior.
func NewServer(
	cfg config.ServerConfig,
	crawlerCfg config.CrawlerConfig,
	papers repository.PaperRepository,
	relations repository.RelationRepository,
	queue CrawlQueue,
	publisher dispatch.Publisher,
	recoveryStats RecoveryStats,
	limiter Admitter,
	health HealthChecker,
	logger zerolog.Logger,
) *Server {
	defaultMaxHops := crawlerCfg.DefaultMaxHops
	if defaultMaxHops <= 0 {
		defaultMaxHops = 2
	}

	s := &Server{
		papers:         papers,
		relations:      relations,
		queue:          queue,
		publisher:      publisher,
		recovery:       recoveryStats,
		limiter:        limiter,
		health:         health,
		defaultMaxHops: defaultMaxHops,
		logger:         observability.WithComponent(logger, "http-server"),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Router exposes the handler tree for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// buildRouter assembles middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)

		r.Post("/papers/{paperID}/crawl", s.handleSeedCrawl)
		r.Get("/papers/{paperID}", s.handleGetPaper)
		r.Get("/papers/{paperID}/relations", s.handleGetRelations)
		r.Get("/queue/stats", s.handleQueueStats)
		r.Get("/recovery/stats", s.handleRecoveryStats)
	})

	return r
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth implements GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	health := s.health.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}
