// Package server exposes scrubbing and the analysis cache over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/raaihank/scrubcache/internal/audit"
	"github.com/raaihank/scrubcache/internal/cache"
	"github.com/raaihank/scrubcache/internal/config"
	"github.com/raaihank/scrubcache/internal/logger"
	"github.com/raaihank/scrubcache/internal/metrics"
	"github.com/raaihank/scrubcache/internal/pipeline"
	"github.com/raaihank/scrubcache/internal/privacy"
	"github.com/raaihank/scrubcache/internal/websocket"
)

// Version is reported by /info.
var Version = "0.1.0"

// statusInterval is how often a system_status event goes to the live stream.
const statusInterval = 30 * time.Second

// limiterSweepInterval is how often idle per-client buckets are dropped.
const limiterSweepInterval = 30 * time.Minute

// AuditReader serves stored audit events, newest first.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}

// Dependencies are the components a Server fronts. Hub, Gatherer and
// AuditLog are optional.
type Dependencies struct {
	Scrubber *privacy.Scrubber
	Cache    *cache.Engine[json.RawMessage]
	Emitter  *audit.Emitter
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Hub      *websocket.Hub
	AuditLog AuditReader
}

// Server represents the admin HTTP server
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	scrubber *privacy.Scrubber
	cache    *cache.Engine[json.RawMessage]
	guard    *pipeline.Guard[json.RawMessage]
	emitter  *audit.Emitter
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	wsHub    *websocket.Hub
	auditLog AuditReader
	limiter  *clientLimiter
	router   *mux.Router
	server   *http.Server
	started  time.Time
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, deps Dependencies) (*Server, error) {
	if deps.Scrubber == nil || deps.Cache == nil {
		return nil, errors.New("server requires a scrubber and a cache")
	}

	var observer pipeline.ScrubObserver
	if deps.Metrics != nil {
		observer = deps.Metrics
	}

	s := &Server{
		config:   cfg,
		logger:   log.WithComponent("server"),
		scrubber: deps.Scrubber,
		cache:    deps.Cache,
		emitter:  deps.Emitter,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		wsHub:    deps.Hub,
		auditLog: deps.AuditLog,
		router:   mux.NewRouter(),
		started:  time.Now(),
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		s.limiter = newClientLimiter(rl.RequestsPerMinute, rl.Burst)
	}
	s.guard = pipeline.NewGuard(pipeline.Options[json.RawMessage]{
		Scrubber: deps.Scrubber,
		Cache:    deps.Cache,
		Emitter:  deps.Emitter,
		Observer: observer,
		Logger:   log.WithComponent("pipeline").Logger,
	})

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	if s.wsHub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	if s.limiter != nil {
		api.Use(s.rateLimitMiddleware)
	}
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/scrub", s.handleScrub).Methods(http.MethodPost)
	if s.config.Privacy.Masking {
		api.HandleFunc("/mask", s.handleMask).Methods(http.MethodPost)
	}
	api.HandleFunc("/analyses", s.handleAnalysis).Methods(http.MethodPost)
	api.HandleFunc("/cache/cleanup", s.handleCleanup).Methods(http.MethodPost)
	api.HandleFunc("/cache", s.handleClear).Methods(http.MethodDelete)
	if s.auditLog != nil {
		api.HandleFunc("/audit/recent", s.handleRecentAudit).Methods(http.MethodGet)
	}
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until Stop is called. The hub, cache janitor and status
// broadcaster run until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting scrubcache server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("masking", s.config.Privacy.Masking),
		zap.Strings("audit_sinks", s.emitter.Sinks()),
	)

	if s.wsHub != nil {
		go s.wsHub.Run(ctx)
		go s.broadcastStatus(ctx, statusInterval)
	}
	go cache.RunJanitor(ctx, s.cache, s.config.Cache.CleanupInterval, s.logger.WithComponent("janitor").Logger)
	if s.limiter != nil {
		go cache.RunJanitor(ctx, s.limiter, limiterSweepInterval, s.logger.WithComponent("ratelimit").Logger)
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping scrubcache server")
	return s.server.Shutdown(ctx)
}

func (s *Server) broadcastStatus(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.wsHub.BroadcastEvent(s.statusEvent())
		}
	}
}

func (s *Server) statusEvent() websocket.Event {
	stats := s.cache.Stats()
	return websocket.Event{
		Type:      websocket.EventTypeSystemStatus,
		Timestamp: time.Now(),
		Data: websocket.SystemStatusEvent{
			Status:           "healthy",
			Uptime:           time.Since(s.started).Round(time.Second).String(),
			CacheEntries:     stats.Entries,
			CacheHitRate:     stats.HitRate,
			ConnectedClients: int(s.wsHub.GetStats().ActiveConnections),
		},
	}
}
