package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warmline/warmline/api/handlers"
	"github.com/warmline/warmline/call"
	"github.com/warmline/warmline/config"
	"github.com/warmline/warmline/internal/metrics"
	"github.com/warmline/warmline/internal/server"
	"github.com/warmline/warmline/internal/telemetry"
	"github.com/warmline/warmline/media"
	"github.com/warmline/warmline/notify"
	"github.com/warmline/warmline/store"
	"github.com/warmline/warmline/summary"
	"github.com/warmline/warmline/transfer"
)

// summaryCacheTTL bounds how long a transcript's summary stays reusable.
const summaryCacheTTL = time.Hour

// Server assembles and runs the warmline service.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	otelProviders *telemetry.Providers
	audit         *store.Audit
	redisClient   *redis.Client

	hub         *notify.Hub
	coordinator *transfer.Coordinator

	httpManager    *server.Manager
	metricsManager *server.Manager

	metricsCollector *metrics.Collector
	healthHandler    *handlers.HealthHandler

	rateLimiterCancel context.CancelFunc
}

// NewServer creates the server. Start wires everything up.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers, audit *store.Audit) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
		audit:         audit,
	}
}

// Start brings up the coordinator, the HTTP API, and the metrics endpoint.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("warmline", s.logger)

	s.initCoordinator()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// initCoordinator builds the summarization pipeline, the media provisioner,
// and the transfer coordinator.
func (s *Server) initCoordinator() {
	if s.cfg.Redis.Enabled {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		})
		s.logger.Info("Summary cache backed by redis", zap.String("addr", s.cfg.Redis.Addr))
	}

	if s.cfg.Summarizer.APIKey == "" {
		s.logger.Warn("Summarizer API key not configured, summary generation will fail over to cancellation")
	}
	client := summary.NewHTTPClient(s.cfg.Summarizer, s.logger)
	truncator := summary.NewTruncator(s.cfg.Summarizer.Model, s.cfg.Summarizer.MaxTranscriptTokens, s.logger)
	cache := summary.NewCache(s.redisClient, summaryCacheTTL, s.logger)
	requester := summary.NewRequester(client, truncator, cache, s.cfg.Summarizer.Timeout, s.logger)

	var provisioner media.Provisioner
	if prov, err := media.NewJWTProvisioner(s.cfg.Media, s.logger); err != nil {
		s.logger.Warn("Media provisioner not available, room grants disabled", zap.Error(err))
	} else {
		provisioner = prov
	}

	s.hub = notify.NewHub(s.cfg.Transfer.SubscriberBuffer, s.logger)
	s.coordinator = transfer.NewCoordinator(transfer.Options{
		Registry:           call.NewRegistry(s.logger),
		Hub:                s.hub,
		Audit:              s.audit,
		Provisioner:        provisioner,
		Summarize:          requester.Request,
		InviteTimeout:      s.cfg.Transfer.InviteTimeout,
		MaxSummaryAttempts: s.cfg.Summarizer.MaxRetries + 1,
		Observer:           newMetricsObserver(s.metricsCollector, s.hub),
		Logger:             s.logger,
	})
}

func (s *Server) startHTTPServer() error {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if s.audit != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("audit_db", s.audit.Ping))
	}
	if s.redisClient != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return s.redisClient.Ping(ctx).Err()
		}))
	}

	calls := handlers.NewCallHandler(s.coordinator, s.logger)
	transfers := handlers.NewTransferHandler(s.coordinator, s.logger)
	states := handlers.NewStateHandler(s.coordinator, s.logger)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /api/v1/calls", calls.HandleCreate)
	mux.HandleFunc("POST /api/v1/calls/{id}/join", calls.HandleJoin)
	mux.HandleFunc("GET /api/v1/calls/{id}", calls.HandleGet)
	mux.HandleFunc("DELETE /api/v1/calls/{id}", calls.HandleEnd)
	mux.HandleFunc("GET /api/v1/calls/{id}/state", states.HandleState)

	mux.HandleFunc("POST /api/v1/transfers", transfers.HandleInitiate)
	mux.HandleFunc("GET /api/v1/transfers/{id}", transfers.HandleGet)
	mux.HandleFunc("POST /api/v1/transfers/{id}/confirm", transfers.HandleConfirm)
	mux.HandleFunc("POST /api/v1/transfers/{id}/join", transfers.HandleJoin)
	mux.HandleFunc("POST /api/v1/transfers/{id}/complete", transfers.HandleComplete)
	mux.HandleFunc("POST /api/v1/transfers/{id}/cancel", transfers.HandleCancel)

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a termination signal, then shuts down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown drains the HTTP servers and closes external connections.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	var g errgroup.Group
	if s.httpManager != nil {
		g.Go(func() error { return s.httpManager.Shutdown(ctx) })
	}
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Shutdown(ctx) })
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("Server shutdown error", zap.Error(err))
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			s.logger.Error("Audit store close error", zap.Error(err))
		}
	}
	if err := s.otelProviders.Shutdown(ctx); err != nil {
		s.logger.Error("Telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}
