// Package server wires the evaluation engine behind an HTTP API.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/ethersentinel/sentinel/internal/cache"
	"github.com/ethersentinel/sentinel/internal/config"
	"github.com/ethersentinel/sentinel/internal/dispatch"
	"github.com/ethersentinel/sentinel/internal/health"
	"github.com/ethersentinel/sentinel/internal/idgen"
	"github.com/ethersentinel/sentinel/internal/inference"
	"github.com/ethersentinel/sentinel/internal/logging"
	"github.com/ethersentinel/sentinel/internal/metrics"
	"github.com/ethersentinel/sentinel/internal/monitor"
	"github.com/ethersentinel/sentinel/internal/ratelimit"
	"github.com/ethersentinel/sentinel/internal/realtime"
	"github.com/ethersentinel/sentinel/internal/relations"
	"github.com/ethersentinel/sentinel/internal/risk"
	"github.com/ethersentinel/sentinel/internal/rules"
	"github.com/ethersentinel/sentinel/internal/security"
	"github.com/ethersentinel/sentinel/internal/validation"
)

// Server hosts the REST API, the websocket hub, and the monitor loops.
type Server struct {
	cfg *config.Config
	log *slog.Logger

	db         *sql.DB
	store      risk.Store
	cache      *cache.VerdictCache
	history    rules.HistoryProvider
	model      inference.Client
	dispatcher *dispatch.Dispatcher
	analyzer   *relations.Analyzer
	mon        *monitor.Monitor
	hub        *realtime.Hub
	checks     *health.Registry
	limiter    *ratelimit.Limiter

	router  *gin.Engine
	httpSrv *http.Server

	ready        atomic.Bool
	healthy      atomic.Bool
	cancelRunCtx context.CancelFunc
}

// Option customizes server construction, mainly for tests.
type Option func(*Server)

// WithStore overrides the verdict store.
func WithStore(store risk.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithModelClient overrides the inference backend.
func WithModelClient(client inference.Client) Option {
	return func(s *Server) { s.model = client }
}

// WithHistory overrides the transfer history provider used by the rule
// engine and the relation analyzer.
func WithHistory(history rules.HistoryProvider) Option {
	return func(s *Server) { s.history = history }
}

// New builds a fully wired server from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg: cfg,
		log: logging.Component(logger, "server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.history == nil {
		s.history = rules.NewMemoryHistory()
	}

	if s.store == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("open database: %w", err)
			}
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("ping database: %w", err)
			}
			s.db = db
			s.store = risk.NewPostgresStore(db)
			s.log.Info("using postgres verdict store", "dsn", maskDSN(cfg.DatabaseURL))
		} else {
			s.store = risk.NewMemoryStore()
			s.log.Info("using in-memory verdict store")
		}
	}

	if s.model == nil && cfg.UseModel {
		s.model = inference.NewHTTPClient(cfg.ModelServerURL, cfg.ModelTimeout)
	}

	s.cache = cache.New(cfg.VerdictCacheSize)

	ruleClient := rules.NewClient(s.history)
	var modelBackend dispatch.Backend
	if s.model != nil {
		modelBackend = s.model
	}
	s.dispatcher = dispatch.New(
		modelBackend,
		ruleClient,
		s.store,
		s.cache,
		logger,
		dispatch.WithBatchConcurrency(cfg.BatchConcurrency),
		dispatch.WithPerTargetTimeout(cfg.PerTargetTimeout),
	)

	var relModel relations.ModelClient
	if cfg.UseModel {
		relModel = relations.NewHTTPModelClient(cfg.ModelServerURL, cfg.ModelTimeout)
	}
	s.analyzer = relations.NewAnalyzer(relModel, s.history, logger)

	s.hub = realtime.NewHub(logger)
	s.mon = monitor.New(s.dispatcher, s.baseOptions(), logger)
	s.limiter = ratelimit.New(ratelimit.DefaultConfig())

	s.checks = health.NewRegistry()
	if s.model != nil {
		s.checks.Register("model", health.ModelChecker(func(ctx context.Context) (bool, string) {
			status, err := s.model.Health(ctx)
			if err != nil {
				return false, err.Error()
			}
			if !status.Healthy() {
				return false, fmt.Sprintf("status=%s model_loaded=%t", status.Status, status.ModelLoaded)
			}
			return true, fmt.Sprintf("device=%s", status.Device)
		}))
	}
	if s.db != nil {
		s.checks.Register("database", health.DatabaseChecker(s.db))
	}
	s.checks.Register("monitor", health.MonitorChecker(func() int {
		return len(s.mon.List())
	}))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// baseOptions derives the default evaluation options from configuration.
func (s *Server) baseOptions() risk.EvaluationOptions {
	opts := risk.DefaultOptions()
	opts.UseModel = s.cfg.UseModel
	opts.GraphDepth = s.cfg.GraphDepth
	opts.TimeWindowDays = s.cfg.TimeWindowDays
	opts.ConfidenceThreshold = s.cfg.ConfidenceThreshold
	return opts
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		s.log.Error("panic recovered", "error", fmt.Sprintf("%v", recovered), "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(s.limiter.Middleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
		}
		c.Header("X-Request-ID", requestID)

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.log.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log := logging.L(c.Request.Context())
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error("request", attrs...)
		case c.Writer.Status() >= 400:
			log.Warn("request", attrs...)
		default:
			log.Info("request", attrs...)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/evaluate", s.evaluateHandler)
		v1.POST("/evaluate/batch", s.evaluateBatchHandler)
		v1.POST("/relations", s.relationsHandler)

		v1.GET("/verdicts/recent", s.recentVerdictsHandler)
		v1.GET("/verdicts/history", s.verdictHistoryHandler)
		v1.GET("/verdicts/stats", s.verdictStatsHandler)

		subs := v1.Group("/monitor/subscriptions")
		{
			subs.POST("", s.subscribeHandler)
			subs.GET("", s.listSubscriptionsHandler)

			withID := subs.Group("/:id", validation.SubscriptionParamMiddleware())
			withID.GET("", s.getSubscriptionHandler)
			withID.DELETE("", s.unsubscribeHandler)
			withID.POST("/pause", s.pauseSubscriptionHandler)
			withID.POST("/resume", s.resumeSubscriptionHandler)
		}
	}
}

// HealthResponse is the aggregate health payload.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

const version = "1.0.0"

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)
	resp := HealthResponse{
		Status:    "healthy",
		Version:   version,
		Checks:    statuses,
		Timestamp: time.Now().UTC(),
	}
	code := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelRunCtx = cancel

	go s.hub.Run(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Mark ready once the listener has had a moment to bind.
	time.AfterFunc(100*time.Millisecond, func() { s.ready.Store(true) })

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.log.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.log.Info("run context cancelled")
	}

	return s.Shutdown()
}

// Shutdown drains connections, stops the monitor loops, and closes the
// database.
func (s *Server) Shutdown() error {
	s.ready.Store(false)

	// Give load balancers time to observe the readiness flip.
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	s.mon.Shutdown()
	s.limiter.Stop()
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	var err error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err = s.httpSrv.Shutdown(ctx)
	}

	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	s.healthy.Store(false)
	s.log.Info("server stopped")
	return err
}

var dsnPasswordRegex = regexp.MustCompile(`(://[^:/@]+):[^@]+@`)

// maskDSN hides the password portion of a connection string for logging.
func maskDSN(dsn string) string {
	return dsnPasswordRegex.ReplaceAllString(dsn, "$1:****@")
}
