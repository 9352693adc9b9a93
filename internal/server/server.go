// Package server wires the HTTP API for Callwarden: session lifecycle,
// transcript ingestion, one-shot classification, and real-time streaming.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/mbd888/callwarden/internal/classifier"
	"github.com/mbd888/callwarden/internal/config"
	"github.com/mbd888/callwarden/internal/fraud"
	"github.com/mbd888/callwarden/internal/health"
	"github.com/mbd888/callwarden/internal/logging"
	"github.com/mbd888/callwarden/internal/metrics"
	"github.com/mbd888/callwarden/internal/monitor"
	"github.com/mbd888/callwarden/internal/ratelimit"
	"github.com/mbd888/callwarden/internal/realtime"
	"github.com/mbd888/callwarden/internal/security"
	"github.com/mbd888/callwarden/internal/traces"
	"github.com/mbd888/callwarden/internal/validation"
)

// Server is the Callwarden HTTP server
type Server struct {
	cfg    *config.Config
	router *gin.Engine
	logger *slog.Logger

	db       *sql.DB
	scorer   *fraud.Scorer
	monitor  *monitor.Monitor
	hub      *realtime.Hub
	pgAudit  *monitor.PostgresAuditStore
	memAudit *monitor.MemoryAuditStore
	checks   *health.Registry

	rateLimiter *ratelimit.Limiter
	httpSrv     *http.Server

	cancelRunCtx   context.CancelFunc
	shutdownTraces func(context.Context) error

	ready   atomic.Bool
	healthy atomic.Bool

	// test injection
	injectedClassifier fraud.Classifier
}

// Option configures optional server dependencies
type Option func(*Server)

// WithClassifier injects an external classifier, bypassing the HTTP client
// that CLASSIFIER_URL would configure. Used in tests.
func WithClassifier(c fraud.Classifier) Option {
	return func(s *Server) {
		s.injectedClassifier = c
	}
}

// WithLogger replaces the logger built from config
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server with all dependencies wired
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	logFormat := "text"
	if cfg.IsProduction() {
		logFormat = "json"
	}

	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, logFormat),
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Audit persistence: PostgreSQL when configured, in-memory otherwise
	var audit monitor.AuditStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("pinging database: %w", err)
		}

		s.db = db
		s.pgAudit = monitor.NewPostgresAuditStore(db)
		audit = s.pgAudit
		s.checks.Register("database", health.DBChecker("database", db))
		s.logger.Info("audit persistence enabled", "dsn", maskDSN(cfg.DatabaseURL))
	} else {
		s.memAudit = monitor.NewMemoryAuditStore()
		audit = s.memAudit
		s.logger.Info("running without database, audit trail is in-memory only")
	}

	// External classifier: optional, scoring degrades gracefully without it
	cls := s.injectedClassifier
	if cls == nil && cfg.ClassifierURL != "" {
		cls = classifier.New(cfg.ClassifierURL, classifier.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.ClassifierTimeout) * time.Second,
		}))
		s.checks.Register("classifier", classifierChecker(cfg.ClassifierURL))
		s.logger.Info("external classifier enabled", "url", cfg.ClassifierURL)
	}

	scorerOpts := []fraud.ScorerOption{fraud.WithLogger(s.logger)}
	if cls != nil {
		scorerOpts = append(scorerOpts, fraud.WithClassifier(cls))
	}
	s.scorer = fraud.NewScorer(fraud.NewDefaultMatcher(), scorerOpts...)

	// Realtime hub for WebSocket streaming; it doubles as the monitor's
	// event sink so every alert reaches connected clients
	s.hub = realtime.NewHub(s.logger)

	monCfg := monitor.DefaultConfig()
	monCfg.AlertThreshold = cfg.AlertThreshold
	monCfg.EscalationDelta = cfg.EscalationDelta
	monCfg.MinContextLen = cfg.MinContextLen

	s.monitor = monitor.New(s.scorer, monitor.NewMemoryStore(),
		monitor.WithConfig(monCfg),
		monitor.WithSink(s.hub),
		monitor.WithAuditStore(audit),
		monitor.WithLogger(s.logger),
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// classifierChecker reports whether the classifier endpoint is reachable
func classifierChecker(rawURL string) health.Checker {
	client := &http.Client{Timeout: 2 * time.Second}
	return func(ctx context.Context) health.Status {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return health.Status{Name: "classifier", Healthy: false, Detail: err.Error()}
		}
		resp, err := client.Do(req)
		if err != nil {
			return health.Status{Name: "classifier", Healthy: false, Detail: err.Error()}
		}
		resp.Body.Close()
		return health.Status{Name: "classifier", Healthy: true}
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting, keyed by session when a :id param is present
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
		rlCfg.BurstSize = s.cfg.RateLimitRPS
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time alert streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/api/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.SessionIDParamMiddleware())

	// One-shot transcript classification
	v1.POST("/classify", s.classifyHandler)

	// Live session lifecycle
	v1.POST("/sessions", s.startSessionHandler)
	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.POST("/sessions/:id/segments", s.ingestSegmentHandler)
	v1.DELETE("/sessions/:id", s.endSessionHandler)

	// Audit trail
	v1.GET("/alerts/recent", s.recentAlertsHandler)

	// Streaming diagnostics
	v1.GET("/realtime/stats", s.realtimeStatsHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Callwarden",
		"description": "Real-time fraud detection for voice calls",
		"version":     "0.1.0",
	})
}

// classifyHandler handles POST /api/v1/classify
func (s *Server) classifyHandler(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}
	if verrs := validation.Validate(
		validation.Required("text", req.Text),
		validation.MaxLength("text", req.Text, validation.MaxTranscriptLength),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": verrs.Error(),
			"details": verrs,
		})
		return
	}

	text := validation.SanitizeText(req.Text, validation.MaxTranscriptLength)
	result := s.scorer.Score(c.Request.Context(), text)

	c.JSON(http.StatusOK, result)
}

// startSessionHandler handles POST /api/v1/sessions
func (s *Server) startSessionHandler(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	// Body is optional; an empty body means a server-generated ID
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}

	if req.SessionID != "" && !validation.IsValidSessionID(req.SessionID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_session_id",
			"message": "session id must be 1-128 characters of [A-Za-z0-9_.:-]",
		})
		return
	}

	id, err := s.monitor.Start(c.Request.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, monitor.ErrSessionExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "session_exists",
				"message": "A session with this id is already being monitored",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to start session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to start monitoring session",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"sessionId": id,
		"status":    "monitoring",
	})
}

// listSessionsHandler handles GET /api/v1/sessions
func (s *Server) listSessionsHandler(c *gin.Context) {
	sessions := s.monitor.Sessions(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// getSessionHandler handles GET /api/v1/sessions/:id
func (s *Server) getSessionHandler(c *gin.Context) {
	session, err := s.monitor.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "session_not_found",
			"message": "No active monitoring session with this id",
		})
		return
	}
	c.JSON(http.StatusOK, session)
}

// ingestSegmentHandler handles POST /api/v1/sessions/:id/segments
func (s *Server) ingestSegmentHandler(c *gin.Context) {
	var req struct {
		Text       string    `json:"text"`
		Confidence float64   `json:"confidence"`
		Timestamp  time.Time `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}
	if verrs := validation.Validate(
		validation.Required("text", req.Text),
		validation.MaxLength("text", req.Text, validation.MaxTranscriptLength),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": verrs.Error(),
			"details": verrs,
		})
		return
	}

	seg := monitor.Segment{
		Text:       validation.SanitizeText(req.Text, validation.MaxTranscriptLength),
		Confidence: req.Confidence,
		Timestamp:  req.Timestamp,
	}
	if seg.Timestamp.IsZero() {
		seg.Timestamp = time.Now()
	}

	if err := s.monitor.Ingest(c.Request.Context(), c.Param("id"), seg); err != nil {
		if errors.Is(err, monitor.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "session_not_found",
				"message": "No active monitoring session with this id",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to ingest segment", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to process transcript segment",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// endSessionHandler handles DELETE /api/v1/sessions/:id
// Ending a session produces its final report.
func (s *Server) endSessionHandler(c *gin.Context) {
	report, err := s.monitor.End(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, monitor.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "session_not_found",
				"message": "No active monitoring session with this id",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to end session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to end monitoring session",
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// recentAlertsHandler handles GET /api/v1/alerts/recent
func (s *Server) recentAlertsHandler(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	if s.pgAudit != nil {
		alerts, err := s.pgAudit.RecentAlerts(c.Request.Context(), limit)
		if err != nil {
			logging.L(c.Request.Context()).Error("failed to query alerts", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to query recent alerts",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts), "persistent": true})
		return
	}

	// In-memory fallback: newest last in storage order, so serve the tail
	alerts := s.memAudit.Alerts()
	if len(alerts) > limit {
		alerts = alerts[len(alerts)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts), "persistent": false})
}

// realtimeStatsHandler handles GET /api/v1/realtime/stats
func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing is wired here rather than New() so tests never dial a collector
	if s.cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("failed to initialize tracing", "error", err)
		} else {
			s.shutdownTraces = shutdown
		}
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Export database pool stats while the pool exists
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 30*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush pending spans
	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
