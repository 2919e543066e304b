package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/audit"
	"github.com/aman-churiwal/inventory-gateway/internal/config"
	"github.com/aman-churiwal/inventory-gateway/internal/dispatch"
	"github.com/aman-churiwal/inventory-gateway/internal/handler"
	"github.com/aman-churiwal/inventory-gateway/internal/metrics"
	"github.com/aman-churiwal/inventory-gateway/internal/middleware"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/aman-churiwal/inventory-gateway/internal/proxy"
	"github.com/aman-churiwal/inventory-gateway/internal/ratelimit"
	"github.com/aman-churiwal/inventory-gateway/internal/repository"
	"github.com/aman-churiwal/inventory-gateway/internal/security"
	"github.com/aman-churiwal/inventory-gateway/internal/service"
	"github.com/aman-churiwal/inventory-gateway/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/netutil"
)

const upstreamPrefix = "/api/v1/"

type Server struct {
	router     *gin.Engine
	config     *config.Config
	redis      *storage.RedisClient
	postgres   *storage.Postgres
	httpServer *http.Server

	dispatcher    *dispatch.Dispatcher
	requestLogger *audit.RequestLogger
	counters      ratelimit.CounterStore
	limits        *ratelimit.Router
	proxy         *proxy.Proxy

	apiKeyRepo    *repository.APIKeyRepository
	apiKeyService *service.APIKeyService
	authService   *service.AuthService
	recorder      *security.Recorder
	blocklist     *security.Blocklist
	sweeper       *security.Sweeper
	janitor       *audit.Janitor

	apiKeyHandler    *handler.APIKeyHandler
	authHandler      *handler.AuthHandler
	securityHandler  *handler.SecurityHandler
	analyticsHandler *handler.AnalyticsHandler

	background sync.WaitGroup
}

// Wires the admission pipeline. redis may be nil, in which case key lookups
// are not cached and the memory rate limit backend must be used.
func New(cfg *config.Config, postgres *storage.Postgres, redis *storage.RedisClient) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	counters, err := ratelimit.NewCounterStore(cfg.RateLimit.Backend, redis, cfg.RateLimit.CleanupInterval)
	if err != nil {
		return nil, err
	}

	upstream, err := proxy.New(cfg.Upstream.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream proxy: %w", err)
	}

	// Repositories
	apiKeyRepo := repository.NewAPIKeyRepository(postgres)
	userRepo := repository.NewUserRepository(postgres)
	attemptRepo := repository.NewLoginAttemptRepository(postgres)
	eventRepo := repository.NewSecurityEventRepository(postgres)
	logRepo := repository.NewRequestLogRepository(postgres)

	dispatcher := dispatch.New(dispatch.Config{
		Workers:   cfg.Audit.Workers,
		QueueSize: cfg.Audit.QueueSize,
	})
	requestLogger := audit.NewRequestLogger(logRepo, audit.Config{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
	})

	var cache service.KeyCache
	if redis != nil {
		cache = service.NewRedisKeyCache(redis)
	}

	// Security
	recorder := security.NewRecorder(eventRepo, dispatcher)
	detector := security.NewDetector(attemptRepo, recorder, security.ThresholdsFromConfig(cfg.Security))
	blocklist := security.NewBlocklist(attemptRepo, recorder)

	apiKeyService := service.NewAPIKeyService(apiKeyRepo, cache, dispatcher)
	authService, err := service.NewAuthService(userRepo, security.NewTracker(attemptRepo, detector), cfg.Auth.JWTSecret, cfg.Auth.JWTExpiryHours)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:        router,
		config:        cfg,
		redis:         redis,
		postgres:      postgres,
		dispatcher:    dispatcher,
		requestLogger: requestLogger,
		counters:      counters,
		limits:        ratelimit.NewRouter(cfg.RateLimit.Tiers, cfg.RateLimit.Routes, cfg.RateLimit.DefaultTier),
		proxy:         upstream,
		apiKeyRepo:    apiKeyRepo,
		apiKeyService: apiKeyService,
		authService:   authService,
		recorder:      recorder,
		blocklist:     blocklist,
		sweeper:       security.NewSweeper(attemptRepo, recorder, detector, cfg.Security),
		janitor:       audit.NewJanitor(attemptRepo, eventRepo, logRepo, cfg.Retention),

		apiKeyHandler:    handler.NewAPIKeyHandler(apiKeyService),
		authHandler:      handler.NewAuthHandler(authService),
		securityHandler:  handler.NewSecurityHandler(security.NewService(eventRepo, attemptRepo, blocklist)),
		analyticsHandler: handler.NewAnalyticsHandler(service.NewAnalyticsService(logRepo)),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Audit wraps recovery so a panicking request is still recorded as a 500
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.AuditLog(s.requestLogger))
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.Metrics())
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.BlockGate(s.blocklist))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	rateLimit := middleware.RateLimit(s.counters, s.limits, s.recorder)
	authenticate := func(required ...models.Scope) gin.HandlerFunc {
		return middleware.Authenticate(s.apiKeyService, s.authService, required...)
	}

	auth := s.router.Group("/api/v1/auth")
	{
		auth.POST("/login", rateLimit, s.authHandler.Login)
		auth.POST("/register", authenticate(models.ScopeAdmin), rateLimit, s.authHandler.Register)
		auth.GET("/me", authenticate(), rateLimit, s.authHandler.Me)
	}

	admin := s.router.Group("/admin", authenticate(models.ScopeAdmin), rateLimit)
	{
		admin.GET("/status", s.adminStatus)

		admin.POST("/keys", s.apiKeyHandler.Create)
		admin.GET("/keys", s.apiKeyHandler.List)
		admin.GET("/keys/:id", s.apiKeyHandler.Get)
		admin.PATCH("/keys/:id", s.apiKeyHandler.Update)
		admin.POST("/keys/:id/toggle", s.apiKeyHandler.Toggle)
		admin.POST("/keys/:id/rotate", s.apiKeyHandler.Rotate)
		admin.DELETE("/keys/:id", s.apiKeyHandler.Delete)

		admin.GET("/security/events", s.securityHandler.Events)
		admin.POST("/security/events/:id/resolve", s.securityHandler.Resolve)
		admin.GET("/security/attempts", s.securityHandler.Attempts)
		admin.GET("/security/blocked", s.securityHandler.Blocked)
		admin.POST("/security/block", s.securityHandler.Block)
		admin.POST("/security/unblock", s.securityHandler.Unblock)
	}

	reporting := s.router.Group("/admin", authenticate(models.ScopeAdmin, models.ScopeAnalytics), rateLimit)
	{
		reporting.GET("/analytics", s.analyticsHandler.GetSummary)
		reporting.GET("/analytics/timeseries", s.analyticsHandler.GetTimeSeries)
		reporting.GET("/analytics/keys/:id", s.analyticsHandler.GetAPIKeyStats)
		reporting.GET("/logs", s.analyticsHandler.GetLogs)
	}

	// gin cannot mount a catch-all beside /api/v1/auth, so everything else
	// under /api/v1 reaches the upstream through NoRoute
	s.router.NoRoute(
		upstreamOnly,
		authenticate(),
		rateLimit,
		middleware.RequireMethodScopes(s.isSensitive),
		s.proxy.Handle,
	)
}

func upstreamOnly(c *gin.Context) {
	if !strings.HasPrefix(c.Request.URL.Path, upstreamPrefix) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	c.Next()
}

func (s *Server) isSensitive(path string) bool {
	return s.limits.ResolvePath(path).Name == "sensitive"
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	dbHealthy := true
	if err := s.postgres.Ping(ctx); err != nil {
		dbHealthy = false
		log.Warn().Err(err).Msg("Database health check failed")
	}

	checks := gin.H{"database": dbHealthy}
	healthy := dbHealthy

	if s.redis != nil {
		redisHealthy := true
		if err := s.redis.Ping(ctx); err != nil {
			redisHealthy = false
			log.Warn().Err(err).Msg("Redis health check failed")
		}
		checks["redis"] = redisHealthy
		healthy = healthy && redisHealthy
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "inventory-gateway",
		"uptime":    time.Since(startTime).Seconds(),
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}

func (s *Server) adminStatus(c *gin.Context) {
	ctx := c.Request.Context()

	activeKeys, err := s.apiKeyRepo.CountActive(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count active API keys")
	}
	blocked, err := s.blocklist.Blocked(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list blocked origins")
	}

	c.JSON(http.StatusOK, gin.H{
		"gateway":         "running",
		"upstream":        s.config.Upstream.Target,
		"rate_limit":      s.config.RateLimit.Backend,
		"active_api_keys": activeKeys,
		"blocked_origins": len(blocked),
		"uptime":          time.Since(startTime).Seconds(),
		"timestamp":       time.Now().Unix(),
	})
}

// Starts the background workers: side effect dispatch, audit batching, the
// auto-block sweeper and retention. They stop when ctx is cancelled.
func (s *Server) StartBackground(ctx context.Context) {
	s.dispatcher.Start()
	s.requestLogger.Start()

	s.background.Add(2)
	go func() {
		defer s.background.Done()
		s.sweeper.Run(ctx)
	}()
	go func() {
		defer s.background.Done()
		s.janitor.Run(ctx)
	}()
}

// Serves until Shutdown. Concurrent connections are capped at
// server.max_connections.
func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.config.Server.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.config.Server.MaxConnections)
	}

	log.Info().
		Str("addr", addr).
		Str("environment", s.config.Server.Environment).
		Str("upstream", s.config.Upstream.Target).
		Msg("Starting inventory gateway")

	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stops accepting requests, then drains queued side effects and audit logs.
// Background loops must already have been cancelled through their context.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down server...")

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	s.background.Wait()

	if err := s.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher: %w", err))
	}
	if err := s.requestLogger.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("request logger: %w", err))
	}
	if stopper, ok := s.counters.(interface{ Stop() }); ok {
		stopper.Stop()
	}

	return errors.Join(errs...)
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

var startTime = time.Now()
