package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/milopalmaerts/Crypto/internal/config"
	"github.com/milopalmaerts/Crypto/internal/gateway"
	"github.com/milopalmaerts/Crypto/internal/handlers"
	"github.com/milopalmaerts/Crypto/internal/middleware"
	"github.com/milopalmaerts/Crypto/internal/services"
	"github.com/milopalmaerts/Crypto/internal/storage"
	"github.com/milopalmaerts/Crypto/internal/upstream"
	"github.com/milopalmaerts/Crypto/pkg/cache"
	"github.com/milopalmaerts/Crypto/pkg/logger"
	"github.com/milopalmaerts/Crypto/pkg/metrics"
	"github.com/milopalmaerts/Crypto/pkg/mutex"
	"github.com/milopalmaerts/Crypto/pkg/ratelimiter"
)

const (
	serviceName    = "crypto-tracker"
	serviceVersion = "1.0.0"
)

// Server represents the main application server
type Server struct {
	httpServer    *http.Server
	config        *config.Config
	store         storage.Store
	memoryCache   *cache.Cache
	redisCache    *cache.RedisStore
	gateway       *gateway.Gateway
	collector     *metrics.MetricsCollector
	healthService *services.HealthService
	rateLimiter   *ratelimiter.RateLimiter
	router        *handlers.Router
}

func main() {
	cfg := config.LoadConfig()

	loggerConfig := &logger.Config{
		Level:       cfg.Logging.Level,
		Environment: cfg.Logging.Environment,
		OutputPaths: cfg.Logging.OutputPaths,
		Service:     serviceName,
		Version:     serviceVersion,
	}

	if err := logger.Initialize(loggerConfig); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log := logger.GetLogger()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	log.Info("Starting CryptoTracker backend",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.Duration("cache_ttl", cfg.Cache.TTL),
		zap.Duration("gateway_base_delay", cfg.Gateway.BaseDelay),
		zap.Duration("gateway_cooldown", cfg.Gateway.Cooldown),
		zap.Int("rate_limit_rpm", cfg.RateLimit.RequestsPerMinute),
		zap.String("log_level", cfg.Logging.Level),
		zap.String("environment", cfg.Logging.Environment),
	)

	server, err := NewServer(context.Background(), cfg)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	if err := server.Start(); err != nil {
		log.Fatal("Server failed to start", zap.Error(err))
	}
}

// NewServer creates a new server instance with all dependencies
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log := logger.GetLogger()

	log.Info("Initializing server components")

	store, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	s := &Server{
		config:    cfg,
		store:     store,
		collector: metrics.NewMetricsCollector(),
	}

	// Shared Redis cache or a process-local one
	var (
		cacheStore  cache.Store
		cachePinger services.Pinger
	)
	switch cfg.Cache.Backend {
	case "redis":
		log.Debug("Connecting to Redis cache", zap.String("addr", cfg.Redis.Addr))
		redisStore, err := cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, cfg.Cache.TTL)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redisCache = redisStore
		cacheStore = redisStore
		cachePinger = redisStore
	default:
		s.memoryCache = cache.New(cfg.Cache.TTL, cfg.Cache.CleanupInterval)
		cacheStore = s.memoryCache
	}

	log.Debug("Initializing upstream gateway")
	s.gateway = gateway.New(gateway.Config{
		BaseDelay:        cfg.Gateway.BaseDelay,
		MaxDelay:         cfg.Gateway.MaxDelay,
		FailureThreshold: cfg.Gateway.FailureThreshold,
		CooldownDuration: cfg.Gateway.Cooldown,
	}, gateway.WithLogger(log), gateway.WithMetrics(s.collector))
	readThrough := gateway.NewReadThrough(s.gateway, cacheStore, mutex.New(), s.collector)

	client := upstream.NewClient(upstream.Config{
		BaseURL:    cfg.Upstream.BaseURL,
		APIKey:     cfg.Upstream.APIKey,
		Timeout:    cfg.Upstream.Timeout,
		MaxRetries: cfg.Upstream.MaxRetries,
		RetryWait:  cfg.Upstream.RetryWait,
	}, log)

	marketService := services.NewMarketService(client, readThrough, cfg.Market, s.collector)
	authService := services.NewAuthService(store, cfg.Auth)
	portfolioService := services.NewPortfolioService(store)
	newsService := services.NewNewsService()

	s.healthService = services.NewHealthService(store, cachePinger, s.gateway)
	healthHandler := handlers.NewHealthHandler(s.healthService, serviceVersion)

	s.rateLimiter = ratelimiter.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.WindowSize)
	s.router = handlers.NewRouter(marketService, authService, portfolioService, newsService, healthHandler)

	log.Info("Server components initialized successfully")

	return s, nil
}

// Handler builds the Gin engine with the full middleware stack and routes
func (s *Server) Handler() http.Handler {
	engine := gin.New()
	s.setupMiddleware(engine)
	s.setupRoutes(engine)
	return engine
}

// Start starts the HTTP server with graceful shutdown handling
func (s *Server) Start() error {
	log := logger.GetLogger()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port),
		Handler:           s.Handler(),
		ReadTimeout:       s.config.Server.ReadTimeout,
		WriteTimeout:      s.config.Server.WriteTimeout,
		IdleTimeout:       s.config.Server.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	log.Info("HTTP server configured",
		zap.String("address", s.httpServer.Addr),
		zap.Duration("read_timeout", s.config.Server.ReadTimeout),
		zap.Duration("write_timeout", s.config.Server.WriteTimeout),
		zap.Duration("idle_timeout", s.config.Server.IdleTimeout),
	)

	s.startCleanupRoutines()

	go func() {
		log.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	return s.waitForShutdown()
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware(engine *gin.Engine) {
	engine.Use(logger.RecoveryMiddleware())
	engine.Use(logger.LoggingMiddleware())

	engine.Use(middleware.PerformanceMiddleware(s.config.Server.SlowRequestWarning))
	engine.Use(middleware.RequestSizeMiddleware(s.config.Server.MaxRequestBytes))
	engine.Use(middleware.ConcurrencyMiddleware(s.config.Server.MaxConcurrent))
	engine.Use(middleware.MetricsMiddleware(s.collector))

	engine.Use(middleware.CORSMiddleware(s.config.CORS.AllowedOrigins))

	// Before auth so token guessing is throttled too
	engine.Use(s.rateLimiter.Middleware())
}

// setupRoutes configures all application routes
func (s *Server) setupRoutes(engine *gin.Engine) {
	s.router.SetupHealthRoutes(engine)
	s.router.SetupRoutes(engine)

	engine.GET("/metrics", s.metricsHandler)
	engine.GET("/status", s.statusHandler)
}

// metricsHandler exposes request, cache and upstream counters
func (s *Server) metricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":         serviceName,
		"version":         serviceVersion,
		"uptime":          s.collector.GetUptime().String(),
		"cache_hit_ratio": s.collector.GetCacheHitRatio(),
		"success_rate":    s.collector.GetSuccessRate(),
		"performance":     s.collector.GetMetrics(),
	})
}

// statusHandler reports the gateway state without touching the upstream
func (s *Server) statusHandler(c *gin.Context) {
	state := s.gateway.Snapshot()

	cacheStatus := gin.H{"backend": s.config.Cache.Backend}
	switch {
	case s.memoryCache != nil:
		cacheStatus["ttl"] = s.memoryCache.TTL().String()
		cacheStatus["entries"] = s.memoryCache.Size()
	case s.redisCache != nil:
		cacheStatus["ttl"] = s.redisCache.TTL().String()
	}

	c.JSON(http.StatusOK, gin.H{
		"service":        serviceName,
		"status":         "running",
		"storage":        s.store.Backend(),
		"cache":          cacheStatus,
		"throttled":      s.gateway.Throttled(),
		"gateway":        state,
		"gateway_config": s.gateway.Config(),
		"uptime":         s.collector.GetUptime().String(),
		"version":        serviceVersion,
	})
}

// startCleanupRoutines starts background cleanup tasks
func (s *Server) startCleanupRoutines() {
	s.rateLimiter.StartCleanup(s.config.RateLimit.CleanupInterval)

	logger.GetLogger().Info("Background cleanup routines started",
		zap.Duration("rate_limit_cleanup", s.config.RateLimit.CleanupInterval),
	)
}

// waitForShutdown waits for interrupt signal and performs graceful shutdown
func (s *Server) waitForShutdown() error {
	log := logger.GetLogger()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	timeout := s.config.Server.ShutdownTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info("Shutting down HTTP server", zap.Duration("timeout", timeout))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		s.cleanup()
		return err
	}

	s.cleanup()

	log.Info("Server gracefully stopped")
	return nil
}

// cleanup performs cleanup of all services
func (s *Server) cleanup() {
	log := logger.GetLogger()

	log.Info("Cleaning up services...")

	if s.gateway != nil {
		s.gateway.Close()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.memoryCache != nil {
		s.memoryCache.Stop()
	}
	if s.redisCache != nil {
		if err := s.redisCache.Close(); err != nil {
			log.Error("Error closing redis cache", zap.Error(err))
		}
	}

	if s.store != nil {
		log.Debug("Closing storage", zap.String("backend", s.store.Backend()))
		if err := s.store.Close(); err != nil {
			log.Error("Error closing storage", zap.Error(err))
		}
	}

	log.Info("Cleanup completed")

	if err := logger.GetLogger().Sync(); err != nil {
		fmt.Printf("Error syncing logger: %v\n", err)
	}
}
