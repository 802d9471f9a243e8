package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/milopalmaerts/Crypto/internal/config"
	"github.com/milopalmaerts/Crypto/internal/models"
	"github.com/milopalmaerts/Crypto/internal/services"
	"github.com/milopalmaerts/Crypto/internal/storage"
	"github.com/milopalmaerts/Crypto/pkg/cache"
	"github.com/milopalmaerts/Crypto/pkg/logger"
)

const (
	demoEmail    = "demo@cryptotracker.local"
	demoPassword = "demo-password"
)

// demoHoldings are the lots seeded for the demo account
var demoHoldings = []models.AddHoldingRequest{
	{CryptoID: "bitcoin", Symbol: "btc", Name: "Bitcoin", Amount: 0.5, AvgPrice: 42000},
	{CryptoID: "ethereum", Symbol: "eth", Name: "Ethereum", Amount: 4, AvgPrice: 2400},
	{CryptoID: "solana", Symbol: "sol", Name: "Solana", Amount: 25, AvgPrice: 95},
}

var (
	storageBackend string
	sqlitePath     string
	mongoURI       string
	timeout        time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dbsetup",
		Short: "Prepare and inspect CryptoTracker storage",
		Long: `Database setup utility for the CryptoTracker backend.

Storage settings come from the same environment variables as the server
(STORAGE_BACKEND, SQLITE_PATH, MONGODB_URI, MONGODB_DATABASE) and can be
overridden with flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			return logger.Initialize(&logger.Config{
				Level:       cfg.Logging.Level,
				Environment: cfg.Logging.Environment,
				OutputPaths: []string{"stdout"},
				Service:     "dbsetup",
			})
		},
	}

	rootCmd.PersistentFlags().StringVar(&storageBackend, "backend", "", "storage backend: sqlite, mongodb or memory")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite-path", "", "SQLite database file")
	rootCmd.PersistentFlags().StringVar(&mongoURI, "mongodb-uri", "", "MongoDB connection string")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall operation timeout")

	rootCmd.AddCommand(newInitCmd(), newSeedCmd(), newHealthCmd(), newAllCmd())
	return rootCmd
}

// loadConfig applies flag overrides on top of the environment
func loadConfig() (*config.Config, error) {
	cfg := config.LoadConfig()
	if storageBackend != "" {
		cfg.Storage.Backend = storageBackend
	}
	if sqlitePath != "" {
		cfg.Storage.SQLitePath = sqlitePath
	}
	if mongoURI != "" {
		cfg.MongoDB.URI = mongoURI
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withStore opens storage, which also creates tables and indexes, and runs fn
func withStore(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, store storage.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	store, err := storage.Open(ctx, cfg, logger.GetLogger())
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, cfg, store)
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, cfg *config.Config, store storage.Store) error {
				return reportIndexes(ctx, store)
			})
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the demo account and its holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, cfg *config.Config, store storage.Store) error {
				_, err := seedDemoData(ctx, store, cfg.Auth)
				return err
			})
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check storage and the configured cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, cfg *config.Config, store storage.Store) error {
				return runHealthCheck(ctx, cfg, store)
			})
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run init, seed and health in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, cfg *config.Config, store storage.Store) error {
				if err := reportIndexes(ctx, store); err != nil {
					return err
				}
				if _, err := seedDemoData(ctx, store, cfg.Auth); err != nil {
					return err
				}
				return runHealthCheck(ctx, cfg, store)
			})
		},
	}
}

// reportIndexes fails when the schema is still incomplete after Open
func reportIndexes(ctx context.Context, store storage.Store) error {
	log := logger.GetLogger()

	checker, ok := store.(services.IndexChecker)
	if !ok {
		log.Info("Schema ready", zap.String("backend", store.Backend()))
		return nil
	}

	missing, err := checker.MissingIndexes(ctx)
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema incomplete, missing %v", missing)
	}

	log.Info("Schema ready", zap.String("backend", store.Backend()))
	return nil
}

// seedDemoData registers the demo user and adds its holdings. An existing
// demo user is left untouched so reruns do not inflate amounts.
func seedDemoData(ctx context.Context, store storage.Store, authCfg config.AuthConfig) (bool, error) {
	log := logger.GetLogger()

	authService := services.NewAuthService(store, authCfg)
	resp, err := authService.Register(ctx, &models.RegisterRequest{
		FirstName: "Demo",
		LastName:  "User",
		Email:     demoEmail,
		Password:  demoPassword,
	})
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) && appErr.Code == models.ErrorCodeUserExists {
			log.Info("Demo user already exists, skipping seed", zap.String("email", demoEmail))
			return false, nil
		}
		return false, fmt.Errorf("register demo user: %w", err)
	}

	portfolioService := services.NewPortfolioService(store)
	for i := range demoHoldings {
		lot := demoHoldings[i]
		if _, err := portfolioService.AddHolding(ctx, resp.User.ID, &lot); err != nil {
			return false, fmt.Errorf("seed holding %s: %w", lot.CryptoID, err)
		}
	}

	log.Info("Seeded demo account",
		zap.String("email", demoEmail),
		zap.String("password", demoPassword),
		zap.Int("holdings", len(demoHoldings)),
	)
	return true, nil
}

// runHealthCheck prints storage and cache status and fails on anything unhealthy
func runHealthCheck(ctx context.Context, cfg *config.Config, store storage.Store) error {
	var cachePinger services.Pinger
	if cfg.Cache.Backend == "redis" {
		redisStore, err := cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, cfg.Cache.TTL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		cachePinger = redisStore
	}

	healthService := services.NewHealthService(store, cachePinger, nil)
	checks := map[string]*services.HealthCheck{
		"storage": healthService.CheckStorage(ctx),
		"cache":   healthService.CheckCache(ctx),
	}

	fmt.Println("Health Check Results:")
	for name, check := range checks {
		mark := "ok"
		if check.Status != services.HealthStatusHealthy {
			mark = "!!"
		}
		fmt.Printf("  [%s] %s (%s): %s %v\n", mark, name, check.Service, check.Status, check.ResponseTime)
		if check.Message != "" {
			fmt.Printf("       %s\n", check.Message)
		}
	}

	if services.OverallStatus(checks) == services.HealthStatusUnhealthy {
		return fmt.Errorf("storage or cache is unhealthy")
	}
	return nil
}
