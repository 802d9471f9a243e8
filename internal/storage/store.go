package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/milopalmaerts/Crypto/internal/config"
	"github.com/milopalmaerts/Crypto/internal/models"
	"github.com/milopalmaerts/Crypto/pkg/logger"
)

var (
	// ErrNotFound is returned when a user or holding does not exist
	ErrNotFound = errors.New("not found")
	// ErrUserExists is returned when registering an email that is already taken
	ErrUserExists = errors.New("user already exists")
)

// Store persists users and their holdings
type Store interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	GetHoldingsByUser(ctx context.Context, userID string) ([]models.Holding, error)
	// AddOrUpdateHolding inserts the lot or merges it into the existing
	// position with MergeLot. merged reports which of the two happened.
	AddOrUpdateHolding(ctx context.Context, lot *models.Holding) (holding *models.Holding, merged bool, err error)
	DeleteHolding(ctx context.Context, userID, cryptoID string) error
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
	Backend() string
}

// MergeLot folds a new purchase into an existing position. The average is
// weighted by amount; when the combined amount is not positive the new
// lot's price is kept.
func MergeLot(prevAmount, prevAvg, addAmount, addAvg float64) (amount, avg float64) {
	amount = prevAmount + addAmount
	if amount <= 0 {
		return amount, addAvg
	}
	return amount, (prevAmount*prevAvg + addAmount*addAvg) / amount
}

// NormalizeEmail lowercases and trims an address so lookups are case-insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Open connects to the configured backend and ensures its schema
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	var (
		store Store
		err   error
	)
	switch cfg.Storage.Backend {
	case "sqlite":
		store, err = NewSQLiteStore(cfg.Storage.SQLitePath)
	case "mongodb":
		store, err = NewMongoStore(ctx, &cfg.MongoDB)
	case "memory":
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}

	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ensure %s schema: %w", cfg.Storage.Backend, err)
	}

	log.Named("storage").Info("Storage ready")
	return store, nil
}
