package services

import (
	"context"

	"github.com/milopalmaerts/Crypto/internal/models"
)

// MarketDataClient defines the upstream market-data operations
type MarketDataClient interface {
	ListMarkets(ctx context.Context, perPage int) ([]models.Coin, error)
	GetCoin(ctx context.Context, id string) (*models.CoinDetail, error)
	GetMarketChart(ctx context.Context, id, days string) ([]models.ChartPoint, error)
}

// MarketServiceInterface defines the cached, throttled market-data operations.
// The boolean result reports whether the value was served from cache.
type MarketServiceInterface interface {
	ListCoins(ctx context.Context) ([]models.Coin, bool, error)
	GetCoin(ctx context.Context, id string) (*models.CoinDetail, bool, error)
	GetChart(ctx context.Context, id, days string) (*models.Chart, bool, error)
}

// AuthServiceInterface defines the interface for account and token operations
type AuthServiceInterface interface {
	Register(ctx context.Context, req *models.RegisterRequest) (*models.AuthResponse, error)
	Login(ctx context.Context, req *models.LoginRequest) (*models.AuthResponse, error)
	ValidateToken(token string) (*Claims, error)
}

// PortfolioServiceInterface defines the interface for holding operations
type PortfolioServiceInterface interface {
	ListHoldings(ctx context.Context, userID string) ([]models.Holding, error)
	AddHolding(ctx context.Context, userID string, req *models.AddHoldingRequest) (*models.HoldingResponse, error)
	DeleteHolding(ctx context.Context, userID, cryptoID string) error
}

// NewsServiceInterface defines the interface for the news feed
type NewsServiceInterface interface {
	Latest(ctx context.Context) []models.NewsItem
}
