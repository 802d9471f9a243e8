package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/milopalmaerts/Crypto/internal/models"
	"github.com/milopalmaerts/Crypto/internal/storage"
	"github.com/milopalmaerts/Crypto/pkg/logger"
)

// PortfolioService manages a user's holdings
type PortfolioService struct {
	store storage.Store
	log   *logger.Logger
}

// NewPortfolioService creates a new PortfolioService instance
func NewPortfolioService(store storage.Store) *PortfolioService {
	return &PortfolioService{
		store: store,
		log:   logger.GetLogger().Named("portfolio"),
	}
}

// ListHoldings returns the user's holdings in the order they were first added
func (ps *PortfolioService) ListHoldings(ctx context.Context, userID string) ([]models.Holding, error) {
	holdings, err := ps.store.GetHoldingsByUser(ctx, userID)
	if err != nil {
		return nil, models.NewDatabaseError("Failed to fetch portfolio", err)
	}
	if holdings == nil {
		holdings = []models.Holding{}
	}
	return holdings, nil
}

// AddHolding records a purchase, merging it into an existing position
func (ps *PortfolioService) AddHolding(ctx context.Context, userID string, req *models.AddHoldingRequest) (*models.HoldingResponse, error) {
	lot := &models.Holding{
		UserID:   userID,
		CryptoID: strings.TrimSpace(req.CryptoID),
		Symbol:   strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Name:     strings.TrimSpace(req.Name),
		Amount:   req.Amount,
		AvgPrice: req.AvgPrice,
	}
	if lot.CryptoID == "" || lot.Symbol == "" || lot.Name == "" {
		return nil, models.NewValidationError("Missing required fields", "crypto_id, symbol, name, amount and avgPrice must be set")
	}
	if !(lot.Amount > 0) || !(lot.AvgPrice > 0) {
		return nil, models.NewValidationError("Amount and average price must be positive", "")
	}

	holding, merged, err := ps.store.AddOrUpdateHolding(ctx, lot)
	if err != nil {
		return nil, models.NewDatabaseError("Failed to save holding", err)
	}

	message := "Holding added successfully"
	if merged {
		message = "Holding updated successfully"
	}
	ps.log.WithContext(ctx).Info(message,
		zap.String("crypto_id", holding.CryptoID),
		zap.Float64("amount", holding.Amount),
		zap.Float64("avg_price", holding.AvgPrice),
	)
	return &models.HoldingResponse{Message: message, Holding: holding}, nil
}

// DeleteHolding removes the user's position in cryptoID
func (ps *PortfolioService) DeleteHolding(ctx context.Context, userID, cryptoID string) error {
	err := ps.store.DeleteHolding(ctx, userID, cryptoID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.NewAppError(models.ErrorCodeHoldingNotFound, "Holding not found")
	}
	if err != nil {
		return models.NewDatabaseError("Failed to delete holding", err)
	}
	return nil
}
