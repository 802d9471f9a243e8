package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/milopalmaerts/Crypto/internal/config"
	"github.com/milopalmaerts/Crypto/internal/gateway"
	"github.com/milopalmaerts/Crypto/internal/models"
	"github.com/milopalmaerts/Crypto/internal/upstream"
	"github.com/milopalmaerts/Crypto/pkg/logger"
)

const (
	coinsListKey       = "coins-list"
	defaultChartWindow = "7"
	maxChartWindow     = "max"
	maxFallbackWindow  = "365"
)

var (
	chartWindows  = map[string]bool{"1": true, "7": true, "30": true, "365": true, maxChartWindow: true}
	coinIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,99}$`)
)

// PlaceholderRecorder counts responses served from synthetic data
type PlaceholderRecorder interface {
	RecordPlaceholder()
}

// MarketService serves market data through the throttled gateway and its
// read-through cache. Each operation is a single cached upstream call.
type MarketService struct {
	client      MarketDataClient
	rt          *gateway.ReadThrough
	config      config.MarketConfig
	placeholder PlaceholderRecorder
	log         *logger.Logger
}

// NewMarketService creates a new MarketService instance
func NewMarketService(client MarketDataClient, rt *gateway.ReadThrough, cfg config.MarketConfig, placeholder PlaceholderRecorder) *MarketService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	return &MarketService{
		client:      client,
		rt:          rt,
		config:      cfg,
		placeholder: placeholder,
		log:         logger.GetLogger().Named("market"),
	}
}

// NormalizeChartWindow maps a days query value onto a supported window
func NormalizeChartWindow(days string) string {
	days = strings.ToLower(strings.TrimSpace(days))
	if chartWindows[days] {
		return days
	}
	return defaultChartWindow
}

// ValidateCoinID rejects identifiers that cannot be CoinGecko ids
func ValidateCoinID(id string) error {
	if !coinIDPattern.MatchString(id) {
		return models.NewValidationError("Invalid coin id", fmt.Sprintf("%q must be lowercase letters, digits or dashes", id))
	}
	return nil
}

// ListCoins returns the top coins by market cap
func (ms *MarketService) ListCoins(ctx context.Context) ([]models.Coin, bool, error) {
	coins, cached, err := gateway.FetchJSON(ctx, ms.rt, coinsListKey, func(ctx context.Context) ([]models.Coin, error) {
		return ms.client.ListMarkets(ctx, ms.config.PageSize)
	})
	if err != nil {
		if ms.usePlaceholder(err) {
			ms.servePlaceholder(ctx, coinsListKey, err)
			return placeholderCoins(), false, nil
		}
		return nil, false, ms.translate(ctx, "Failed to fetch coin data", err)
	}
	return coins, cached, nil
}

// GetCoin returns details for one coin
func (ms *MarketService) GetCoin(ctx context.Context, id string) (*models.CoinDetail, bool, error) {
	if err := ValidateCoinID(id); err != nil {
		return nil, false, err
	}

	key := "coin:" + id
	detail, cached, err := gateway.FetchJSON(ctx, ms.rt, key, func(ctx context.Context) (*models.CoinDetail, error) {
		return ms.client.GetCoin(ctx, id)
	})
	if err != nil {
		if ms.usePlaceholder(err) {
			ms.servePlaceholder(ctx, key, err)
			return placeholderCoinDetail(id), false, nil
		}
		return nil, false, ms.translate(ctx, "Failed to fetch coin details", err)
	}
	return detail, cached, nil
}

// GetChart returns the price series for a coin. A failed "max" window is
// retried once as "365" unless the failure was throttling.
func (ms *MarketService) GetChart(ctx context.Context, id, days string) (*models.Chart, bool, error) {
	if err := ValidateCoinID(id); err != nil {
		return nil, false, err
	}

	window := NormalizeChartWindow(days)
	chart, cached, err := ms.fetchChart(ctx, id, window)
	if err != nil && window == maxChartWindow && !isThrottlingError(err) {
		ms.log.WithContext(ctx).Warn("Full history chart failed, falling back to one year",
			zap.String("coin_id", id),
			zap.Error(err),
		)
		chart, cached, err = ms.fetchChart(ctx, id, maxFallbackWindow)
	}
	if err != nil {
		if ms.usePlaceholder(err) {
			ms.servePlaceholder(ctx, chartKey(id, window), err)
			return placeholderChart(id, window, time.Now()), false, nil
		}
		return nil, false, ms.translate(ctx, "Failed to fetch chart data", err)
	}
	return chart, cached, nil
}

func chartKey(id, window string) string {
	return "chart:" + id + ":" + window
}

func (ms *MarketService) fetchChart(ctx context.Context, id, window string) (*models.Chart, bool, error) {
	return gateway.FetchJSON(ctx, ms.rt, chartKey(id, window), func(ctx context.Context) (*models.Chart, error) {
		points, err := ms.client.GetMarketChart(ctx, id, window)
		if err != nil {
			return nil, err
		}
		return &models.Chart{Data: points, Period: window}, nil
	})
}

func isThrottlingError(err error) bool {
	return errors.Is(err, gateway.ErrRateLimited) || errors.Is(err, gateway.ErrCooldownActive)
}

// usePlaceholder reports whether synthetic data may replace err. It only
// applies once the gateway has given up on the upstream for now.
func (ms *MarketService) usePlaceholder(err error) bool {
	return ms.config.PlaceholderFallback && isThrottlingError(err) && ms.rt.Gateway().Throttled()
}

func (ms *MarketService) servePlaceholder(ctx context.Context, key string, cause error) {
	if ms.placeholder != nil {
		ms.placeholder.RecordPlaceholder()
	}
	ms.log.WithContext(ctx).Warn("Serving placeholder market data",
		zap.String("key", key),
		zap.Error(cause),
	)
}

// translate maps gateway and upstream failures onto API errors
func (ms *MarketService) translate(ctx context.Context, message string, err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	state := ms.rt.Gateway().Snapshot()
	switch {
	case errors.Is(err, gateway.ErrCooldownActive):
		return models.NewAppErrorWithCause(models.ErrorCodeCooldownActive,
			"Market data is cooling down after repeated rate limiting, try again later", err).
			WithRetryAfter(state.CooldownRemaining)
	case errors.Is(err, gateway.ErrRateLimited):
		retryAfter := state.CooldownRemaining
		var upErr *upstream.Error
		if retryAfter == 0 && errors.As(err, &upErr) {
			retryAfter = upErr.RetryAfter
		}
		return models.NewAppErrorWithCause(models.ErrorCodeRateLimited,
			"Rate limited by market data provider, try again later", err).
			WithRetryAfter(retryAfter)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return models.NewAppErrorWithCause(models.ErrorCodeUpstreamFailure, message+": request timed out", err)
	default:
		ms.log.WithContext(ctx).Error("Market data request failed", zap.Error(err))
		return models.NewAppErrorWithCause(models.ErrorCodeUpstreamFailure, message, err)
	}
}
