package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/milopalmaerts/Crypto/internal/models"
	"github.com/milopalmaerts/Crypto/internal/services"
	"github.com/milopalmaerts/Crypto/pkg/logger"
)

// MarketHandler handles market data requests
type MarketHandler struct {
	marketService services.MarketServiceInterface
}

// NewMarketHandler creates a new MarketHandler instance
func NewMarketHandler(marketService services.MarketServiceInterface) *MarketHandler {
	return &MarketHandler{marketService: marketService}
}

func setCacheHeader(c *gin.Context, cached bool) {
	if cached {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
}

// ListCoins handles GET /api/coins
func (h *MarketHandler) ListCoins(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	coins, cached, err := h.marketService.ListCoins(c.Request.Context())
	if err != nil {
		models.HandleError(c, err, log)
		return
	}

	log.Debug("Coins served", zap.Int("count", len(coins)), zap.Bool("cached", cached))
	setCacheHeader(c, cached)
	c.JSON(http.StatusOK, coins)
}

// GetCoin handles GET /api/coin/:id
func (h *MarketHandler) GetCoin(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	detail, cached, err := h.marketService.GetCoin(c.Request.Context(), c.Param("id"))
	if err != nil {
		models.HandleError(c, err, log)
		return
	}

	setCacheHeader(c, cached)
	c.JSON(http.StatusOK, detail)
}

// GetChart handles GET /api/coin/:id/chart?days=
func (h *MarketHandler) GetChart(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	chart, cached, err := h.marketService.GetChart(c.Request.Context(), c.Param("id"), c.DefaultQuery("days", "7"))
	if err != nil {
		models.HandleError(c, err, log)
		return
	}

	setCacheHeader(c, cached)
	c.JSON(http.StatusOK, chart)
}
