package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/milopalmaerts/Crypto/internal/middleware"
	"github.com/milopalmaerts/Crypto/internal/models"
	"github.com/milopalmaerts/Crypto/internal/services"
	"github.com/milopalmaerts/Crypto/pkg/logger"
)

// PortfolioHandler handles the authenticated user's holdings
type PortfolioHandler struct {
	portfolioService services.PortfolioServiceInterface
}

// NewPortfolioHandler creates a new PortfolioHandler instance
func NewPortfolioHandler(portfolioService services.PortfolioServiceInterface) *PortfolioHandler {
	return &PortfolioHandler{portfolioService: portfolioService}
}

// List handles GET /api/portfolio
func (h *PortfolioHandler) List(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	holdings, err := h.portfolioService.ListHoldings(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		models.HandleError(c, err, log)
		return
	}
	c.JSON(http.StatusOK, holdings)
}

// Add handles POST /api/portfolio
func (h *PortfolioHandler) Add(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	var req models.AddHoldingRequest
	if !bindJSON(c, &req, log) {
		return
	}

	resp, err := h.portfolioService.AddHolding(c.Request.Context(), middleware.UserID(c), &req)
	if err != nil {
		models.HandleError(c, err, log)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Delete handles DELETE /api/portfolio/:crypto_id
func (h *PortfolioHandler) Delete(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	if err := h.portfolioService.DeleteHolding(c.Request.Context(), middleware.UserID(c), c.Param("crypto_id")); err != nil {
		models.HandleError(c, err, log)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse{Message: "Holding deleted successfully"})
}
