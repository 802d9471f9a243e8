package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/milopalmaerts/Crypto/internal/middleware"
	"github.com/milopalmaerts/Crypto/internal/services"
)

// Banner is the plain-text answer of GET /
const Banner = "CryptoTracker Backend is running"

// Router handles HTTP routing setup
type Router struct {
	marketHandler    *MarketHandler
	authHandler      *AuthHandler
	portfolioHandler *PortfolioHandler
	newsHandler      *NewsHandler
	healthHandler    *HealthHandler
	authService      services.AuthServiceInterface
}

// NewRouter creates a new Router instance with all handlers
func NewRouter(
	marketService services.MarketServiceInterface,
	authService services.AuthServiceInterface,
	portfolioService services.PortfolioServiceInterface,
	newsService services.NewsServiceInterface,
	healthHandler *HealthHandler,
) *Router {
	return &Router{
		marketHandler:    NewMarketHandler(marketService),
		authHandler:      NewAuthHandler(authService),
		portfolioHandler: NewPortfolioHandler(portfolioService),
		newsHandler:      NewNewsHandler(newsService),
		healthHandler:    healthHandler,
		authService:      authService,
	}
}

// SetupRoutes configures all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, Banner)
	})

	api := engine.Group("/api")
	{
		// Market data
		api.GET("/coins", r.marketHandler.ListCoins)
		api.GET("/coin/:id", r.marketHandler.GetCoin)
		api.GET("/coin/:id/chart", r.marketHandler.GetChart)
		api.GET("/news", r.newsHandler.Latest)

		// Accounts
		api.POST("/auth/register", r.authHandler.Register)
		api.POST("/auth/login", r.authHandler.Login)

		// Holdings
		portfolio := api.Group("/portfolio")
		portfolio.Use(middleware.AuthMiddleware(r.authService))
		{
			portfolio.GET("", r.portfolioHandler.List)
			portfolio.POST("", r.portfolioHandler.Add)
			portfolio.DELETE("/:crypto_id", r.portfolioHandler.Delete)
		}
	}
}

// SetupHealthRoutes configures health check routes
func (r *Router) SetupHealthRoutes(engine *gin.Engine) {
	health := engine.Group("/health")
	{
		health.GET("", r.healthHandler.GetHealth)
		health.GET("/live", r.healthHandler.GetLiveness)
		health.GET("/ready", r.healthHandler.GetReadiness)
		health.GET("/storage", r.healthHandler.GetStorageHealth)
	}
}
