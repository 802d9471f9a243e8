package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/milopalmaerts/Crypto/internal/config"
	"github.com/milopalmaerts/Crypto/internal/models"
	"github.com/milopalmaerts/Crypto/internal/services"
	"github.com/milopalmaerts/Crypto/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockMarketService returns canned values or a canned error
type mockMarketService struct {
	cached   bool
	err      error
	lastDays string
}

func (m *mockMarketService) ListCoins(context.Context) ([]models.Coin, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	return []models.Coin{{ID: "bitcoin", Symbol: "BTC", CurrentPrice: 1}}, m.cached, nil
}

func (m *mockMarketService) GetCoin(_ context.Context, id string) (*models.CoinDetail, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	return &models.CoinDetail{ID: id}, m.cached, nil
}

func (m *mockMarketService) GetChart(_ context.Context, id, days string) (*models.Chart, bool, error) {
	m.lastDays = days
	if m.err != nil {
		return nil, false, m.err
	}
	return &models.Chart{Period: days, Data: []models.ChartPoint{{Timestamp: 1, Price: 2, Date: "1/1/1970"}}}, m.cached, nil
}

type mockHealthChecker struct {
	storage *services.HealthCheck
	checks  map[string]*services.HealthCheck
}

func (m mockHealthChecker) CheckStorage(context.Context) *services.HealthCheck { return m.storage }

func (m mockHealthChecker) GetDetailedHealth(context.Context) map[string]*services.HealthCheck {
	return m.checks
}

func newTestEngine(t *testing.T, market services.MarketServiceInterface, checker HealthChecker) *gin.Engine {
	t.Helper()

	store := storage.NewMemoryStore()
	auth := services.NewAuthService(store, config.AuthConfig{JWTSecret: "handler-test", TokenTTL: time.Hour, BcryptCost: bcrypt.MinCost})
	if checker == nil {
		healthy := &services.HealthCheck{Service: "storage:memory", Status: services.HealthStatusHealthy}
		checker = mockHealthChecker{storage: healthy, checks: map[string]*services.HealthCheck{"storage": healthy}}
	}

	router := NewRouter(market, auth, services.NewPortfolioService(store), services.NewNewsService(), NewHealthHandler(checker, "test"))
	engine := gin.New()
	router.SetupRoutes(engine)
	router.SetupHealthRoutes(engine)
	return engine
}

func do(engine *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestBanner(t *testing.T) {
	engine := newTestEngine(t, &mockMarketService{}, nil)
	w := do(engine, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Banner, w.Body.String())
}

func TestMarketHandler(t *testing.T) {
	t.Run("CacheHeader", func(t *testing.T) {
		market := &mockMarketService{}
		engine := newTestEngine(t, market, nil)

		w := do(engine, http.MethodGet, "/api/coins", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

		market.cached = true
		w = do(engine, http.MethodGet, "/api/coin/bitcoin", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
		assert.Contains(t, w.Body.String(), `"id":"bitcoin"`)
	})

	t.Run("ChartDaysDefault", func(t *testing.T) {
		market := &mockMarketService{}
		engine := newTestEngine(t, market, nil)

		w := do(engine, http.MethodGet, "/api/coin/bitcoin/chart", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "7", market.lastDays)

		do(engine, http.MethodGet, "/api/coin/bitcoin/chart?days=max", "", "")
		assert.Equal(t, "max", market.lastDays)
	})

	t.Run("CooldownIs429WithRetryAfter", func(t *testing.T) {
		market := &mockMarketService{err: models.NewAppError(models.ErrorCodeCooldownActive, "cooling down").
			WithRetryAfter(42*time.Second + 100*time.Millisecond)}
		engine := newTestEngine(t, market, nil)

		w := do(engine, http.MethodGet, "/api/coins", "", "")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "43", w.Header().Get("Retry-After"))
		assert.Equal(t, models.ErrorCodeCooldownActive, decodeError(t, w).Error.Code)
	})

	t.Run("UpstreamFailureIs500", func(t *testing.T) {
		market := &mockMarketService{err: models.NewAppError(models.ErrorCodeUpstreamFailure, "Failed to fetch coin data")}
		engine := newTestEngine(t, market, nil)

		w := do(engine, http.MethodGet, "/api/coin/bitcoin/chart?days=30", "", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Empty(t, w.Header().Get("Retry-After"))
		assert.Equal(t, "Failed to fetch coin data", decodeError(t, w).Error.Message)
	})
}

func TestNewsHandler(t *testing.T) {
	engine := newTestEngine(t, &mockMarketService{}, nil)
	w := do(engine, http.MethodGet, "/api/news", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var items []models.NewsItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	assert.Len(t, items, 3)
}

func TestAuthAndPortfolioHandlers(t *testing.T) {
	engine := newTestEngine(t, &mockMarketService{}, nil)

	w := do(engine, http.MethodPost, "/api/auth/register", `{"firstName":"Ada","lastName":"L","email":"ada@example.com","password":"pw"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var registered models.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &registered))
	assert.Equal(t, "User created successfully", registered.Message)
	assert.NotContains(t, w.Body.String(), "password")

	w = do(engine, http.MethodPost, "/api/auth/register", `{"firstName":"Ada","lastName":"L","email":"ada@example.com","password":"pw"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.ErrorCodeUserExists, decodeError(t, w).Error.Code)

	w = do(engine, http.MethodPost, "/api/auth/register", `{"firstName":`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.ErrorCodeMalformedJSON, decodeError(t, w).Error.Code)

	w = do(engine, http.MethodPost, "/api/auth/login", `{"email":"ada@example.com","password":"wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(engine, http.MethodPost, "/api/auth/login", `{"email":"ada@example.com","password":"pw"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	var login models.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	token := login.Token

	assert.Equal(t, http.StatusUnauthorized, do(engine, http.MethodGet, "/api/portfolio", "", "").Code)
	assert.Equal(t, http.StatusForbidden, do(engine, http.MethodGet, "/api/portfolio", "", "garbage").Code)

	w = do(engine, http.MethodPost, "/api/portfolio", `{"crypto_id":"bitcoin","symbol":"btc","name":"Bitcoin","amount":1,"avgPrice":100}`, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Holding added successfully")

	w = do(engine, http.MethodPost, "/api/portfolio", `{"crypto_id":"bitcoin","symbol":"BTC","name":"Bitcoin","amount":1,"avgPrice":300}`, token)
	require.Equal(t, http.StatusOK, w.Code)
	var updated struct {
		Message  string  `json:"message"`
		ID       string  `json:"id"`
		Amount   float64 `json:"amount"`
		AvgPrice float64 `json:"avgPrice"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "Holding updated successfully", updated.Message)
	assert.Equal(t, "bitcoin", updated.ID)
	assert.InDelta(t, 2.0, updated.Amount, 1e-9)
	assert.InDelta(t, 200.0, updated.AvgPrice, 1e-9)

	w = do(engine, http.MethodPost, "/api/portfolio", `{"crypto_id":"eth","symbol":"ETH","name":"Ethereum","amount":0,"avgPrice":1}`, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(engine, http.MethodGet, "/api/portfolio", "", token)
	require.Equal(t, http.StatusOK, w.Code)
	var holdings []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &holdings))
	require.Len(t, holdings, 1)
	assert.Equal(t, "BTC", holdings[0]["symbol"])
	assert.Equal(t, 0.0, holdings[0]["currentPrice"])

	w = do(engine, http.MethodDelete, "/api/portfolio/bitcoin", "", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Holding deleted successfully")

	w = do(engine, http.MethodDelete, "/api/portfolio/bitcoin", "", token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Holding not found", decodeError(t, w).Error.Message)
}

func TestHealthHandler(t *testing.T) {
	healthy := &services.HealthCheck{Service: "storage:sqlite", Status: services.HealthStatusHealthy}
	degraded := &services.HealthCheck{Service: "upstream_gateway", Status: services.HealthStatusDegraded}
	down := &services.HealthCheck{Service: "storage:sqlite", Status: services.HealthStatusUnhealthy}

	t.Run("Degraded", func(t *testing.T) {
		engine := newTestEngine(t, &mockMarketService{}, mockHealthChecker{
			storage: healthy,
			checks:  map[string]*services.HealthCheck{"storage": healthy, "upstream": degraded},
		})

		w := do(engine, http.MethodGet, "/health", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, services.HealthStatusDegraded, resp.Status)
		assert.Equal(t, "test", resp.Version)

		assert.Equal(t, http.StatusOK, do(engine, http.MethodGet, "/health/ready", "", "").Code)
		assert.Equal(t, http.StatusOK, do(engine, http.MethodGet, "/health/live", "", "").Code)
	})

	t.Run("StorageDown", func(t *testing.T) {
		engine := newTestEngine(t, &mockMarketService{}, mockHealthChecker{
			storage: down,
			checks:  map[string]*services.HealthCheck{"storage": down},
		})

		assert.Equal(t, http.StatusServiceUnavailable, do(engine, http.MethodGet, "/health", "", "").Code)
		assert.Equal(t, http.StatusServiceUnavailable, do(engine, http.MethodGet, "/health/ready", "", "").Code)
		assert.Equal(t, http.StatusServiceUnavailable, do(engine, http.MethodGet, "/health/storage", "", "").Code)
		assert.Equal(t, http.StatusOK, do(engine, http.MethodGet, "/health/live", "", "").Code)
	})
}
