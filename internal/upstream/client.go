package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/milopalmaerts/Crypto/internal/gateway"
	"github.com/milopalmaerts/Crypto/internal/models"
	"github.com/milopalmaerts/Crypto/pkg/logger"
)

// placeholderAPIKey is the value shipped in sample env files; it is never sent.
const placeholderAPIKey = "your_api_key_here"

// Config holds CoinGecko-compatible API settings
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryWait  time.Duration
}

// Error describes a failed upstream call. It matches gateway.ErrRateLimited
// for HTTP 429 and gateway.ErrUpstreamFailure for everything else.
type Error struct {
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Body       string
	kind       error
	cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the gateway sentinel and the transport cause.
func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// Client calls the market-data API. Transport-level failures are retried;
// HTTP responses, 429 included, are returned to the gateway untouched.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	apiKey  string
	log     *logger.Logger
}

// retryLogger adapts zap to retryablehttp.LeveledLogger
type retryLogger struct {
	log *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, keysAndValues...)
}
func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}
func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}
func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warnw(msg, keysAndValues...)
}

// NewClient creates a new market-data client
func NewClient(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.Named("upstream")

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Timeout = cfg.Timeout
	retryClient.RetryMax = cfg.MaxRetries
	if cfg.RetryWait > 0 {
		retryClient.RetryWaitMin = cfg.RetryWait
		retryClient.RetryWaitMax = 4 * cfg.RetryWait
	}
	retryClient.CheckRetry = retryConnectionErrors
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = retryLogger{log: log.Sugar()}

	apiKey := cfg.APIKey
	if apiKey == placeholderAPIKey {
		apiKey = ""
	}

	return &Client{
		http:    retryClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  apiKey,
		log:     log,
	}
}

// retryConnectionErrors retries only when the request never left this host.
// Timeouts and responses, 429 included, go back to the gateway so its pacing
// stays the only thing deciding when the upstream is called again.
func retryConnectionErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil || resp != nil {
		return false, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false, nil
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true, nil
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true, nil
	}
	return false, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &Error{Op: op, kind: gateway.ErrUpstreamFailure, cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, kind: gateway.ErrUpstreamFailure, cause: err}
	}
	defer resp.Body.Close()

	log := c.log.WithContext(ctx)
	log.Debug("Upstream response",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &Error{
			Op:         op,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			kind:       gateway.ErrRateLimited,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Error{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			kind:       gateway.ErrUpstreamFailure,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, kind: gateway.ErrUpstreamFailure, cause: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

type marketEntry struct {
	ID                       string  `json:"id"`
	Name                     string  `json:"name"`
	Symbol                   string  `json:"symbol"`
	CurrentPrice             float64 `json:"current_price"`
	MarketCap                float64 `json:"market_cap"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
	Image                    string  `json:"image"`
}

// ListMarkets returns the top perPage coins by market cap in USD
func (c *Client) ListMarkets(ctx context.Context, perPage int) ([]models.Coin, error) {
	query := url.Values{}
	query.Set("vs_currency", "usd")
	query.Set("order", "market_cap_desc")
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("page", "1")
	query.Set("sparkline", "false")

	var entries []marketEntry
	if err := c.getJSON(ctx, "list markets", "/coins/markets", query, &entries); err != nil {
		return nil, err
	}

	coins := make([]models.Coin, 0, len(entries))
	for _, e := range entries {
		coins = append(coins, models.Coin{
			ID:                       e.ID,
			Name:                     e.Name,
			Symbol:                   strings.ToUpper(e.Symbol),
			CurrentPrice:             e.CurrentPrice,
			MarketCap:                e.MarketCap,
			PriceChangePercentage24h: e.PriceChangePercentage24h,
			Image:                    e.Image,
		})
	}
	return coins, nil
}

// GetCoin returns detail for one coin id
func (c *Client) GetCoin(ctx context.Context, id string) (*models.CoinDetail, error) {
	query := url.Values{}
	query.Set("localization", "false")
	query.Set("tickers", "false")
	query.Set("community_data", "false")
	query.Set("developer_data", "false")

	var detail models.CoinDetail
	if err := c.getJSON(ctx, "get coin "+id, "/coins/"+url.PathEscape(id), query, &detail); err != nil {
		return nil, err
	}

	detail.Symbol = strings.ToUpper(detail.Symbol)
	if en, ok := detail.Description["en"]; ok {
		detail.Description = map[string]string{"en": en}
	}
	return &detail, nil
}

type marketChart struct {
	Prices []json.RawMessage `json:"prices"`
}

// GetMarketChart returns the USD price series for id over days ("1", "7", "30", "365", "max")
func (c *Client) GetMarketChart(ctx context.Context, id, days string) ([]models.ChartPoint, error) {
	query := url.Values{}
	query.Set("vs_currency", "usd")
	query.Set("days", days)

	op := "market chart " + id + "/" + days
	var chart marketChart
	if err := c.getJSON(ctx, op, "/coins/"+url.PathEscape(id)+"/market_chart", query, &chart); err != nil {
		return nil, err
	}
	if chart.Prices == nil {
		return nil, &Error{Op: op, kind: gateway.ErrUpstreamFailure, cause: fmt.Errorf("response has no prices")}
	}

	points := make([]models.ChartPoint, 0, len(chart.Prices))
	skipped := 0
	for _, raw := range chart.Prices {
		point, ok := parsePricePair(raw)
		if !ok {
			skipped++
			continue
		}
		points = append(points, point)
	}
	if skipped > 0 {
		c.log.WithContext(ctx).Warn("Dropped malformed price pairs",
			zap.String("op", op),
			zap.Int("skipped", skipped),
		)
	}
	return points, nil
}

// parsePricePair accepts exactly [timestampMillis, price] with both present.
func parsePricePair(raw json.RawMessage) (models.ChartPoint, bool) {
	var pair []*float64
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 || pair[0] == nil || pair[1] == nil {
		return models.ChartPoint{}, false
	}
	ts := int64(*pair[0])
	return models.ChartPoint{
		Timestamp: ts,
		Price:     *pair[1],
		Date:      time.UnixMilli(ts).UTC().Format("1/2/2006"),
	}, true
}

// Ping checks the API is reachable
func (c *Client) Ping(ctx context.Context) error {
	var out map[string]interface{}
	return c.getJSON(ctx, "ping", "/ping", nil, &out)
}
