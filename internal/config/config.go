package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultJWTSecret is used when JWT_SECRET is unset. Validate rejects it in production.
const DefaultJWTSecret = "your-secret-key-change-this-in-production"

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `json:"server"`
	Gateway   GatewayConfig   `json:"gateway"`
	Upstream  UpstreamConfig  `json:"upstream"`
	Market    MarketConfig    `json:"market"`
	Cache     CacheConfig     `json:"cache"`
	Redis     RedisConfig     `json:"redis"`
	Storage   StorageConfig   `json:"storage"`
	MongoDB   MongoDBConfig   `json:"mongodb"`
	Auth      AuthConfig      `json:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	CORS      CORSConfig      `json:"cors"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port               string        `json:"port"`
	Host               string        `json:"host"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	IdleTimeout        time.Duration `json:"idle_timeout"`
	ShutdownTimeout    time.Duration `json:"shutdown_timeout"`
	MaxRequestBytes    int64         `json:"max_request_bytes"`
	MaxConcurrent      int           `json:"max_concurrent"`
	SlowRequestWarning time.Duration `json:"slow_request_warning"`
}

// GatewayConfig controls outbound pacing and the cooldown breaker
type GatewayConfig struct {
	BaseDelay        time.Duration `json:"base_delay"`
	MaxDelay         time.Duration `json:"max_delay"`
	FailureThreshold int           `json:"failure_threshold"`
	Cooldown         time.Duration `json:"cooldown"`
}

// UpstreamConfig holds the market-data API client configuration
type UpstreamConfig struct {
	BaseURL    string        `json:"base_url"`
	APIKey     string        `json:"-"`
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	RetryWait  time.Duration `json:"retry_wait"`
}

// MarketConfig holds market endpoint behaviour
type MarketConfig struct {
	PageSize            int  `json:"page_size"`
	PlaceholderFallback bool `json:"placeholder_fallback"`
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	Backend         string        `json:"backend"`
	TTL             time.Duration `json:"ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// RedisConfig holds the shared cache connection
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"-"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Backend    string `json:"backend"`
	SQLitePath string `json:"sqlite_path"`
}

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI               string        `json:"uri"`
	Database          string        `json:"database"`
	UsersCollection   string        `json:"users_collection"`
	HoldingCollection string        `json:"holding_collection"`
	ConnectTimeout    time.Duration `json:"connect_timeout"`
	MaxPoolSize       uint64        `json:"max_pool_size"`
}

// AuthConfig holds token settings
type AuthConfig struct {
	JWTSecret  string        `json:"-"`
	TokenTTL   time.Duration `json:"token_ttl"`
	BcryptCost int           `json:"bcrypt_cost"`
}

// RateLimitConfig holds inbound rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute"`
	WindowSize        time.Duration `json:"window_size"`
	CleanupInterval   time.Duration `json:"cleanup_interval"`
}

// CORSConfig holds the browser origin allow-list
type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level       string   `json:"level"`
	Environment string   `json:"environment"`
	OutputPaths []string `json:"output_paths"`
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               getEnv("SERVER_PORT", getEnv("PORT", "3001")),
			Host:               getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:        getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:       getDurationEnv("SERVER_WRITE_TIMEOUT", 90*time.Second),
			IdleTimeout:        getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout:    getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxRequestBytes:    getInt64Env("SERVER_MAX_REQUEST_BYTES", 1<<20),
			MaxConcurrent:      getIntEnv("SERVER_MAX_CONCURRENT", 1000),
			SlowRequestWarning: getDurationEnv("SERVER_SLOW_REQUEST_WARNING", 5*time.Second),
		},
		Gateway: GatewayConfig{
			BaseDelay:        getDurationEnv("GATEWAY_BASE_DELAY", 12*time.Second),
			MaxDelay:         getDurationEnv("GATEWAY_MAX_DELAY", 60*time.Second),
			FailureThreshold: getIntEnv("GATEWAY_FAILURE_THRESHOLD", 1),
			Cooldown:         getDurationEnv("GATEWAY_COOLDOWN", 60*time.Second),
		},
		Upstream: UpstreamConfig{
			BaseURL:    strings.TrimRight(getEnv("UPSTREAM_BASE_URL", "https://api.coingecko.com/api/v3"), "/"),
			APIKey:     getEnv("COINGECKO_API_KEY", ""),
			Timeout:    getDurationEnv("UPSTREAM_TIMEOUT", 15*time.Second),
			MaxRetries: getIntEnv("UPSTREAM_MAX_RETRIES", 2),
			RetryWait:  getDurationEnv("UPSTREAM_RETRY_WAIT", 500*time.Millisecond),
		},
		Market: MarketConfig{
			PageSize:            getIntEnv("MARKET_PAGE_SIZE", 10),
			PlaceholderFallback: getBoolEnv("MARKET_PLACEHOLDER_FALLBACK", true),
		},
		Cache: CacheConfig{
			Backend:         getEnv("CACHE_BACKEND", "memory"),
			TTL:             getDurationEnv("CACHE_TTL", 5*time.Minute),
			CleanupInterval: getDurationEnv("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "crypto:"),
		},
		Storage: StorageConfig{
			Backend:    getEnv("STORAGE_BACKEND", "sqlite"),
			SQLitePath: getEnv("SQLITE_PATH", "crypto_portfolio.db"),
		},
		MongoDB: MongoDBConfig{
			URI:               getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:          getEnv("MONGODB_DATABASE", "crypto_portfolio"),
			UsersCollection:   getEnv("MONGODB_USERS_COLLECTION", "users"),
			HoldingCollection: getEnv("MONGODB_HOLDINGS_COLLECTION", "holdings"),
			ConnectTimeout:    getDurationEnv("MONGODB_CONNECT_TIMEOUT", 10*time.Second),
			MaxPoolSize:       getUint64Env("MONGODB_MAX_POOL_SIZE", 100),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", DefaultJWTSecret),
			TokenTTL:   getDurationEnv("AUTH_TOKEN_TTL", 24*time.Hour),
			BcryptCost: getIntEnv("AUTH_BCRYPT_COST", 10),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getIntEnv("RATE_LIMIT_REQUESTS_PER_MINUTE", 120),
			WindowSize:        getDurationEnv("RATE_LIMIT_WINDOW_SIZE", time.Minute),
			CleanupInterval:   getDurationEnv("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		},
		CORS: CORSConfig{
			AllowedOrigins: getStringSliceEnv("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:80",
				"http://localhost:8080",
				"http://localhost:8081",
				"http://localhost:8082",
				"http://localhost:8083",
				"http://localhost:5173",
			}),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Environment: getEnv("LOG_ENVIRONMENT", "development"),
			OutputPaths: getStringSliceEnv("LOG_OUTPUT_PATHS", []string{"stdout"}),
		},
	}
}

// Validate reports settings the server cannot start with
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "mongodb", "memory":
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}
	if c.Gateway.FailureThreshold < 1 {
		return fmt.Errorf("GATEWAY_FAILURE_THRESHOLD must be at least 1, got %d", c.Gateway.FailureThreshold)
	}
	if c.Gateway.MaxDelay < c.Gateway.BaseDelay {
		return fmt.Errorf("GATEWAY_MAX_DELAY (%s) is below GATEWAY_BASE_DELAY (%s)", c.Gateway.MaxDelay, c.Gateway.BaseDelay)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.Market.PageSize < 1 || c.Market.PageSize > 250 {
		return fmt.Errorf("MARKET_PAGE_SIZE must be between 1 and 250, got %d", c.Market.PageSize)
	}
	if c.Logging.Environment == "production" && c.Auth.JWTSecret == DefaultJWTSecret {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getUint64Env(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if uint64Value, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uint64Value
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
