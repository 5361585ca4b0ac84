// Package configs provides application configuration loaded from
// environment variables. All configuration is externalized via
// environment variables for 12-factor app compliance.
package configs

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// AppConfig holds all application configuration.
// Load it once at startup using AppLoad().
type AppConfig struct {
	// APIBaseURL is the portfolio REST API base (e.g. "https://api.example.com").
	APIBaseURL string

	// StreamURL optionally overrides the stream base; when empty the
	// stream base derives from APIBaseURL by protocol substitution.
	StreamURL string

	// APIToken is the bearer token for the portfolio REST API.
	APIToken string

	// RefreshInterval is how often the REST snapshot is refetched and
	// the subscription set reconciled.
	RefreshInterval time.Duration

	// Stream contains tunables for the stream supervisors.
	Stream StreamConfig

	// LogLevel is the logrus level name ("debug", "info", ...).
	LogLevel string
}

// StreamConfig holds stream supervisor tunables.
type StreamConfig struct {
	// ReconnectDelay is the fixed delay before redialing a dropped
	// connection.
	ReconnectDelay time.Duration

	// MarketMaxAttempts bounds consecutive failed reconnects in the
	// market stream variant before it gives up.
	MarketMaxAttempts int

	// ThrottleWindow caps consumer notifications at one per window.
	ThrottleWindow time.Duration

	// TradeCap bounds the deduplicated trade list.
	TradeCap int
}

// AppLoad loads all application configuration from environment
// variables. It attempts to load a .env file first (for local
// development). Call this once at application startup.
func AppLoad() *AppConfig {
	_ = godotenv.Load() // Ignore error - .env is optional

	return &AppConfig{
		APIBaseURL:      getEnv("API_BASE_URL", "http://localhost:8080"),
		StreamURL:       getEnv("STREAM_URL", ""),
		APIToken:        getEnv("API_TOKEN", ""),
		RefreshInterval: getEnvDuration("REFRESH_INTERVAL", time.Minute),
		Stream: StreamConfig{
			ReconnectDelay:    getEnvDuration("RECONNECT_DELAY", 3*time.Second),
			MarketMaxAttempts: getEnvInt("MARKET_MAX_ATTEMPTS", 10),
			ThrottleWindow:    getEnvDuration("THROTTLE_WINDOW", 200*time.Millisecond),
			TradeCap:          getEnvInt("TRADE_CAP", 100),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// NewLogger builds the application logger from the configured level.
func (c *AppConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvDuration returns the environment variable as duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
