package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// HTTP Configuration
	HTTP HTTPConfig

	// Database Configuration
	Database DatabaseConfig

	// Redis Configuration
	Redis RedisConfig

	// Session Configuration
	Session SessionConfig

	// Authentication strategies and limits
	Auth AuthConfig

	// Logging Configuration
	Logging LoggingConfig
}

// HTTPConfig holds listener and public URL configuration
type HTTPConfig struct {
	Address     string   // Listen address (e.g. ":8080")
	BaseURL     string   // Public base URL used to build OAuth redirect URIs
	CORSOrigins []string // Origins allowed to call the JSON API
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string // sqlite, postgres
	URL    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address string // Redis address (host:port)
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	Secret          string
	TTL             time.Duration
	CookieName      string
	CookieSecure    bool
	CleanupSchedule string // Cron expression for expired session cleanup
}

// AuthConfig holds authentication strategy configuration
type AuthConfig struct {
	StrategiesFile string
	RateLimit      float64 // Provider redirects per second per client IP
	RateBurst      int
	Strategies     Strategies
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	sessionTTL, err := durationEnv("SESSION_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	rateLimit, err := floatEnv("AUTH_RATE_LIMIT", 1)
	if err != nil {
		return nil, err
	}

	rateBurst, err := intEnv("AUTH_RATE_BURST", 5)
	if err != nil {
		return nil, err
	}

	driver := strings.ToLower(getEnv("DATABASE_DRIVER", "sqlite"))
	if driver != "sqlite" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", driver)
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Address:     getEnv("HTTP_ADDRESS", ":8080"),
			BaseURL:     strings.TrimSuffix(getEnv("BASE_URL", "http://localhost:8080"), "/"),
			CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		},
		Database: DatabaseConfig{
			Driver: driver,
			URL:    getEnv("DATABASE_URL", "authd.sqlite"),
		},
		Redis: RedisConfig{
			Address: getEnv("REDIS_ADDRESS", "localhost:6379"),
		},
		Session: SessionConfig{
			Secret:          os.Getenv("SESSION_SECRET"),
			TTL:             sessionTTL,
			CookieName:      getEnv("SESSION_COOKIE", "authd_session"),
			CookieSecure:    getEnv("COOKIE_SECURE", "false") == "true",
			CleanupSchedule: getEnv("SESSION_CLEANUP_SCHEDULE", "*/15 * * * *"),
		},
		Auth: AuthConfig{
			StrategiesFile: getEnv("STRATEGIES_FILE", "strategies.yaml"),
			RateLimit:      rateLimit,
			RateBurst:      rateBurst,
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	strategies, err := LoadStrategies(cfg.Auth.StrategiesFile)
	if err != nil {
		return nil, err
	}
	cfg.Auth.Strategies = strategies

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
