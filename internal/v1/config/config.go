package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default lifecycle timings. Every pending reaper re-checks its predicate
// under the registry lock when it fires, so these only bound how long stale
// state can linger.
const (
	DefaultTokenIdleTTL     = 5 * time.Minute
	DefaultRoomReconnectTTL = 2 * time.Minute
	DefaultRoomMaxAge       = 10 * time.Minute
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port string

	// Lifecycle timings
	TokenIdleTTL     time.Duration
	RoomReconnectTTL time.Duration
	RoomMaxAge       time.Duration

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Redis (optional: limiter store + ops-event bus)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Rate limits
	RateLimitWsIP string

	// Tracing
	OtelCollectorAddr string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Lifecycle timings, all optional with defaults
	var err error
	if cfg.TokenIdleTTL, err = durationFromEnv("TOKEN_IDLE_TTL", DefaultTokenIdleTTL); err != nil {
		errors = append(errors, err.Error())
	}
	if cfg.RoomReconnectTTL, err = durationFromEnv("ROOM_RECONNECT_TTL", DefaultRoomReconnectTTL); err != nil {
		errors = append(errors, err.Error())
	}
	if cfg.RoomMaxAge, err = durationFromEnv("ROOM_MAX_AGE", DefaultRoomMaxAge); err != nil {
		errors = append(errors, err.Error())
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	// Rate limits (format: "<count>-<period>", e.g. "100-M" = 100 per minute)
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "60-M")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// durationFromEnv reads a Go duration string from the environment, falling
// back to def when unset.
func durationFromEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a Go duration like '2m' or '90s' (got '%s')", key, raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive (got '%s')", key, raw)
	}
	return d, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"token_idle_ttl", cfg.TokenIdleTTL,
		"room_reconnect_ttl", cfg.RoomReconnectTTL,
		"room_max_age", cfg.RoomMaxAge,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
