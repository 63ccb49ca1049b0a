package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPublicPaths are served without authentication or rate limiting
var DefaultPublicPaths = []string{
	"/swagger-ui",
	"/swagger-ui.html",
	"/swagger-resources",
	"/v3/api-docs",
	"/webjars",
	"/health",
	"/actuator/health",
	"/error",
}

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port        string
	Env         string
	CORSEnabled bool

	// Gatekeeper
	APIKeys      string
	APIKeyHeader string
	PublicPaths  []string
	RateLimit    RateLimitConfig

	// Persistence
	DBDriver    string
	DatabaseURL string
	SQLitePath  string

	// Redis (optional admission statistics)
	RedisURL string

	// LLM provider
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration
	LLMMaxRPS  float64
}

// RateLimitConfig is the token bucket policy applied to every API key
type RateLimitConfig struct {
	Capacity            int64 `yaml:"capacity"`
	RefillTokens        int64 `yaml:"refill_tokens"`
	RefillPeriodSeconds int64 `yaml:"refill_period_seconds"`
	IdleTTLSeconds      int64 `yaml:"idle_ttl_seconds"`
}

// RefillPeriod returns the refill interval as a duration
func (r RateLimitConfig) RefillPeriod() time.Duration {
	return time.Duration(r.RefillPeriodSeconds) * time.Second
}

// IdleTTL returns how long an unused bucket is kept; zero disables eviction
func (r RateLimitConfig) IdleTTL() time.Duration {
	return time.Duration(r.IdleTTLSeconds) * time.Second
}

// fileConfig is the optional YAML overlay named by CONFIG_FILE
type fileConfig struct {
	APIKeyHeader string           `yaml:"api_key_header"`
	PublicPaths  []string         `yaml:"public_paths"`
	RateLimit    *RateLimitConfig `yaml:"rate_limit"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:         "8080",
		Env:          "development",
		CORSEnabled:  true,
		APIKeyHeader: "X-API-KEY",
		PublicPaths:  append([]string(nil), DefaultPublicPaths...),
		RateLimit: RateLimitConfig{
			Capacity:            100,
			RefillTokens:        100,
			RefillPeriodSeconds: 60,
		},
		DBDriver:   "sqlite",
		SQLitePath: "data/ragchat.db",
		LLMBaseURL: "https://api.groq.com/openai/v1",
		LLMModel:   "llama3-70b-8192",
		LLMTimeout: 30 * time.Second,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.CORSEnabled = getEnvBool("CORS_ENABLED", cfg.CORSEnabled)
	cfg.APIKeys = getEnv("APP_API_KEYS", "")
	cfg.APIKeyHeader = getEnv("API_KEY_HEADER", cfg.APIKeyHeader)
	cfg.RateLimit.Capacity = getEnvInt64("RATE_LIMIT_CAPACITY", cfg.RateLimit.Capacity)
	cfg.RateLimit.RefillTokens = getEnvInt64("RATE_LIMIT_REFILL_TOKENS", cfg.RateLimit.RefillTokens)
	cfg.RateLimit.RefillPeriodSeconds = getEnvInt64("RATE_LIMIT_REFILL_PERIOD_SECONDS", cfg.RateLimit.RefillPeriodSeconds)
	cfg.RateLimit.IdleTTLSeconds = getEnvInt64("RATE_LIMIT_IDLE_TTL_SECONDS", cfg.RateLimit.IdleTTLSeconds)
	cfg.DBDriver = strings.ToLower(getEnv("DB_DRIVER", cfg.DBDriver))
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.LLMBaseURL = getEnv("GROQ_API_URL", cfg.LLMBaseURL)
	cfg.LLMAPIKey = getEnv("GROQ_API_KEY", "")
	cfg.LLMModel = getEnv("GROQ_MODEL", cfg.LLMModel)
	cfg.LLMTimeout = time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", int(cfg.LLMTimeout/time.Second))) * time.Second
	cfg.LLMMaxRPS = getEnvFloat("LLM_MAX_RPS", 0)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values for consistency
func (c *Config) Validate() error {
	if c.RateLimit.Capacity < 1 {
		return fmt.Errorf("RATE_LIMIT_CAPACITY must be at least 1, got %d", c.RateLimit.Capacity)
	}
	if c.RateLimit.RefillTokens < 1 {
		return fmt.Errorf("RATE_LIMIT_REFILL_TOKENS must be at least 1, got %d", c.RateLimit.RefillTokens)
	}
	if c.RateLimit.RefillPeriodSeconds < 1 {
		return fmt.Errorf("RATE_LIMIT_REFILL_PERIOD_SECONDS must be at least 1, got %d", c.RateLimit.RefillPeriodSeconds)
	}
	if c.RateLimit.IdleTTLSeconds < 0 {
		return fmt.Errorf("RATE_LIMIT_IDLE_TTL_SECONDS cannot be negative")
	}
	if strings.TrimSpace(c.APIKeyHeader) == "" {
		return fmt.Errorf("API_KEY_HEADER cannot be empty")
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT_SECONDS must be positive")
	}

	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (expected sqlite or postgres)", c.DBDriver)
	}

	return nil
}

// applyFile overlays gatekeeper settings from a YAML file
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.APIKeyHeader != "" {
		c.APIKeyHeader = fc.APIKeyHeader
	}
	if len(fc.PublicPaths) > 0 {
		c.PublicPaths = fc.PublicPaths
	}
	if fc.RateLimit != nil {
		if fc.RateLimit.Capacity != 0 {
			c.RateLimit.Capacity = fc.RateLimit.Capacity
		}
		if fc.RateLimit.RefillTokens != 0 {
			c.RateLimit.RefillTokens = fc.RateLimit.RefillTokens
		}
		if fc.RateLimit.RefillPeriodSeconds != 0 {
			c.RateLimit.RefillPeriodSeconds = fc.RateLimit.RefillPeriodSeconds
		}
		c.RateLimit.IdleTTLSeconds = fc.RateLimit.IdleTTLSeconds
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
