package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Upstream
	ARMBaseURL          string // default: https://management.azure.com
	DefaultSubscription string // used when the caller omits ?subscriptionId
	CostQueryType       string // "ActualCost" or "Usage"
	QueryCatalogFile    string // optional YAML overrides for query variants
	DNSCacheTTL         time.Duration
	MockMode            bool

	// Rate Limiting (disabled when RedisAddr is empty)
	RedisAddr          string
	RateLimitPerMinute int64 // requests per caller per minute, default: 60

	// Observability
	OTELExporterType     string // "none", "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
	LogLevel             string
	LogFormat            string
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		ARMBaseURL:           strings.TrimRight(getEnv("ARM_BASE_URL", "https://management.azure.com"), "/"),
		DefaultSubscription:  strings.TrimSpace(os.Getenv("AZURE_SUBSCRIPTION_ID")),
		CostQueryType:        getEnv("COST_QUERY_TYPE", "ActualCost"),
		QueryCatalogFile:     os.Getenv("QUERY_CATALOG_FILE"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "none"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "auto"),
	}

	rpm, err := strconv.ParseInt(getEnv("RATE_LIMIT_RPM", "60"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPM: %w", err)
	}
	if rpm <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_RPM must be positive, got %d", rpm)
	}
	cfg.RateLimitPerMinute = rpm

	ttl, err := time.ParseDuration(getEnv("DNS_CACHE_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DNS_CACHE_TTL: %w", err)
	}
	cfg.DNSCacheTTL = ttl

	mock, err := strconv.ParseBool(getEnv("RELAY_MOCK_MODE", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_MOCK_MODE: %w", err)
	}
	cfg.MockMode = mock

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.ARMBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("ARM_BASE_URL must be an absolute URL, got %q", c.ARMBaseURL)
	}

	switch c.CostQueryType {
	case "ActualCost", "Usage":
	default:
		return fmt.Errorf("COST_QUERY_TYPE must be ActualCost or Usage, got %q", c.CostQueryType)
	}

	if c.DefaultSubscription != "" {
		if _, err := uuid.Parse(c.DefaultSubscription); err != nil {
			return fmt.Errorf("AZURE_SUBSCRIPTION_ID is not a valid subscription id: %w", err)
		}
	}

	switch c.OTELExporterType {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("OTEL_EXPORTER_TYPE must be none, stdout or otlp, got %q", c.OTELExporterType)
	}

	return nil
}

// RateLimitEnabled reports whether a Redis backend was configured.
func (c *Config) RateLimitEnabled() bool {
	return c.RedisAddr != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
