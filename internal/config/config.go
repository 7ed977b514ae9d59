package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the coach voice cache service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Synthesis endpoint configuration
	SynthesisURL     string  `envconfig:"SYNTHESIS_URL" required:"true"`
	SynthesisAPIKey  string  `envconfig:"SYNTHESIS_API_KEY" required:"true"`
	SynthesisVoice   string  `envconfig:"SYNTHESIS_VOICE" default:"coach-en"`
	SynthesisModel   string  `envconfig:"SYNTHESIS_MODEL" default:"studio-v2"`
	SynthesisSpeed   float64 `envconfig:"SYNTHESIS_SPEED" default:"1.0"`
	SynthesisTimeout int     `envconfig:"SYNTHESIS_TIMEOUT" default:"15"` // seconds, per request

	// Cache configuration
	CacheDir        string `envconfig:"CACHE_DIR" default:"./data/voicecache"`
	RefreshTTLHours int    `envconfig:"REFRESH_TTL_HOURS" default:"168"` // 7 days
	ForceRefresh    bool   `envconfig:"FORCE_REFRESH" default:"false"`   // treat cache as stale on launch
	WarmConcurrency int    `envconfig:"WARM_CONCURRENCY" default:"4"`    // concurrent synthesis requests per warm cycle

	// Connectivity probe configuration
	ProbeURL             string `envconfig:"PROBE_URL" default:""` // defaults to SYNTHESIS_URL when empty
	ProbeIntervalSeconds int    `envconfig:"PROBE_INTERVAL_SECONDS" default:"10"`
	ProbeTimeoutSeconds  int    `envconfig:"PROBE_TIMEOUT_SECONDS" default:"3"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Validate required fields
	if cfg.SynthesisURL == "" {
		return nil, fmt.Errorf("SYNTHESIS_URL is required")
	}
	if cfg.SynthesisAPIKey == "" {
		return nil, fmt.Errorf("SYNTHESIS_API_KEY is required")
	}
	if cfg.WarmConcurrency < 1 {
		return nil, fmt.Errorf("WARM_CONCURRENCY must be at least 1")
	}

	return &cfg, nil
}

// RefreshTTL returns the cache refresh TTL as a duration
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLHours) * time.Hour
}

// RequestTimeout returns the per-request synthesis timeout as a duration
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.SynthesisTimeout) * time.Second
}

// ProbeTarget returns the URL probed for connectivity checks
func (c *Config) ProbeTarget() string {
	if c.ProbeURL != "" {
		return c.ProbeURL
	}
	return c.SynthesisURL
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
