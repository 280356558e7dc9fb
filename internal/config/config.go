package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Storage
	DBPath      string        `envconfig:"DB_PATH" default:"codevault.db"`
	OpTimeout   time.Duration `envconfig:"OP_TIMEOUT" default:"10s"`
	ReadRetries int           `envconfig:"READ_RETRIES" default:"3"`

	// Maintenance runs a WAL checkpoint and refreshes the size gauge; 0 disables it.
	MaintenanceInterval time.Duration `envconfig:"MAINTENANCE_INTERVAL" default:"1h"`

	// Versioning
	VersionWindow time.Duration `envconfig:"VERSION_WINDOW" default:"2m"`

	// Session cache. The shared tier is enabled when REDIS_ADDR is set.
	SessionCacheSize int           `envconfig:"SESSION_CACHE_SIZE" default:"4096"`
	SessionCacheTTL  time.Duration `envconfig:"SESSION_CACHE_TTL" default:"30m"`
	RedisAddr        string        `envconfig:"REDIS_ADDR"`
	RedisPassword    string        `envconfig:"REDIS_PASSWORD"`
	RedisDB          int           `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix      string        `envconfig:"REDIS_PREFIX" default:"codevault:binding:"`

	// Tracing
	OTELExporter    string  `envconfig:"OTEL_EXPORTER" default:"none"` // none, stdout or otlp
	OTELEndpoint    string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELInsecure    bool    `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"false"`
	OTELSampleRatio float64 `envconfig:"OTEL_SAMPLE_RATIO" default:"1.0"`

	// API
	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:":8090"`
	AuthMode        string        `envconfig:"AUTH_MODE" default:"api-key"`
	APIKey          string        `envconfig:"API_KEY"`
	ReadOnlyKeys    string        `envconfig:"READONLY_API_KEYS"` // comma-separated
	RateLimitRPS    int           `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst  int           `envconfig:"RATE_LIMIT_BURST" default:"200"`
	CORSOrigins     string        `envconfig:"CORS_ORIGINS"`
	BodyLimitBytes  int           `envconfig:"BODY_LIMIT_BYTES" default:"16777216"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// RedisEnabled returns true if the shared session cache tier is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// CORSOriginList returns the parsed list of allowed CORS origins, or nil.
func (c *Config) CORSOriginList() []string {
	return splitList(c.CORSOrigins)
}

// ReadOnlyKeyList returns the API keys limited to read routes.
func (c *Config) ReadOnlyKeyList() []string {
	return splitList(c.ReadOnlyKeys)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case "none":
	case "api-key":
		if c.APIKey == "" {
			return fmt.Errorf("API_KEY is required when AUTH_MODE=api-key")
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q (want none or api-key)", c.AuthMode)
	}
	switch c.OTELExporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown OTEL_EXPORTER %q (want none, stdout or otlp)", c.OTELExporter)
	}
	if c.VersionWindow <= 0 {
		return fmt.Errorf("VERSION_WINDOW must be positive, got %s", c.VersionWindow)
	}
	if c.OpTimeout <= 0 {
		return fmt.Errorf("OP_TIMEOUT must be positive, got %s", c.OpTimeout)
	}
	if c.ReadRetries < 1 {
		return fmt.Errorf("READ_RETRIES must be at least 1, got %d", c.ReadRetries)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
