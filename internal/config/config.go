// Package config provides centralized configuration for the pipeline.
// Settings come from environment variables with defaults and are validated
// once on startup, so a misconfigured deployment fails before touching data.
// Data-quality rules live in a separate YAML document (see rules.go).
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database    DatabaseConfig
	Logging     LoggingConfig
	Pipeline    PipelineConfig
	ObjectStore ObjectStoreConfig
	Server      ServerConfig
	Generate    GenerateConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required unless running dry).
	// Supports both DATABASE_URL and DB_URL env vars.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// PipelineConfig holds controller, gate and retry settings.
type PipelineConfig struct {
	// DataDir is the root for raw CSVs and local report output (default: data)
	DataDir string `env:"PIPELINE_DATA_DIR" default:"data"`

	// RulesFile is an optional YAML rule configuration; built-in rules apply when empty.
	RulesFile string `env:"PIPELINE_RULES_FILE"`

	// QualityGateThreshold is the minimum per-entity score to pass the gate (default: 70)
	QualityGateThreshold float64 `env:"QUALITY_GATE_THRESHOLD" default:"70"`

	// ContinueOnQualityFailure lets the run proceed past a failed gate (default: false)
	ContinueOnQualityFailure bool `env:"CONTINUE_ON_QUALITY_FAILURE" default:"false"`

	// MaxRetries is the number of retries for transient store errors (default: 3)
	MaxRetries int `env:"MAX_RETRIES" default:"3"`

	// RetryBackoff is the fixed wait between retries (default: 30s)
	RetryBackoff time.Duration `env:"RETRY_BACKOFF_SECONDS" default:"30s"`

	// Workers bounds per-stage parallelism (default: 4)
	Workers int `env:"PIPELINE_WORKERS" default:"4"`

	// Generate controls whether the generate stage produces synthetic CSVs (default: true)
	Generate bool `env:"PIPELINE_GENERATE" default:"true"`

	// ScheduleAt is the daily run time in HH:MM, UTC (default: 02:00)
	ScheduleAt string `env:"PIPELINE_SCHEDULE_AT" default:"02:00"`

	// RawRetentionDays is how long raw CSVs are kept (default: 30)
	RawRetentionDays int `env:"PIPELINE_RAW_RETENTION_DAYS" default:"30"`
}

// ObjectStoreConfig holds the S3-compatible sink for quality and run reports.
type ObjectStoreConfig struct {
	// Enabled turns the MinIO sink on; reports always go to DataDir/reports too.
	Enabled bool `env:"OBJECT_STORE_ENABLED" default:"false"`

	Endpoint  string `env:"OBJECT_STORE_ENDPOINT" default:"localhost:9000"`
	AccessKey string `env:"OBJECT_STORE_ACCESS_KEY"`
	SecretKey string `env:"OBJECT_STORE_SECRET_KEY"`
	Region    string `env:"OBJECT_STORE_REGION" default:"us-east-1"`
	Bucket    string `env:"OBJECT_STORE_BUCKET" default:"ecompipe-reports"`
	UseSSL    bool   `env:"OBJECT_STORE_USE_SSL" default:"false"`
}

// ServerConfig holds status API settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// TrustedProxies lists CIDRs whose X-Real-IP / X-Forwarded-For headers are honored.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey guards POST /api/runs with the X-API-Key header (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys are the accepted X-API-Key values, comma-separated.
	APIKeys []string `env:"API_KEYS"`
}

// GenerateConfig sizes the synthetic fixture set.
type GenerateConfig struct {
	Customers    int   `env:"GENERATE_CUSTOMERS" default:"1000"`
	Products     int   `env:"GENERATE_PRODUCTS" default:"500"`
	Transactions int   `env:"GENERATE_TRANSACTIONS" default:"10000"`
	Seed         int64 `env:"GENERATE_SEED" default:"42"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
