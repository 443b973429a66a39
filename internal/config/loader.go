package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value := os.Getenv(envName)
		if alt := field.Tag.Get("envAlt"); value == "" && alt != "" {
			value = os.Getenv(alt)
		}

		if value == "" {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := parseDuration(value)
			if err != nil {
				return err
			}
			field.Set(reflect.ValueOf(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// parseDuration accepts Go duration syntax or a bare integer number of seconds,
// so RETRY_BACKOFF_SECONDS=30 and RETRY_BACKOFF_SECONDS=30s mean the same thing.
func parseDuration(value string) (time.Duration, error) {
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %w", err)
	}
	return d, nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}

	p := c.Pipeline
	if p.QualityGateThreshold < 0 || p.QualityGateThreshold > 100 {
		errs = append(errs, fmt.Sprintf("QUALITY_GATE_THRESHOLD (%g) must be 0-100", p.QualityGateThreshold))
	}
	if p.MaxRetries < 0 {
		errs = append(errs, "MAX_RETRIES must be non-negative")
	}
	if p.RetryBackoff < 0 {
		errs = append(errs, "RETRY_BACKOFF_SECONDS must be non-negative")
	}
	if p.Workers <= 0 {
		errs = append(errs, "PIPELINE_WORKERS must be positive")
	}
	if p.DataDir == "" {
		errs = append(errs, "PIPELINE_DATA_DIR is required")
	}
	if _, err := time.Parse("15:04", p.ScheduleAt); err != nil {
		errs = append(errs, fmt.Sprintf("PIPELINE_SCHEDULE_AT (%q) must be HH:MM", p.ScheduleAt))
	}
	if p.RawRetentionDays <= 0 {
		errs = append(errs, "PIPELINE_RAW_RETENTION_DAYS must be positive")
	}

	if c.ObjectStore.Enabled {
		if c.ObjectStore.Endpoint == "" {
			errs = append(errs, "OBJECT_STORE_ENDPOINT is required when the object store is enabled")
		}
		if c.ObjectStore.AccessKey == "" || c.ObjectStore.SecretKey == "" {
			errs = append(errs, "OBJECT_STORE_ACCESS_KEY and OBJECT_STORE_SECRET_KEY are required when the object store is enabled")
		}
		if c.ObjectStore.Bucket == "" {
			errs = append(errs, "OBJECT_STORE_BUCKET is required when the object store is enabled")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.RequireAPIKey && len(c.Server.APIKeys) == 0 {
		errs = append(errs, "API_KEYS is required when REQUIRE_API_KEY is set")
	}

	g := c.Generate
	if g.Customers <= 0 || g.Products <= 0 || g.Transactions < 0 {
		errs = append(errs, "GENERATE_CUSTOMERS and GENERATE_PRODUCTS must be positive, GENERATE_TRANSACTIONS non-negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireDatabase reports an error when no connection string is configured.
// Dry runs use the in-memory store and skip this check.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// String returns a safe string representation of the config for logging.
// Connection strings and object store secrets are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Pipeline: {DataDir: %q, Gate: %g, ContinueOnQualityFailure: %v, MaxRetries: %d, RetryBackoff: %s}, ",
		c.Pipeline.DataDir, c.Pipeline.QualityGateThreshold, c.Pipeline.ContinueOnQualityFailure,
		c.Pipeline.MaxRetries, c.Pipeline.RetryBackoff)
	fmt.Fprintf(&b, "ObjectStore: {Enabled: %v, Endpoint: %q, Bucket: %q, SecretKey: [MASKED]}, ",
		c.ObjectStore.Enabled, c.ObjectStore.Endpoint, c.ObjectStore.Bucket)
	fmt.Fprintf(&b, "Server: {Addr: %q, RequireAPIKey: %v, APIKeys: [MASKED]}, ", c.Server.Addr(), c.Server.RequireAPIKey)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
