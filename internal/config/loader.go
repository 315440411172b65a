package config

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads configuration from environment variables, applies defaults and
// validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := populate(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// populate fills the tagged fields of each section struct. A field's value
// comes from its env variable, then envAlt, then default. Empty counts as
// unset.
func populate(v reflect.Value) error {
	for i := range v.NumField() {
		field, sf := v.Field(i), v.Type().Field(i)
		if sf.Type.Kind() == reflect.Struct {
			if err := populate(field); err != nil {
				return err
			}
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		raw := os.Getenv(name)
		if alt := sf.Tag.Get("envAlt"); raw == "" && alt != "" {
			raw = os.Getenv(alt)
		}
		if raw == "" && sf.Tag.Get("required") == "true" {
			return fmt.Errorf("required environment variable %s is not set", name)
		}
		if raw == "" {
			raw = sf.Tag.Get("default")
		}
		if raw == "" {
			continue
		}
		if err := parseInto(field, raw); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, raw, err)
		}
	}
	return nil
}

// parseInto covers the field types Config declares.
func parseInto(field reflect.Value, raw string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.String:
		field.SetString(raw)
	case field.Kind() == reflect.Int || field.Kind() == reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case field.Type() == reflect.TypeOf([]string(nil)):
		var list []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
		field.Set(reflect.ValueOf(list))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Database.URL != "", "DATABASE_URL is required")
	check(c.Database.MaxConns > 0, "DB_MAX_CONNS must be positive")
	check(c.Database.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
	check(c.Database.MaxConns >= c.Database.MinConns,
		"DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.Database.MaxConns, c.Database.MinConns)

	check(c.Server.Port > 0 && c.Server.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	check(c.Server.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	check(c.Server.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	check(c.Server.RateLimit >= 0, "RATE_LIMIT_REQUESTS_PER_MINUTE must be non-negative")

	check(c.Import.Workers > 0, "IMPORT_WORKERS must be positive")
	check(c.Import.ProgressInterval > 0, "IMPORT_PROGRESS_INTERVAL must be positive")
	check(c.Import.ImageTimeout > 0, "IMPORT_IMAGE_TIMEOUT must be positive")
	check(c.Import.ImageMaxBytes > 0, "IMPORT_IMAGE_MAX_BYTES must be positive")
	check(c.Import.Timeout > 0, "IMPORT_TIMEOUT must be positive")
	check(c.Import.MaxFileSize > 0, "IMPORT_MAX_FILE_SIZE must be positive")

	switch strings.ToLower(c.Storage.Driver) {
	case "local":
		check(c.Storage.Dir != "", "STORAGE_DIR is required for the local driver")
	case "s3":
		check(c.Storage.Bucket != "", "STORAGE_BUCKET is required for the s3 driver")
	default:
		check(false, "STORAGE_DRIVER (%q) must be one of: local, s3", c.Storage.Driver)
	}

	check(!c.Security.RequireAPIKey || len(c.Security.APIKeys) > 0,
		"REQUIRE_API_KEY is true but API_KEYS is empty")

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		check(false, "LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		check(false, "LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	if len(problems) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// LogValue renders the settings worth logging at startup. The database URL
// and API keys are left out.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("addr", c.Server.Addr()),
		slog.Int("rate_limit", c.Server.RateLimit),
		slog.Int("db_max_conns", c.Database.MaxConns),
		slog.Int("import_workers", c.Import.Workers),
		slog.Duration("import_timeout", c.Import.Timeout),
		slog.Int64("import_max_file_size", c.Import.MaxFileSize),
		slog.String("tax_category", c.Import.TaxCategory),
		slog.String("shipping_category", c.Import.ShippingCategory),
		slog.String("storage_driver", c.Storage.Driver),
		slog.Int("api_keys", len(c.Security.APIKeys)),
		slog.Bool("require_api_key", c.Security.RequireAPIKey),
		slog.String("log_level", c.Logging.Level),
	)
}
