// Package config provides centralized configuration management for the
// catalog import service. Settings come from environment variables with
// defaults and are validated on startup.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Storage  StorageConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including running imports (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// RateLimit is requests per minute per client address; 0 disables (default: 120)
	RateLimit int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// Migrate applies the embedded schema on startup (default: true)
	Migrate bool `env:"DB_MIGRATE" default:"true"`
}

// ImportConfig holds catalog import settings.
type ImportConfig struct {
	// Workers is the number of rows imported concurrently (default: 4)
	Workers int `env:"IMPORT_WORKERS" default:"4"`

	// ProgressInterval is the number of rows between progress updates (default: 25)
	ProgressInterval int `env:"IMPORT_PROGRESS_INTERVAL" default:"25"`

	// TaxCategory names the tax category every product gets; empty uses the first one
	TaxCategory string `env:"IMPORT_TAX_CATEGORY"`

	// ShippingCategory names the shipping category every product gets; empty uses the first one
	ShippingCategory string `env:"IMPORT_SHIPPING_CATEGORY"`

	// ImageTimeout bounds a single image download (default: 30s)
	ImageTimeout time.Duration `env:"IMPORT_IMAGE_TIMEOUT" default:"30s"`

	// ImageMaxBytes caps a downloaded image (default: 20MB)
	ImageMaxBytes int64 `env:"IMPORT_IMAGE_MAX_BYTES" default:"20971520"`

	// Timeout bounds a whole import run (default: 2h)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"2h"`

	// MaxFileSize is the largest accepted catalog file in bytes (default: 100MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"104857600"`
}

// StorageConfig selects and configures the attachment store.
type StorageConfig struct {
	// Driver is "local" or "s3" (default: local)
	Driver string `env:"STORAGE_DRIVER" default:"local"`

	// Dir is the root directory of the local store (default: ./data/attachments)
	Dir string `env:"STORAGE_DIR" default:"./data/attachments"`

	Bucket   string `env:"STORAGE_BUCKET" envAlt:"S3_BUCKET"`
	Region   string `env:"STORAGE_REGION" envAlt:"AWS_REGION"`
	Endpoint string `env:"STORAGE_ENDPOINT"`
	Prefix   string `env:"STORAGE_PREFIX"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// APIKeys is a comma-separated list of accepted X-API-Key values
	APIKeys []string `env:"API_KEYS"`

	// RequireAPIKey rejects /api requests without a valid key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
