// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load layers defaults, an optional YAML file and ZIKIR_* env vars.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StoreBackend selects the counter store: memory, postgres or redis.
	StoreBackend string `koanf:"store_backend"`

	// DatabaseURL is the Postgres DSN used by the postgres backend and membership.
	DatabaseURL string `koanf:"database_url"`

	// MigrateOnStart applies the embedded schema before serving.
	MigrateOnStart bool `koanf:"migrate_on_start"`

	// RedisURL is used by the redis backend.
	RedisURL string `koanf:"redis_url"`

	// NATSURL enables the cross-instance relay when set.
	NATSURL string `koanf:"nats_url"`

	// NATSSubject carries room events between instances.
	NATSSubject string `koanf:"nats_subject"`

	// DispatchWorkers is the number of room-sharded broadcast workers.
	DispatchWorkers int `koanf:"dispatch_workers"`

	// DispatchQueueSize bounds each worker's pending room events.
	DispatchQueueSize int `koanf:"dispatch_queue_size"`

	// DayLocation is the IANA zone used to decide calendar days.
	DayLocation string `koanf:"day_location"`

	// MaxBulkCount caps the number of taps accepted in one bulk request.
	MaxBulkCount int `koanf:"max_bulk_count"`

	// DedupeSize bounds the in-memory offline id history (0 = unbounded).
	DedupeSize int `koanf:"dedupe_size"`

	// WSSendBuffer is the per-connection outbound buffer length.
	WSSendBuffer int `koanf:"ws_send_buffer"`

	// WSPingInterval, WSReadTimeout and WSWriteTimeout tune websocket keepalive.
	WSPingInterval time.Duration `koanf:"ws_ping_interval"`
	WSReadTimeout  time.Duration `koanf:"ws_read_timeout"`
	WSWriteTimeout time.Duration `koanf:"ws_write_timeout"`

	// CORSOrigins lists allowed browser origins; empty allows all.
	CORSOrigins []string `koanf:"cors_origins"`

	// MetricsEnabled turns Prometheus recording on; /metrics stays mounted
	// and serves an empty registry when it is off.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	// MetricsNode, when set, labels every metric with node=<value>.
	MetricsNode string `koanf:"metrics_node"`

	// MetricsRefresh is how often sampled gauges are refreshed.
	MetricsRefresh time.Duration `koanf:"metrics_refresh"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		StoreBackend:      BackendMemory,
		NATSSubject:       "zikir.room.events",
		DispatchWorkers:   runtime.NumCPU(),
		DispatchQueueSize: 1024,
		DayLocation:       "UTC",
		MaxBulkCount:      10_000,
		DedupeSize:        0,
		WSSendBuffer:      64,
		WSPingInterval:    30 * time.Second,
		WSReadTimeout:     60 * time.Second,
		WSWriteTimeout:    10 * time.Second,
		MetricsEnabled:    true,
		MetricsRefresh:    10 * time.Second,
	}
}

// Location resolves DayLocation.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.DayLocation)
	if err != nil {
		return nil, fmt.Errorf("%w: day_location %q: %v", ErrInvalidConfig, c.DayLocation, err)
	}
	return loc, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.MaxBulkCount < 1:
		return fmt.Errorf("%w: max_bulk_count must be positive", ErrInvalidConfig)
	case c.WSSendBuffer < 1:
		return fmt.Errorf("%w: ws_send_buffer must be positive", ErrInvalidConfig)
	case c.MetricsRefresh <= 0:
		return fmt.Errorf("%w: metrics_refresh must be positive", ErrInvalidConfig)
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: database_url is required for the postgres backend", ErrInvalidConfig)
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: redis_url is required for the redis backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_backend %q", ErrInvalidConfig, c.StoreBackend)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
