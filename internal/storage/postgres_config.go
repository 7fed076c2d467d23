package storage

import (
	"log/slog"
	"time"
)

// PostgresConfig describes how the repository initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
	// Clock is injectable for tests; defaults to time.Now in UTC.
	Clock func() time.Time
	// Logger receives background maintenance warnings.
	Logger *slog.Logger
}

func (cfg *PostgresConfig) normalize() {
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}
