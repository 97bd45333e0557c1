// Package config provides the unified configuration system for Quarry.
// It defines a single BaseConfig structure shared by the session manager,
// the bulk transfer engine and the CLI.
//
// The configuration is organized into logical sections:
//   - Connection: driver name, DSN and driver capabilities
//   - Session: reconnect cooldown and transaction defaults
//   - Bulk: marshal strictness and writer buffering
//   - Timeouts: connect and query timeouts
//   - Observability: logging, metrics and tracing
//
// Example usage:
//
//	cfg := config.NewBaseConfig("orders")
//	cfg.Connection.DSN = "postgres://localhost/orders"
//	cfg.Session.ReconnectCooldown = 5 * time.Second
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// Supported driver names
const (
	DriverPgx    = "pgx"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// BaseConfig is the single unified configuration structure.
type BaseConfig struct {
	// Name identifies the session in logs and metrics
	Name string `yaml:"name" json:"name"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version"`

	Connection    ConnectionConfig    `yaml:"connection" json:"connection"`
	Session       SessionConfig       `yaml:"session" json:"session"`
	Bulk          BulkConfig          `yaml:"bulk" json:"bulk"`
	Timeouts      TimeoutConfig       `yaml:"timeouts" json:"timeouts"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ConnectionConfig selects the driver and the physical connection target.
type ConnectionConfig struct {
	// Driver is one of pgx, sqlite, mysql
	Driver string `yaml:"driver" json:"driver"`
	// DSN is passed to the driver untouched
	DSN string `yaml:"dsn" json:"dsn"`
	// MultipleActiveCursors declares that the database/sql driver can keep
	// several result sets open on one connection. Ignored for pgx.
	MultipleActiveCursors bool `yaml:"multiple_active_cursors" json:"multiple_active_cursors"`
	// Placeholder is the bind style for database/sql drivers: "dollar" or
	// "question". Empty uses the driver's own style.
	Placeholder string `yaml:"placeholder" json:"placeholder"`
}

// SessionConfig controls the connection lifecycle.
type SessionConfig struct {
	// ReconnectCooldown is the minimum wait before a connection that is not
	// open is (re)opened. Zero disables the cooldown.
	ReconnectCooldown time.Duration `yaml:"reconnect_cooldown" json:"reconnect_cooldown"`
	// OpenImmediatelyAfterClose limits the cooldown to broken connections
	OpenImmediatelyAfterClose bool `yaml:"open_immediately_after_close" json:"open_immediately_after_close"`
	// KeepOpenAfterCommit keeps the physical connection open after commit/rollback
	KeepOpenAfterCommit bool `yaml:"keep_open_after_commit" json:"keep_open_after_commit"`
	// Isolation is the default isolation level for Begin
	Isolation string `yaml:"isolation" json:"isolation"`
}

// BulkConfig controls bulk transfers.
type BulkConfig struct {
	// StrictMarshal fails plan compilation when a field has no wire type
	// instead of silently omitting it
	StrictMarshal bool `yaml:"strict_marshal" json:"strict_marshal"`
	// FlushBytes is the buffer size at which the COPY writer flushes
	FlushBytes int `yaml:"flush_bytes" json:"flush_bytes"`
	// InsertBatchRows is the number of rows per INSERT for database/sql targets
	InsertBatchRows int `yaml:"insert_batch_rows" json:"insert_batch_rows"`
	// Overrides forces a wire type per destination column, e.g. {"id": "int64"}
	Overrides map[string]string `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}

// TimeoutConfig contains all timeout-related settings.
type TimeoutConfig struct {
	// Connect bounds a single physical open
	Connect time.Duration `yaml:"connect" json:"connect"`
	// Query bounds CLI query execution; zero means no limit
	Query time.Duration `yaml:"query" json:"query"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding is json or console
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	// EnableMetrics activates Prometheus metrics collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// EnableTracing exports spans to stdout
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
}

// NewBaseConfig creates a new BaseConfig with sensible defaults.
func NewBaseConfig(name string) *BaseConfig {
	return &BaseConfig{
		Name:    name,
		Version: "1.0.0",
		Connection: ConnectionConfig{
			Driver: DriverPgx,
		},
		Session: SessionConfig{
			ReconnectCooldown: 0,
			Isolation:         "read_committed",
		},
		Bulk: BulkConfig{
			FlushBytes:      64 * 1024,
			InsertBatchRows: 500,
		},
		Timeouts: TimeoutConfig{
			Connect: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			LogEncoding:   "json",
			EnableMetrics: true,
		},
	}
}

// Validate validates the configuration for correctness.
func (bc *BaseConfig) Validate() error {
	if bc.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch bc.Connection.Driver {
	case DriverPgx, DriverSQLite, DriverMySQL:
	default:
		return fmt.Errorf("unsupported driver %q", bc.Connection.Driver)
	}
	switch bc.Connection.Placeholder {
	case "", "dollar", "question":
	default:
		return fmt.Errorf("placeholder must be dollar or question")
	}
	if bc.Session.ReconnectCooldown < 0 {
		return fmt.Errorf("reconnect_cooldown cannot be negative")
	}
	if bc.Bulk.FlushBytes <= 0 {
		return fmt.Errorf("flush_bytes must be positive")
	}
	if bc.Bulk.InsertBatchRows <= 0 {
		return fmt.Errorf("insert_batch_rows must be positive")
	}
	if bc.Timeouts.Connect < 0 || bc.Timeouts.Query < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	return nil
}
