package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/session/sqldriver"
	"github.com/ajitpratap0/quarry/pkg/testutil"
)

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("quarry", pflag.ContinueOnError)
	fs.String("driver", config.DriverPgx, "")
	fs.String("dsn", "", "")
	fs.String("log-level", "info", "")
	fs.Bool("trace", false, "")
	return fs
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("", testFlags())
	require.NoError(t, err)
	assert.Equal(t, config.DriverPgx, cfg.Connection.Driver)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.False(t, cfg.Observability.EnableTracing)
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: reporting
connection:
  driver: mysql
  dsn: file-dsn
session:
  reconnect_cooldown: 5s
bulk:
  flush_bytes: 1024
  insert_batch_rows: 50
observability:
  log_level: warn
`), 0o600))

	t.Setenv("QUARRY_CONNECTION_DSN", "env-dsn")
	t.Setenv("QUARRY_SESSION_RECONNECT_COOLDOWN", "30s")

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--driver", "sqlite", "--trace"}))

	cfg, err := loadConfig(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "reporting", cfg.Name)
	assert.Equal(t, config.DriverSQLite, cfg.Connection.Driver, "flag beats file")
	assert.Equal(t, "env-dsn", cfg.Connection.DSN, "env beats file")
	assert.Equal(t, 30*time.Second, cfg.Session.ReconnectCooldown)
	assert.Equal(t, "warn", cfg.Observability.LogLevel, "unset flag keeps the file value")
	assert.True(t, cfg.Observability.EnableTracing)
	assert.Equal(t, 50, cfg.Bulk.InsertBatchRows)
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--driver", "oracle"}))
	_, err := loadConfig("", fs)
	assert.Error(t, err)
}

func TestOpenDriver(t *testing.T) {
	log := testutil.TestLogger(t)

	cfg := config.NewBaseConfig("quarry")
	cfg.Connection.DSN = "postgres://quarry@localhost/quarry"
	d, closeFn, err := openDriver(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, "pgx", d.Name())
	assert.NoError(t, closeFn())

	cfg.Connection.Driver = config.DriverSQLite
	cfg.Connection.DSN = filepath.Join(t.TempDir(), "cli.db")
	d, closeFn, err = openDriver(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())
	assert.True(t, d.Capabilities().MultipleActiveCursors)
	_, ok := d.(*sqldriver.Driver)
	assert.True(t, ok)
	assert.NoError(t, closeFn())

	cfg.Connection.Driver = config.DriverMySQL
	cfg.Connection.Placeholder = "colon"
	_, _, err = openDriver(cfg, log)
	assert.Error(t, err)
}
