package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/quarry/pkg/config"
)

// flagKeys binds command-line flags to config keys
var flagKeys = map[string]string{
	"connection.driver":            "driver",
	"connection.dsn":               "dsn",
	"observability.log_level":      "log-level",
	"observability.enable_tracing": "trace",
}

// loadConfig reads the YAML config (or defaults) and applies QUARRY_*
// environment variables and explicitly set flags on top.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func loadConfig(path string, flags *pflag.FlagSet) (*config.BaseConfig, error) {
	cfg := config.NewBaseConfig("quarry")
	if path != "" {
		loaded, err := config.LoadBase(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	v := viper.New()
	v.SetEnvPrefix("QUARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if v.IsSet("connection.driver") {
		cfg.Connection.Driver = v.GetString("connection.driver")
	}
	if v.IsSet("connection.dsn") {
		cfg.Connection.DSN = v.GetString("connection.dsn")
	}
	if v.IsSet("connection.placeholder") {
		cfg.Connection.Placeholder = v.GetString("connection.placeholder")
	}
	if v.IsSet("connection.multiple_active_cursors") {
		cfg.Connection.MultipleActiveCursors = v.GetBool("connection.multiple_active_cursors")
	}
	if v.IsSet("session.reconnect_cooldown") {
		cfg.Session.ReconnectCooldown = v.GetDuration("session.reconnect_cooldown")
	}
	if v.IsSet("timeouts.query") {
		cfg.Timeouts.Query = v.GetDuration("timeouts.query")
	}
	if v.IsSet("observability.log_level") {
		cfg.Observability.LogLevel = v.GetString("observability.log_level")
	}
	if v.IsSet("observability.enable_tracing") {
		cfg.Observability.EnableTracing = v.GetBool("observability.enable_tracing")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
