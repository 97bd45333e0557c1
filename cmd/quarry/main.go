package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/metrics"
	"github.com/ajitpratap0/quarry/pkg/observability"
	"github.com/ajitpratap0/quarry/pkg/query"
	"github.com/ajitpratap0/quarry/pkg/session"
)

var version = "0.1.0"

// app is the state shared by commands after config loading
type app struct {
	cfg      *config.BaseConfig
	log      *zap.Logger
	mgr      *session.Manager
	shutdown []func() error
}

func main() {
	var configFile string

	root := &cobra.Command{
		Use:   "quarry",
		Short: "Quarry - streaming queries and bulk loads over one shared connection",
		Long: `Quarry runs SQL queries as streams of typed rows and loads Go values
through the database's bulk protocol, sharing one connection between
concurrent operations.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file")
	root.PersistentFlags().String("driver", config.DriverPgx, "Driver: pgx, mysql or sqlite")
	root.PersistentFlags().String("dsn", "", "Data source name")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("trace", false, "Export spans to stderr")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Quarry v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Open a connection and report the session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, configFile)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if err := a.mgr.EnsureOpen(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", a.mgr.Name(), a.mgr.State())
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:     "query SQL [ARGS...]",
		Short:   "Run a query and print rows as JSON lines",
		Example: `  quarry query --driver sqlite --dsn app.db "SELECT * FROM events WHERE kind = ?" click`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, configFile)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			ctx := cmd.Context()
			if a.cfg.Timeouts.Query > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeouts.Query)
				defer cancel()
			}

			queryArgs := make([]any, len(args)-1)
			for i, arg := range args[1:] {
				queryArgs[i] = arg
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			n := 0
			for row, err := range query.New(a.mgr, query.Map(), args[0], queryArgs...).WithLabel("cli query").All(ctx) {
				if err != nil {
					return err
				}
				if err := enc.Encode(row); err != nil {
					return err
				}
				n++
			}
			a.log.Debug("query finished", zap.Int("rows", n))
			return nil
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// setup loads config and builds the logger, tracer and session manager.
func setup(cmd *cobra.Command, configFile string) (*app, error) {
	cfg, err := loadConfig(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Encoding:    cfg.Observability.LogEncoding,
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return nil, err
	}
	log := logger.Get()
	metrics.SetEnabled(cfg.Observability.EnableMetrics)

	a := &app{cfg: cfg, log: log}
	if cfg.Observability.EnableTracing {
		shutdown, err := observability.InitTracing(observability.TracingConfig{
			ServiceName: cfg.Name,
			Writer:      os.Stderr,
		})
		if err != nil {
			return nil, err
		}
		a.shutdown = append(a.shutdown, func() error { return shutdown(context.Background()) })
	}

	drv, closeDriver, err := openDriver(cfg, log)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	a.shutdown = append(a.shutdown, closeDriver)

	opts, err := session.OptionsFromConfig(cfg)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	// A single command has no earlier disconnect to wait out.
	opts.OpenImmediatelyAfterClose = true
	a.mgr = session.NewManager(drv, opts, log)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.mgr != nil {
		if err := a.mgr.Close(ctx); err != nil {
			a.log.Warn("failed to close session", zap.Error(err))
		}
	}
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](); err != nil {
			a.log.Warn("shutdown failed", zap.Error(err))
		}
	}
	_ = logger.Sync()
}
