package main

import (
	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/bulk/sqlcopy"
	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/session"
	"github.com/ajitpratap0/quarry/pkg/session/pgxdriver"
	"github.com/ajitpratap0/quarry/pkg/session/sqldriver"
)

// openDriver builds the session driver named by the config. The returned
// function releases driver-level resources.
func openDriver(cfg *config.BaseConfig, log *zap.Logger) (session.Driver, func() error, error) {
	if cfg.Connection.Driver == config.DriverPgx {
		d, err := pgxdriver.New(cfg.Connection.DSN, log)
		if err != nil {
			return nil, nil, err
		}
		return d, func() error { return nil }, nil
	}

	sc := sqldriver.Defaults(cfg.Connection.Driver, cfg.Connection.DSN)
	sc.BatchRows = cfg.Bulk.InsertBatchRows
	if cfg.Connection.MultipleActiveCursors {
		sc.MultipleActiveCursors = true
	}
	if cfg.Connection.Placeholder != "" {
		p, err := sqlcopy.ParsePlaceholder(cfg.Connection.Placeholder)
		if err != nil {
			return nil, nil, err
		}
		sc.Placeholder = p
	}

	d, err := sqldriver.New(sc, log)
	if err != nil {
		return nil, nil, err
	}
	return d, d.Close, nil
}
