// Package sqldriver is a session driver over database/sql. It serves MySQL
// and SQLite (and PostgreSQL through pgx's stdlib adapter) with bulk loads
// as batched multi-row INSERT statements.
package sqldriver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync/atomic"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ajitpratap0/quarry/pkg/bulk/sqlcopy"
	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
	"github.com/ajitpratap0/quarry/pkg/session"
	"github.com/ajitpratap0/quarry/pkg/wire"
)

var (
	_ session.Driver   = (*Driver)(nil)
	_ session.Conn     = (*Conn)(nil)
	_ session.BulkConn = (*Conn)(nil)
	_ session.BulkConn = (*Tx)(nil)
)

// Config describes a database/sql data source.
type Config struct {
	// DriverName is the registered database/sql driver: "mysql", "sqlite" or "pgx"
	DriverName string
	DSN        string
	// MultipleActiveCursors must only be set for drivers that can interleave
	// result sets on one connection (SQLite can, MySQL cannot).
	MultipleActiveCursors bool
	Placeholder           sqlcopy.Placeholder
	// Quote is the identifier quote character
	Quote     byte
	BatchRows int
	MaxParams int
}

// Defaults returns the dialect settings for a database/sql driver name.
func Defaults(driverName, dsn string) Config {
	cfg := Config{DriverName: driverName, DSN: dsn, Placeholder: sqlcopy.Question, Quote: '"'}
	switch driverName {
	case "mysql":
		cfg.Quote = '`'
		cfg.MaxParams = 65535
	case "sqlite":
		cfg.MultipleActiveCursors = true
		cfg.MaxParams = 32766
	case "pgx", "postgres":
		cfg.DriverName = "pgx"
		cfg.Placeholder = sqlcopy.Dollar
		cfg.MaxParams = 65535
	}
	return cfg
}

// Driver hands out dedicated connections from a database/sql pool.
type Driver struct {
	db     *sql.DB
	cfg    Config
	logger *zap.Logger
}

// New opens the pool lazily; no connection is made until Open. The pool
// keeps no idle connections, so a session close is a physical close.
func New(cfg Config, log *zap.Logger) (*Driver, error) {
	db, err := sql.Open(cfg.DriverName, cfg.DSN)
	if err != nil {
		return nil, quarryerrors.Wrap(err, quarryerrors.ErrorTypeConfig, "failed to open database").
			WithDetail("driver", cfg.DriverName)
	}
	db.SetMaxIdleConns(0)
	return NewFromDB(db, cfg, log), nil
}

// NewFromDB wraps an existing pool. Its idle settings are left to the caller.
func NewFromDB(db *sql.DB, cfg Config, log *zap.Logger) *Driver {
	if cfg.Quote == 0 {
		cfg.Quote = '"'
	}
	return &Driver{db: db, cfg: cfg, logger: logger.Component(log, "sql")}
}

func (d *Driver) Name() string {
	return d.cfg.DriverName
}

func (d *Driver) Capabilities() session.Capabilities {
	return session.Capabilities{MultipleActiveCursors: d.cfg.MultipleActiveCursors, BulkLoad: true}
}

// Open reserves one connection from the pool for the session.
func (d *Driver) Open(ctx context.Context) (session.Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Conn{conn: conn, cfg: d.cfg, logger: d.logger}, nil
}

// Stats reports the pool's connection counts
func (d *Driver) Stats() sql.DBStats {
	return d.db.Stats()
}

// Close closes the underlying pool
func (d *Driver) Close() error {
	return d.db.Close()
}

// Conn is a dedicated *sql.Conn.
type Conn struct {
	conn   *sql.Conn
	cfg    Config
	logger *zap.Logger
	dead   atomic.Bool
}

// observe marks the connection dead on driver.ErrBadConn.
func (c *Conn) observe(err error) error {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		c.dead.Store(true)
	}
	return err
}

func (c *Conn) Query(ctx context.Context, query string, args ...any) (session.Cursor, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, c.observe(err)
	}
	return openCursor(rows)
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, c.observe(err)
	}
	return rowsAffected(res), nil
}

func (c *Conn) Begin(ctx context.Context, iso session.IsolationLevel) (session.Tx, error) {
	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{Isolation: SQLIsolation(iso)})
	if err != nil {
		return nil, c.observe(err)
	}
	return &Tx{tx: tx, conn: c}, nil
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.observe(c.conn.PingContext(ctx))
}

// IsClosed reports a connection closed by Close or one that returned a
// bad-connection error.
func (c *Conn) IsClosed() bool {
	return c.dead.Load()
}

// Close returns the connection to the pool. Pools opened by New keep no
// idle connections, so this closes the physical connection.
func (c *Conn) Close(context.Context) error {
	c.dead.Store(true)
	return c.conn.Close()
}

func (c *Conn) BulkWriter(opts session.WriterOptions) (wire.RowWriter, error) {
	return c.writer(c.conn, opts), nil
}

func (c *Conn) writer(db sqlcopy.Execer, opts session.WriterOptions) *sqlcopy.Writer {
	return sqlcopy.NewWriter(db, sqlcopy.Options{
		BatchRows:   firstPositive(opts.BatchRows, c.cfg.BatchRows),
		MaxParams:   c.cfg.MaxParams,
		Placeholder: c.cfg.Placeholder,
		Quote:       c.cfg.Quote,
		Logger:      c.logger,
	})
}

// Tx wraps a *sql.Tx on the session's connection.
type Tx struct {
	tx   *sql.Tx
	conn *Conn
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (session.Cursor, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, t.conn.observe(err)
	}
	return openCursor(rows)
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, t.conn.observe(err)
	}
	return rowsAffected(res), nil
}

func (t *Tx) Commit(context.Context) error {
	return t.conn.observe(t.tx.Commit())
}

func (t *Tx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return t.conn.observe(err)
}

// BulkWriter inserts inside the transaction
func (t *Tx) BulkWriter(opts session.WriterOptions) (wire.RowWriter, error) {
	return t.conn.writer(t.tx, opts), nil
}

// SQLIsolation maps a session isolation level to database/sql's
func SQLIsolation(iso session.IsolationLevel) sql.IsolationLevel {
	switch iso {
	case session.IsolationReadUncommitted:
		return sql.LevelReadUncommitted
	case session.IsolationReadCommitted:
		return sql.LevelReadCommitted
	case session.IsolationRepeatableRead:
		return sql.LevelRepeatableRead
	case session.IsolationSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return -1
	}
	return n
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
