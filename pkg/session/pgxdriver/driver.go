// Package pgxdriver is the PostgreSQL session driver, built on pgx. Bulk
// loads stream through COPY FROM STDIN BINARY.
package pgxdriver

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/bulk/pgcopy"
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

// Driver opens pgx connections from one parsed configuration.
type Driver struct {
	config *pgx.ConnConfig
	logger *zap.Logger
}

// New parses dsn (URL or keyword/value form).
func New(dsn string, log *zap.Logger) (*Driver, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, quarryerrors.Wrap(err, quarryerrors.ErrorTypeConfig, "failed to parse connection string")
	}
	if log == nil {
		log = logger.Get()
	}
	log = logger.Component(log, "pgx")
	cfg.Tracer = &queryTracer{logger: log}

	return &Driver{config: cfg, logger: log}, nil
}

func (d *Driver) Name() string {
	return "pgx"
}

// Capabilities: the PostgreSQL protocol has one active result per
// connection.
func (d *Driver) Capabilities() session.Capabilities {
	return session.Capabilities{MultipleActiveCursors: false, BulkLoad: true}
}

// Open dials a new connection
func (d *Driver) Open(ctx context.Context) (session.Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, d.config.Copy())
	if err != nil {
		return nil, err
	}
	d.logger.Debug("connected",
		zap.String("host", d.config.Host),
		zap.Uint16("port", d.config.Port),
		zap.String("database", d.config.Database),
		zap.Uint32("pid", conn.PgConn().PID()))
	return &Conn{conn: conn, logger: d.logger}, nil
}

// Conn wraps one *pgx.Conn.
type Conn struct {
	conn   *pgx.Conn
	logger *zap.Logger
}

// Raw exposes the underlying pgx connection
func (c *Conn) Raw() *pgx.Conn {
	return c.conn
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (session.Cursor, error) {
	return runQuery(ctx, c.conn, sql, args)
}

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return runExec(ctx, c.conn, sql, args)
}

func (c *Conn) Begin(ctx context.Context, iso session.IsolationLevel) (session.Tx, error) {
	tx, err := c.conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: TxIsoLevel(iso)})
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, conn: c}, nil
}

// Ping runs an empty statement, the same check pgxpool uses.
func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *Conn) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *Conn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func (c *Conn) BulkWriter(opts session.WriterOptions) (wire.RowWriter, error) {
	return pgcopy.NewWriter(c.conn.PgConn(), c.conn.TypeMap(), pgcopy.Options{
		FlushBytes: opts.FlushBytes,
		Logger:     c.logger,
	}), nil
}

// Tx wraps a pgx transaction. COPY inside it runs on the same connection
// and commits or rolls back with it.
type Tx struct {
	tx   pgx.Tx
	conn *Conn
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (session.Cursor, error) {
	return runQuery(ctx, t.tx, sql, args)
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return runExec(ctx, t.tx, sql, args)
}

func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *Tx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

func (t *Tx) BulkWriter(opts session.WriterOptions) (wire.RowWriter, error) {
	return t.conn.BulkWriter(opts)
}

// TxIsoLevel maps a session isolation level to pgx's
func TxIsoLevel(iso session.IsolationLevel) pgx.TxIsoLevel {
	switch iso {
	case session.IsolationReadUncommitted:
		return pgx.ReadUncommitted
	case session.IsolationReadCommitted:
		return pgx.ReadCommitted
	case session.IsolationRepeatableRead:
		return pgx.RepeatableRead
	case session.IsolationSerializable:
		return pgx.Serializable
	default:
		return ""
	}
}

type pgQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func runQuery(ctx context.Context, q pgQueryer, sql string, args []any) (session.Cursor, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return newCursor(rows), nil
}

func runExec(ctx context.Context, q pgQueryer, sql string, args []any) (int64, error) {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
