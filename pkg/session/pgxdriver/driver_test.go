package pgxdriver

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quarry/pkg/bulk"
	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
	"github.com/ajitpratap0/quarry/pkg/query"
	"github.com/ajitpratap0/quarry/pkg/session"
	"github.com/ajitpratap0/quarry/pkg/testutil"
)

func TestNewRejectsBadDSN(t *testing.T) {
	_, err := New("postgres://user@host:notaport/db", testutil.TestLogger(t))
	require.Error(t, err)
	assert.True(t, quarryerrors.IsType(err, quarryerrors.ErrorTypeConfig))
}

func TestDriverIdentity(t *testing.T) {
	d, err := New("postgres://quarry@localhost:5432/quarry?sslmode=disable", testutil.TestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "pgx", d.Name())
	assert.Equal(t, session.Capabilities{MultipleActiveCursors: false, BulkLoad: true}, d.Capabilities())
	assert.NotNil(t, d.config.Tracer)
}

func TestOpenUnreachable(t *testing.T) {
	d, err := New("host=127.0.0.1 port=1 user=quarry dbname=quarry sslmode=disable connect_timeout=1", testutil.TestLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m := session.NewManager(d, session.Options{ReconnectCooldown: time.Minute, OpenImmediatelyAfterClose: true}, testutil.TestLogger(t))
	err = m.EnsureOpen(ctx)
	require.Error(t, err)
	assert.Equal(t, session.StateBroken, m.State())
}

func TestTxIsoLevel(t *testing.T) {
	tests := []struct {
		in   session.IsolationLevel
		want pgx.TxIsoLevel
	}{
		{session.IsolationDefault, ""},
		{session.IsolationReadUncommitted, pgx.ReadUncommitted},
		{session.IsolationReadCommitted, pgx.ReadCommitted},
		{session.IsolationRepeatableRead, pgx.RepeatableRead},
		{session.IsolationSerializable, pgx.Serializable},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, TxIsoLevel(tt.in))
		})
	}
}

type stubRows struct {
	fields []pgconn.FieldDescription
	data   [][]any
	pos    int
	err    error
	closed bool
}

func (r *stubRows) Close()                                       { r.closed = true }
func (r *stubRows) Err() error                                   { return r.err }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT 2") }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *stubRows) Values() ([]any, error) {
	return r.data[r.pos-1], nil
}

func (r *stubRows) Scan(dest ...any) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r.data[r.pos-1][i].(int64)
		case *string:
			*p = r.data[r.pos-1][i].(string)
		case *any:
			*p = r.data[r.pos-1][i]
		default:
			return errors.New("unsupported destination")
		}
	}
	return nil
}

func TestCursorAdaptsRows(t *testing.T) {
	rows := &stubRows{
		fields: []pgconn.FieldDescription{{Name: "id"}, {Name: "name"}},
		data:   [][]any{{int64(1), "ada"}, {int64(2), "grace"}},
	}
	cur := newCursor(rows)
	assert.Equal(t, []string{"id", "name"}, cur.Columns())

	type person struct {
		ID   int64
		Name string
	}
	mapper := query.Struct[person]()

	var got []person
	for cur.Next() {
		p, err := mapper(cur)
		require.NoError(t, err)
		got = append(got, p)
	}
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close())
	assert.True(t, rows.closed)
	assert.Equal(t, []person{{1, "ada"}, {2, "grace"}}, got)
}

func TestTracerWithoutStart(t *testing.T) {
	tr := &queryTracer{logger: testutil.TestLogger(t)}
	tr.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{})

	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	_, ok := ctx.Value(spanKey{}).(interface{ End(error) })
	assert.True(t, ok)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})
}

type event struct {
	ID     int64
	Kind   string
	Weight uint32
}

// TestPostgresRoundTrip needs QUARRY_PG_DSN pointing at a scratch database.
func TestPostgresRoundTrip(t *testing.T) {
	testutil.IntegrationTest(t)
	dsn := os.Getenv("QUARRY_PG_DSN")
	if dsn == "" {
		t.Skip("QUARRY_PG_DSN not set")
	}
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	d, err := New(dsn, testutil.TestLogger(t))
	require.NoError(t, err)
	m := session.NewManager(d, session.Options{}, testutil.TestLogger(t))
	defer m.Close(ctx)

	_, err = m.Begin(ctx, session.IsolationSerializable)
	require.NoError(t, err)
	_, err = m.Exec(ctx, "CREATE TEMP TABLE events (id bigint, kind text, weight bigint)")
	require.NoError(t, err)

	src := func(yield func(event) bool) {
		for i := range 100 {
			if !yield(event{ID: int64(i), Kind: "click", Weight: uint32(i * 10)}) {
				return
			}
		}
	}
	res, err := bulk.Copy(ctx, m, "events", src, bulk.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Rows)
	assert.Equal(t, int64(100), res.Accepted)

	total, err := query.New(m, query.Scalar[int64](), "SELECT sum(weight)::bigint FROM events WHERE kind = $1", "click").Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{49500}, total)

	require.NoError(t, m.Rollback(ctx))
}
