package bulk_test

import (
	"context"
	"errors"
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quarry/pkg/bulk"
	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/marshal"
	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
	"github.com/ajitpratap0/quarry/pkg/session"
	"github.com/ajitpratap0/quarry/pkg/testutil"
	"github.com/ajitpratap0/quarry/pkg/wire"
)

type Reading struct {
	Sensor string
	Value  float64
	Status *int16
	Meta   map[string]string
}

type strictReading struct {
	Sensor string
	Meta   map[string]string
}

func readings(n int) []Reading {
	out := make([]Reading, n)
	for i := range out {
		out[i] = Reading{Sensor: "s" + string(rune('a'+i%26)), Value: float64(i)}
	}
	return out
}

func newTransfer(t *testing.T, opts bulk.Options) *bulk.Transfer[Reading] {
	t.Helper()
	tr, err := bulk.NewTransfer[Reading](opts, testutil.TestLogger(t))
	require.NoError(t, err)
	return tr
}

func TestRunFraming(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		ctx, cancel := testutil.TestContext(t)
		w := testutil.NewRecordingWriter()

		res, err := newTransfer(t, bulk.Options{}).Run(ctx, w, "readings", slices.Values(readings(n)))
		cancel()
		require.NoError(t, err)

		assert.Equal(t, n, w.Count(testutil.OpStartRow), "n=%d", n)
		assert.Equal(t, 1, w.Completed(), "exactly one complete, n=%d", n)
		assert.False(t, w.Aborted())
		assert.Equal(t, int64(n), res.Rows)
		assert.Equal(t, int64(n), res.Accepted)
		assert.Equal(t, "readings", res.Destination)

		calls := w.Calls()
		assert.Equal(t, testutil.OpBegin, calls[0].Op)
		assert.Equal(t, testutil.OpComplete, calls[len(calls)-1].Op)
	}
}

func TestRunAnnouncesPlanColumns(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	w := testutil.NewRecordingWriter()

	_, err := newTransfer(t, bulk.Options{}).Run(ctx, w, "readings", slices.Values(readings(1)))
	require.NoError(t, err)

	assert.Equal(t, "readings", w.Destination())
	assert.Equal(t, []wire.Column{
		{Name: "sensor", Type: wire.Text},
		{Name: "value", Type: wire.Float64},
		{Name: "status", Type: wire.Int16, Nullable: true},
	}, w.Columns())
	assert.True(t, w.Rows()[0][2].Null)
}

func TestRunSourceRangedOnce(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	ranged := 0
	src := func(yield func(Reading) bool) {
		ranged++
		for _, r := range readings(3) {
			if !yield(r) {
				return
			}
		}
	}
	_, err := newTransfer(t, bulk.Options{}).Run(ctx, testutil.NewRecordingWriter(), "r", src)
	require.NoError(t, err)
	assert.Equal(t, 1, ranged)
}

func TestRunErrSourceFailureAborts(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	w := testutil.NewRecordingWriter()
	boom := errors.New("upstream closed")

	src := func(yield func(Reading, error) bool) {
		if !yield(Reading{Sensor: "a"}, nil) {
			return
		}
		yield(Reading{}, boom)
	}

	res, err := newTransfer(t, bulk.Options{}).RunErr(ctx, w, "r", iter.Seq2[Reading, error](src))
	require.Error(t, err)
	assert.True(t, quarryerrors.IsType(err, quarryerrors.ErrorTypeTransferAborted))
	assert.ErrorIs(t, err, boom)
	assert.True(t, w.Aborted())
	assert.ErrorIs(t, w.AbortCause(), boom)
	assert.Zero(t, w.Completed())
	assert.Equal(t, int64(1), res.Rows)
}

func TestRunWriterFailureAborts(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	w := testutil.NewRecordingWriter()
	w.FailOn = func(call testutil.Call, row int) error {
		if call.Op == testutil.OpWrite && row == 2 {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := newTransfer(t, bulk.Options{}).Run(ctx, w, "r", slices.Values(readings(5)))
	require.Error(t, err)
	assert.True(t, quarryerrors.HasType(err, quarryerrors.ErrorTypeTransferAborted))
	assert.True(t, w.Aborted())
	assert.Zero(t, w.Completed())
	assert.Equal(t, 2, w.Count(testutil.OpStartRow))
}

func TestRunCompleteFailureAborts(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	w := testutil.NewRecordingWriter()
	w.FailOn = func(call testutil.Call, _ int) error {
		if call.Op == testutil.OpComplete {
			return errors.New("constraint violation")
		}
		return nil
	}

	_, err := newTransfer(t, bulk.Options{}).Run(ctx, w, "r", slices.Values(readings(2)))
	require.Error(t, err)
	assert.True(t, quarryerrors.IsType(err, quarryerrors.ErrorTypeTransferAborted))
	assert.True(t, w.Aborted())
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := testutil.NewRecordingWriter()

	src := func(yield func(Reading) bool) {
		for i, r := range readings(10) {
			if i == 3 {
				cancel()
			}
			if !yield(r) {
				return
			}
		}
	}

	res, err := newTransfer(t, bulk.Options{}).Run(ctx, w, "r", src)
	require.Error(t, err)
	assert.True(t, quarryerrors.IsType(err, quarryerrors.ErrorTypeCancelled))
	assert.True(t, w.Aborted())
	assert.Equal(t, int64(3), res.Rows)

	_, err = newTransfer(t, bulk.Options{}).Run(ctx, testutil.NewRecordingWriter(), "r", slices.Values(readings(1)))
	assert.True(t, quarryerrors.IsType(err, quarryerrors.ErrorTypeCancelled), "cancelled before start")
}

func TestRunMappingsStayInLockstep(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	w := testutil.NewRecordingWriter()

	tr := newTransfer(t, bulk.Options{
		Mappings: []marshal.Mapping{
			{Source: "value", Destination: "reading"},
			{Source: "Sensor", Destination: "sensor_id"},
		},
		Settings: wire.Settings{"reading": wire.Float32},
	})
	_, err := tr.Run(ctx, w, "r", slices.Values([]Reading{{Sensor: "x", Value: 2.5}}))
	require.NoError(t, err)

	assert.Equal(t, []wire.Column{
		{Name: "reading", Type: wire.Float32},
		{Name: "sensor_id", Type: wire.Text},
	}, w.Columns())
	row := w.Rows()[0]
	require.Len(t, row, 2)
	assert.Equal(t, 2.5, row[0].Value)
	assert.Equal(t, wire.Float32, row[0].Type)
	assert.Equal(t, "x", row[1].Value)
}

func TestNewTransferErrors(t *testing.T) {
	_, err := bulk.NewTransfer[strictReading](bulk.Options{Strict: true}, nil)
	require.Error(t, err)
	assert.True(t, quarryerrors.IsType(err, quarryerrors.ErrorTypeUnsupportedField))

	_, err = bulk.NewTransfer[strictReading](bulk.Options{}, nil)
	require.NoError(t, err)

	_, err = bulk.NewTransfer[Reading](bulk.Options{Mappings: []marshal.Mapping{{Source: "nope"}}}, nil)
	assert.True(t, quarryerrors.IsType(err, quarryerrors.ErrorTypeValidation))
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.NewBaseConfig("load")
	cfg.Bulk.StrictMarshal = true
	cfg.Bulk.Overrides = map[string]string{"value": "float32"}

	opts, err := bulk.OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.True(t, opts.Strict)
	assert.Equal(t, wire.Float32, opts.Settings["value"])
	assert.Equal(t, 64*1024, opts.Writer.FlushBytes)
	assert.Equal(t, 500, opts.Writer.BatchRows)

	cfg.Bulk.Overrides = map[string]string{"value": "money"}
	_, err = bulk.OptionsFromConfig(cfg)
	assert.True(t, quarryerrors.IsType(err, quarryerrors.ErrorTypeConfig))
}

func TestCopyThroughSession(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	drv := testutil.NewFakeDriver()
	mgr := session.NewManager(drv, session.Options{}, testutil.TestLogger(t))

	res, err := bulk.Copy(ctx, mgr, "readings", slices.Values(readings(4)), bulk.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Rows)
	assert.Equal(t, 1, drv.Writer().Completed())
	assert.Equal(t, 0, mgr.Outstanding())
	assert.Equal(t, session.StateClosed, mgr.State(), "lease released and connection auto-closed")
}

func TestCopyInsideTransaction(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	drv := testutil.NewFakeDriver()
	mgr := session.NewManager(drv, session.Options{}, testutil.TestLogger(t))

	_, err := mgr.Begin(ctx, session.IsolationDefault)
	require.NoError(t, err)
	_, err = bulk.Copy(ctx, mgr, "readings", slices.Values(readings(2)), bulk.Options{})
	require.NoError(t, err)
	assert.Equal(t, session.StateOpen, mgr.State())

	require.NoError(t, mgr.Commit(ctx))
	assert.Equal(t, session.StateClosed, mgr.State())
}

func TestCopyWithoutBulkSupport(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	mgr := session.NewManager(noBulkDriver{testutil.NewFakeDriver()}, session.Options{}, nil)

	_, err := bulk.Copy(ctx, mgr, "readings", slices.Values(readings(1)), bulk.Options{})
	require.Error(t, err)
	assert.True(t, quarryerrors.IsType(err, quarryerrors.ErrorTypeCapability))
	assert.Equal(t, 0, mgr.Outstanding())
}

// noBulkDriver hides the fake connection's BulkWriter
type noBulkDriver struct {
	*testutil.FakeDriver
}

type plainConn struct {
	session.Conn
}

func (d noBulkDriver) Open(ctx context.Context) (session.Conn, error) {
	c, err := d.FakeDriver.Open(ctx)
	if err != nil {
		return nil, err
	}
	return plainConn{c}, nil
}

func TestTransferThroughput(t *testing.T) {
	testutil.IntegrationTest(t)
	src := readings(20000)
	tr := newTransfer(t, bulk.Options{})

	testutil.NewPerformanceTest(t, "recording transfer").
		WithThroughputTarget(10000).
		WithLatencyTarget(time.Millisecond).
		Run(func() (int64, time.Duration) {
			ctx, cancel := testutil.TestContext(t)
			defer cancel()
			res, err := tr.Run(ctx, testutil.NewRecordingWriter(), "r", slices.Values(src))
			require.NoError(t, err)
			return res.Rows, res.Duration
		})
}
