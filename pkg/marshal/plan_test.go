package marshal_test

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quarry/pkg/marshal"
	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
	"github.com/ajitpratap0/quarry/pkg/testutil"
	"github.com/ajitpratap0/quarry/pkg/wire"
)

type Level int16

type Audit struct {
	CreatedAt time.Time
	CreatedBy string
}

type order struct {
	ID       uuid.UUID
	Customer string `db:"customer_name"`
	Total    float64
	Notes    map[string]string
	Internal string `db:"-"`
	secret   string
}

type sample struct {
	Count *int32
	Level Level
	Tags  []string
}

type allKinds struct {
	Audit
	ID       int64
	Nick     *string
	Level    Level
	MaybeLvl *Level
	Scores   [3]float64
	Elapsed  time.Duration
	Ref      uuid.UUID
	Nested   struct{ X int }
}

type empty struct{}

type onlyUnsupported struct {
	Ch chan int
	Fn func()
}

func TestCompileOmitsUnsupportedFields(t *testing.T) {
	plan := marshal.Compile[order]()

	assert.Equal(t, []string{"id", "customer_name", "total"}, plan.Names())
	assert.Equal(t, []string{"Notes"}, plan.Omitted())

	cols := plan.WireColumns(nil)
	require.Len(t, cols, 3)
	assert.Equal(t, wire.Column{Name: "id", Type: wire.UUID}, cols[0])
	assert.Equal(t, wire.Column{Name: "customer_name", Type: wire.Text}, cols[1])
	assert.Equal(t, wire.Column{Name: "total", Type: wire.Float64}, cols[2])
}

func TestCompileStrict(t *testing.T) {
	_, err := marshal.CompileMode[order](marshal.Strict)
	require.Error(t, err)
	assert.True(t, quarryerrors.IsType(err, quarryerrors.ErrorTypeUnsupportedField))

	plan, err := marshal.CompileMode[sample](marshal.Strict)
	require.NoError(t, err)
	assert.Equal(t, 3, plan.Len())

	lenient, err := marshal.CompileMode[order](marshal.Lenient)
	require.NoError(t, err)
	assert.Same(t, marshal.Compile[order](), lenient)
}

func TestCompileIsCached(t *testing.T) {
	first := marshal.Compile[sample]()
	second := marshal.Compile[sample]()
	assert.Same(t, first, second)
}

type raced struct {
	A int64
	B string
}

func TestCompileConcurrentFirstUse(t *testing.T) {
	const workers = 32
	plans := make([]*marshal.Plan[raced], workers)

	var start, done sync.WaitGroup
	start.Add(1)
	for i := range workers {
		done.Add(1)
		go func() {
			defer done.Done()
			start.Wait()
			plans[i] = marshal.Compile[raced]()
		}()
	}
	start.Done()
	done.Wait()

	for _, p := range plans {
		assert.Same(t, plans[0], p)
	}
}

func TestEmptyPlans(t *testing.T) {
	w := testutil.NewRecordingWriter()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	plan := marshal.Compile[empty]()
	assert.Equal(t, 0, plan.Len())
	require.NoError(t, w.Begin(ctx, "t", plan.WireColumns(nil)))
	require.NoError(t, w.StartRow())
	require.NoError(t, plan.WriteRow(w, &empty{}))
	assert.Equal(t, 0, w.Count(testutil.OpWrite)+w.Count(testutil.OpNull))

	unsupported := marshal.Compile[onlyUnsupported]()
	assert.Equal(t, 0, unsupported.Len())
	assert.Equal(t, []string{"Ch", "Fn"}, unsupported.Omitted())

	scalar := marshal.Compile[int]()
	assert.Equal(t, 0, scalar.Len())
}

func writeOne[T any](t *testing.T, plan *marshal.Plan[T], rec *T, settings wire.Settings) []testutil.Cell {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	w := testutil.NewRecordingWriter()
	require.NoError(t, w.Begin(ctx, "dest", plan.WireColumns(settings)))
	require.NoError(t, w.StartRow())
	require.NoError(t, plan.WriteRowWith(w, rec, settings))
	_, err := w.Complete()
	require.NoError(t, err)

	rows := w.Rows()
	require.Len(t, rows, 1)
	return rows[0]
}

func TestWriteRowNullable(t *testing.T) {
	plan := marshal.Compile[sample]()

	cells := writeOne(t, plan, &sample{Level: 2}, nil)
	require.Len(t, cells, 3)
	assert.True(t, cells[0].Null, "nil pointer writes null")
	assert.Equal(t, int16(2), cells[1].Value, "enum writes its integer")
	assert.Equal(t, wire.Int16, cells[1].Type)
	assert.True(t, cells[2].Null, "nil slice writes null")

	five := int32(5)
	cells = writeOne(t, plan, &sample{Count: &five, Tags: []string{"a", "b"}}, nil)
	assert.False(t, cells[0].Null)
	assert.Equal(t, int32(5), cells[0].Value)
	assert.Equal(t, []string{"a", "b"}, cells[2].Value)
	assert.Equal(t, wire.ArrayOf(wire.Text), cells[2].Type)
}

func TestWriteRowAllKinds(t *testing.T) {
	plan := marshal.Compile[allKinds]()
	assert.Equal(t,
		[]string{"created_at", "created_by", "id", "nick", "level", "maybe_lvl", "scores", "elapsed", "ref"},
		plan.Names())
	assert.Equal(t, []string{"Nested"}, plan.Omitted())

	cols := plan.Columns()
	assert.Equal(t, "Audit.CreatedAt", cols[0].Field)
	assert.Equal(t, wire.KindNullableEnum, cols[5].Kind)
	assert.True(t, cols[5].Nullable)
	assert.Equal(t, wire.KindArray, cols[6].Kind)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	lvl := Level(7)
	ref := uuid.New()
	rec := &allKinds{
		Audit:    Audit{CreatedAt: now, CreatedBy: "ops"},
		ID:       42,
		Level:    3,
		MaybeLvl: &lvl,
		Scores:   [3]float64{1, 2, 3},
		Elapsed:  90 * time.Second,
		Ref:      ref,
	}
	cells := writeOne(t, plan, rec, nil)
	require.Len(t, cells, 9)

	assert.Equal(t, now, cells[0].Value)
	assert.Equal(t, "ops", cells[1].Value)
	assert.Equal(t, int64(42), cells[2].Value)
	assert.True(t, cells[3].Null)
	assert.Equal(t, int16(3), cells[4].Value)
	assert.Equal(t, int16(7), cells[5].Value)
	assert.Equal(t, []float64{1, 2, 3}, cells[6].Value)
	assert.Equal(t, 90*time.Second, cells[7].Value)
	assert.Equal(t, wire.Duration, cells[7].Type)
	assert.Equal(t, ref, cells[8].Value)
	assert.Equal(t, wire.UUID, cells[8].Type)
}

type widened struct {
	N    int
	Ns   []int
	Lvls []Level
}

func TestWriteRowCanonicalTypes(t *testing.T) {
	cells := writeOne(t, marshal.Compile[widened](), &widened{N: 1, Ns: []int{1, 2}, Lvls: []Level{4}}, nil)
	assert.Equal(t, int64(1), cells[0].Value)
	assert.Equal(t, []int64{1, 2}, cells[1].Value)
	assert.Equal(t, []int16{4}, cells[2].Value)
	assert.Equal(t, reflect.TypeFor[[]int16](), reflect.TypeOf(cells[2].Value))
}

func TestWriteRowWithOverrides(t *testing.T) {
	plan := marshal.Compile[sample]()
	five := int32(5)
	rec := &sample{Count: &five, Level: 1, Tags: []string{"x"}}

	plain := writeOne(t, plan, rec, nil)
	overridden := writeOne(t, plan, rec, wire.Settings{"level": wire.Int64})

	assert.Equal(t, wire.Int64, overridden[1].Type)
	assert.Equal(t, plain[0], overridden[0], "columns without override are unchanged")
	assert.Equal(t, plain[2], overridden[2], "columns without override are unchanged")

	cols := plan.WireColumns(wire.Settings{"level": wire.Int64})
	assert.Equal(t, wire.Int64, cols[1].Type)
}

func TestWriteRowNilRecord(t *testing.T) {
	err := marshal.Compile[sample]().WriteRow(testutil.NewRecordingWriter(), nil)
	require.Error(t, err)
	assert.True(t, quarryerrors.IsType(err, quarryerrors.ErrorTypeValidation))
}

func TestWriteRowPropagatesWriterError(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	w := testutil.NewRecordingWriter()
	w.FailOn = func(call testutil.Call, _ int) error {
		if call.Op == testutil.OpWrite {
			return assert.AnError
		}
		return nil
	}
	plan := marshal.Compile[sample]()
	require.NoError(t, w.Begin(ctx, "t", plan.WireColumns(nil)))
	require.NoError(t, w.StartRow())

	err := plan.WriteRow(w, &sample{Level: 1})
	require.ErrorIs(t, err, assert.AnError)
	assert.True(t, quarryerrors.IsType(err, quarryerrors.ErrorTypeData))
}
