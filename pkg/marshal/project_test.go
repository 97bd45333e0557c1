package marshal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quarry/pkg/marshal"
	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
	"github.com/ajitpratap0/quarry/pkg/testutil"
	"github.com/ajitpratap0/quarry/pkg/wire"
)

func TestProjectAllColumns(t *testing.T) {
	plan := marshal.Compile[order]()
	proj, err := plan.Project()
	require.NoError(t, err)
	assert.Same(t, plan, proj.Plan())
	assert.Equal(t, plan.Names(), proj.Names())
}

func TestProjectReorderRename(t *testing.T) {
	plan := marshal.Compile[order]()
	proj, err := plan.Project(
		marshal.Mapping{Source: "total", Destination: "amount"},
		marshal.Mapping{Source: "Customer"},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"amount", "customer_name"}, proj.Names())

	cols := proj.WireColumns(nil)
	assert.Equal(t, wire.Float64, cols[0].Type)
	assert.Equal(t, wire.Text, cols[1].Type)

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	w := testutil.NewRecordingWriter()
	require.NoError(t, w.Begin(ctx, "orders", cols))
	require.NoError(t, w.StartRow())
	require.NoError(t, proj.WriteRow(w, &order{Customer: "acme", Total: 9.5}, nil))
	_, err = w.Complete()
	require.NoError(t, err, "announcement and writes stay in lockstep")

	row := w.Rows()[0]
	assert.Equal(t, 9.5, row[0].Value)
	assert.Equal(t, "acme", row[1].Value)
}

func TestProjectOverrideUsesDestinationName(t *testing.T) {
	proj, err := marshal.Compile[sample]().Project(marshal.Mapping{Source: "level", Destination: "lvl"})
	require.NoError(t, err)
	cols := proj.WireColumns(wire.Settings{"lvl": wire.Int32})
	assert.Equal(t, wire.Int32, cols[0].Type)
}

func TestProjectErrors(t *testing.T) {
	plan := marshal.Compile[order]()

	_, err := plan.Project(marshal.Mapping{Source: "missing"})
	require.Error(t, err)
	assert.True(t, quarryerrors.IsType(err, quarryerrors.ErrorTypeValidation))

	_, err = plan.Project(marshal.Mapping{Source: "notes"})
	require.Error(t, err, "omitted fields cannot be projected")

	_, err = plan.Project(
		marshal.Mapping{Source: "total", Destination: "x"},
		marshal.Mapping{Source: "id", Destination: "x"},
	)
	require.Error(t, err)
	assert.True(t, quarryerrors.IsType(err, quarryerrors.ErrorTypeValidation))
}
