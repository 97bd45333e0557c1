package marshal_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/quarry/pkg/marshal"
)

type Stamped struct {
	time.Time
	Label string
}

type shadowed struct {
	Audit
	CreatedBy string
}

func TestFields(t *testing.T) {
	fields := marshal.Fields(reflect.TypeFor[*order]())
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"id", "customer_name", "total", "notes"}, names)
	assert.Equal(t, []int{1}, fields[1].Index)
}

func TestFieldsEmbeddedRepresentableIsAColumn(t *testing.T) {
	fields := marshal.Fields(reflect.TypeFor[Stamped]())
	assert.Len(t, fields, 2)
	assert.Equal(t, "time", fields[0].Name)
}

func TestFieldsFirstNameWins(t *testing.T) {
	fields := marshal.Fields(reflect.TypeFor[shadowed]())
	assert.Len(t, fields, 2)
	assert.Equal(t, "Audit.CreatedBy", fields[1].GoName)
}

func TestFieldsNonStruct(t *testing.T) {
	assert.Nil(t, marshal.Fields(reflect.TypeFor[string]()))
	assert.Nil(t, marshal.Fields(nil))
}
