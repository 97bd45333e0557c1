// Package pgcopy writes rows to PostgreSQL with COPY ... FROM STDIN BINARY.
//
// Values are framed in the COPY binary format: an 11-byte signature, a flags
// word and a header extension length, then per tuple a 16-bit field count
// followed by length-prefixed field values (-1 for null), and finally a -1
// trailer. Each value is encoded by pgx's type map for the OID that belongs
// to its wire type.
package pgcopy

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
	"github.com/ajitpratap0/quarry/pkg/wire"
)

var signature = []byte("PGCOPY\n\377\r\n\000")

// scalarOIDs maps each wire type to the PostgreSQL type it is loaded as.
// Unsigned types widen to the next signed type; uint64 needs numeric.
var scalarOIDs = map[wire.Type]uint32{
	wire.Int8:     pgtype.Int2OID,
	wire.Int16:    pgtype.Int2OID,
	wire.Int32:    pgtype.Int4OID,
	wire.Int64:    pgtype.Int8OID,
	wire.Uint8:    pgtype.Int2OID,
	wire.Uint16:   pgtype.Int4OID,
	wire.Uint32:   pgtype.Int8OID,
	wire.Uint64:   pgtype.NumericOID,
	wire.Float32:  pgtype.Float4OID,
	wire.Float64:  pgtype.Float8OID,
	wire.Bool:     pgtype.BoolOID,
	wire.UUID:     pgtype.UUIDOID,
	wire.Text:     pgtype.TextOID,
	wire.DateTime: pgtype.TimestamptzOID,
	wire.Duration: pgtype.IntervalOID,
}

var arrayOIDs = map[wire.Type]uint32{
	wire.Int8:     pgtype.Int2ArrayOID,
	wire.Int16:    pgtype.Int2ArrayOID,
	wire.Int32:    pgtype.Int4ArrayOID,
	wire.Int64:    pgtype.Int8ArrayOID,
	wire.Uint8:    pgtype.Int2ArrayOID,
	wire.Uint16:   pgtype.Int4ArrayOID,
	wire.Uint32:   pgtype.Int8ArrayOID,
	wire.Uint64:   pgtype.NumericArrayOID,
	wire.Float32:  pgtype.Float4ArrayOID,
	wire.Float64:  pgtype.Float8ArrayOID,
	wire.Bool:     pgtype.BoolArrayOID,
	wire.UUID:     pgtype.UUIDArrayOID,
	wire.Text:     pgtype.TextArrayOID,
	wire.DateTime: pgtype.TimestamptzArrayOID,
	wire.Duration: pgtype.IntervalArrayOID,
}

// OID returns the PostgreSQL type OID for a wire type
func OID(t wire.Type) (uint32, bool) {
	table := scalarOIDs
	if t.IsArray() {
		table = arrayOIDs
	}
	oid, ok := table[t.Elem()]
	return oid, ok
}

// encoder appends COPY binary frames to buf.
type encoder struct {
	types *pgtype.Map
	buf   []byte
}

func (e *encoder) header() {
	e.buf = append(e.buf, signature...)
	e.buf = binary.BigEndian.AppendUint32(e.buf, 0) // flags
	e.buf = binary.BigEndian.AppendUint32(e.buf, 0) // header extension length
}

func (e *encoder) tuple(fields int) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(fields))
}

func (e *encoder) null() {
	e.buf = binary.BigEndian.AppendUint32(e.buf, 0xFFFFFFFF)
}

func (e *encoder) trailer() {
	e.buf = binary.BigEndian.AppendUint16(e.buf, 0xFFFF)
}

// value appends one length-prefixed field, reserving the length word first
// and patching it once pgx has encoded the payload.
func (e *encoder) value(v any, t wire.Type) error {
	oid, ok := OID(t)
	if !ok {
		return quarryerrors.New(quarryerrors.ErrorTypeData, "wire type has no PostgreSQL mapping").
			WithDetail("wire_type", t.String())
	}

	start := len(e.buf)
	e.buf = append(e.buf, 0, 0, 0, 0)
	out, err := e.types.Encode(oid, pgtype.BinaryFormatCode, pgValue(v), e.buf)
	if err != nil {
		e.buf = e.buf[:start]
		return quarryerrors.Wrap(err, quarryerrors.ErrorTypeData, "failed to encode value").
			WithDetail("wire_type", t.String())
	}
	if out == nil {
		e.buf = e.buf[:start]
		e.null()
		return nil
	}
	e.buf = out
	binary.BigEndian.PutUint32(e.buf[start:], uint32(len(e.buf)-start-4))
	return nil
}

// pgValue widens Go values PostgreSQL has no native type for and wraps the
// ones pgx encodes more reliably through its own types.
func pgValue(v any) any {
	switch x := v.(type) {
	case uint8:
		return int16(x)
	case uint16:
		return int32(x)
	case uint32:
		return int64(x)
	case uint64:
		return numeric(x)
	case uuid.UUID:
		return pgtype.UUID{Bytes: x, Valid: true}
	case time.Duration:
		return interval(x)
	case []uint8:
		return mapSlice(x, func(e uint8) int16 { return int16(e) })
	case []uint16:
		return mapSlice(x, func(e uint16) int32 { return int32(e) })
	case []uint32:
		return mapSlice(x, func(e uint32) int64 { return int64(e) })
	case []uint64:
		return mapSlice(x, numeric)
	case []uuid.UUID:
		return mapSlice(x, func(e uuid.UUID) pgtype.UUID { return pgtype.UUID{Bytes: e, Valid: true} })
	case []time.Duration:
		return mapSlice(x, interval)
	}
	return v
}

func numeric(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Valid: true}
}

func interval(d time.Duration) pgtype.Interval {
	return pgtype.Interval{Microseconds: d.Microseconds(), Valid: true}
}

func mapSlice[S ~[]E, E any, R any](in S, fn func(E) R) []R {
	out := make([]R, len(in))
	for i, e := range in {
		out[i] = fn(e)
	}
	return out
}
