// Package strings provides pooled string building and SQL text helpers for Quarry
package strings

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unsafe"
)

// BytesToString converts byte slice to string without allocation
// WARNING: The returned string shares memory with the byte slice.
// Do not modify the byte slice after calling this function.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// Builder provides efficient string building over a reusable byte buffer
type Builder struct {
	buf []byte
}

// NewBuilder creates a new string builder
func NewBuilder(capacity int) *Builder {
	return &Builder{
		buf: make([]byte, 0, capacity),
	}
}

// WriteString appends a string to the builder
func (b *Builder) WriteString(s string) {
	b.buf = append(b.buf, s...)
}

// WriteByte appends a single byte
func (b *Builder) WriteByte(c byte) {
	b.buf = append(b.buf, c)
}

// Write implements io.Writer interface
func (b *Builder) Write(p []byte) (n int, err error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// String returns the built string using zero-copy conversion.
// Use Clone when the result outlives the builder.
func (b *Builder) String() string {
	return BytesToString(b.buf)
}

// Len returns the current length
func (b *Builder) Len() int {
	return len(b.buf)
}

// Reset clears the builder, keeping its capacity
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
}

var (
	// Small strings (< 1KB) - identifiers, error messages
	smallBuilderPool = &sync.Pool{
		New: func() interface{} {
			return NewBuilder(1024)
		},
	}

	// Medium strings (1KB - 16KB) - multi-row INSERT statements
	mediumBuilderPool = &sync.Pool{
		New: func() interface{} {
			return NewBuilder(16 * 1024)
		},
	}
)

// BuilderSize represents different builder sizes
type BuilderSize int

const (
	Small  BuilderSize = iota // < 1KB
	Medium                    // 1KB+
)

func poolFor(size BuilderSize) *sync.Pool {
	if size == Medium {
		return mediumBuilderPool
	}
	return smallBuilderPool
}

// GetBuilder retrieves a pooled builder of the specified size
func GetBuilder(size BuilderSize) *Builder {
	builder := poolFor(size).Get().(*Builder)
	builder.Reset()
	return builder
}

// PutBuilder returns a builder to the appropriate pool
func PutBuilder(builder *Builder, size BuilderSize) {
	if builder == nil {
		return
	}
	builder.Reset()
	poolFor(size).Put(builder)
}

// Clone creates a copy of a string (useful when you need to own the memory)
func Clone(s string) string {
	return strings.Clone(s)
}

// Sprintf formats into a pooled builder
func Sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}

	builder := GetBuilder(Small)
	defer PutBuilder(builder, Small)

	fmt.Fprintf(builder, format, args...)

	return Clone(builder.String())
}

// ToSnakeCase converts a Go identifier to its snake_case column form.
// Runs of capitals are treated as one word: "UserID" -> "user_id",
// "HTTPStatus" -> "http_status".
func ToSnakeCase(name string) string {
	if name == "" {
		return ""
	}

	runes := []rune(name)
	builder := GetBuilder(Small)
	defer PutBuilder(builder, Small)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					builder.WriteByte('_')
				}
			}
			builder.WriteString(string(unicode.ToLower(r)))
			continue
		}
		builder.WriteString(string(r))
	}

	return Clone(builder.String())
}

// QuoteIdentifier quotes a possibly schema-qualified name ("schema.table")
// part by part, doubling embedded quotes.
func QuoteIdentifier(name string) string {
	sb := NewSQLBuilder(len(name) + 8)
	defer sb.Close()
	return sb.WriteQualifiedIdentifier(name).String()
}

// SQLBuilder provides pooled SQL statement building
type SQLBuilder struct {
	builder *Builder
	size    BuilderSize
}

// NewSQLBuilder creates a new SQL builder
func NewSQLBuilder(estimatedLength int) *SQLBuilder {
	size := Small
	if estimatedLength > 1024 {
		size = Medium
	}

	return &SQLBuilder{
		builder: GetBuilder(size),
		size:    size,
	}
}

// WriteQuery writes a SQL query part
func (sb *SQLBuilder) WriteQuery(query string) *SQLBuilder {
	sb.builder.WriteString(query)
	return sb
}

// WriteIdentifier writes a double-quoted identifier
func (sb *SQLBuilder) WriteIdentifier(name string) *SQLBuilder {
	return sb.WriteQuotedIdentifier(name, '"')
}

// WriteQuotedIdentifier writes name between quote characters, doubling any
// embedded quote. MySQL uses '`'.
func (sb *SQLBuilder) WriteQuotedIdentifier(name string, quote byte) *SQLBuilder {
	sb.builder.WriteByte(quote)
	for i := 0; i < len(name); i++ {
		if name[i] == quote {
			sb.builder.WriteByte(quote)
		}
		sb.builder.WriteByte(name[i])
	}
	sb.builder.WriteByte(quote)
	return sb
}

// WriteQualifiedIdentifier writes each dot-separated part as an identifier
func (sb *SQLBuilder) WriteQualifiedIdentifier(name string) *SQLBuilder {
	return sb.WriteQualifiedQuoted(name, '"')
}

// WriteQualifiedQuoted is WriteQualifiedIdentifier with a custom quote
func (sb *SQLBuilder) WriteQualifiedQuoted(name string, quote byte) *SQLBuilder {
	for i, part := range strings.Split(name, ".") {
		if i > 0 {
			sb.builder.WriteByte('.')
		}
		sb.WriteQuotedIdentifier(part, quote)
	}
	return sb
}

// WriteIdentifierList writes "a", "b", "c"
func (sb *SQLBuilder) WriteIdentifierList(names []string) *SQLBuilder {
	return sb.WriteQuotedList(names, '"')
}

// WriteQuotedList is WriteIdentifierList with a custom quote
func (sb *SQLBuilder) WriteQuotedList(names []string, quote byte) *SQLBuilder {
	for i, name := range names {
		if i > 0 {
			sb.builder.WriteString(", ")
		}
		sb.WriteQuotedIdentifier(name, quote)
	}
	return sb
}

// WriteInt writes an integer value
func (sb *SQLBuilder) WriteInt(value int64) *SQLBuilder {
	sb.builder.WriteString(strconv.FormatInt(value, 10))
	return sb
}

// Len returns the number of bytes written so far
func (sb *SQLBuilder) Len() int {
	return sb.builder.Len()
}

// String returns the built SQL query
func (sb *SQLBuilder) String() string {
	return Clone(sb.builder.String())
}

// Close releases the builder back to the pool
func (sb *SQLBuilder) Close() {
	if sb.builder != nil {
		PutBuilder(sb.builder, sb.size)
		sb.builder = nil
	}
}
