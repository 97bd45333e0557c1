// Package quarry runs SQL queries as streams of typed rows and loads Go
// values into tables through the database's bulk protocol, with every
// operation sharing one physical connection.
//
// # Architecture
//
// Quarry is built from four pieces:
//
// 1. Type marshalling: pkg/marshal compiles a per-type plan once, mapping
// each exported field to a column with a wire type (pkg/wire). Nullable,
// enum and array fields are classified up front; unsupported fields are
// skipped or rejected depending on the mode.
//
// 2. Bulk transfer: pkg/bulk drives a wire.RowWriter over a sequence of
// values. PostgreSQL writes COPY FROM STDIN BINARY (pkg/bulk/pgcopy); other
// databases use batched INSERT statements (pkg/bulk/sqlcopy).
//
// 3. Connection lifecycle: pkg/session owns the connection. It opens on
// demand, stays open while leases or a transaction exist, closes when the
// last one is released, and can hold (re)opens back for a cooldown window.
//
// 4. Streaming queries: pkg/query runs a statement per iteration and
// releases its cursor and lease the moment iteration ends.
//
// # Quick Start
//
//	drv, _ := pgxdriver.New("postgres://app@localhost/app", nil)
//	mgr := session.NewManager(drv, session.Options{}, nil)
//
//	// Load
//	res, err := bulk.Copy(ctx, mgr, "public.events", slices.Values(events), bulk.Options{})
//
//	// Read back
//	q := query.New(mgr, query.Struct[Event](), "SELECT * FROM public.events WHERE kind = $1", "click")
//	for ev, err := range q.All(ctx) {
//	    ...
//	}
//
// # Key Packages
//
//	pkg/wire          - Wire types and the RowWriter protocol
//	pkg/marshal       - Compiled per-type marshal plans
//	pkg/bulk          - Bulk transfer engine and protocol writers
//	pkg/session       - Connection manager, leases, transactions, drivers
//	pkg/query         - Streaming iterators and row mappers
//	pkg/config        - Unified configuration management
//	pkg/quarryerrors  - Structured error handling
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus metrics
//	pkg/observability - OpenTelemetry tracing
//
// # Configuration
//
// Configuration is YAML with ${VAR_NAME} substitution:
//
//	type BaseConfig struct {
//	    Connection    ConnectionConfig    // Driver, DSN, cursor capability
//	    Session       SessionConfig       // Cooldown, isolation, keep-open
//	    Bulk          BulkConfig          // Strict marshal, flush size, overrides
//	    Timeouts      TimeoutConfig       // Connect and query timeouts
//	    Observability ObservabilityConfig // Logging, metrics, tracing
//	}
//
// The quarry command reads the same file and accepts QUARRY_* environment
// variables and flags on top.
package quarry
