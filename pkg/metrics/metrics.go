// Package metrics provides Prometheus metrics for Quarry's connection
// lifecycle, streaming queries and bulk transfers.
//
// # Basic Usage
//
//	metrics.RowsTransferred.WithLabelValues("public.events", "success").Add(float64(n))
//
//	timer := metrics.NewTimer()
//	res, err := transfer.Run(ctx, dest, rows)
//	metrics.TransferDuration.WithLabelValues("public.events").Observe(timer.Seconds())
//
// Metric recording can be switched off process-wide with SetEnabled(false);
// the vectors stay registered so scraping keeps working.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var enabled atomic.Bool

func init() {
	enabled.Store(true)
}

// SetEnabled turns recording on or off
func SetEnabled(on bool) {
	enabled.Store(on)
}

// Enabled reports whether recording is on
func Enabled() bool {
	return enabled.Load()
}

var (
	// RowsTransferred counts rows written by bulk transfers.
	// Labels: destination, status (success/aborted)
	RowsTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_rows_transferred_total",
			Help: "Total number of rows written by bulk transfers",
		},
		[]string{"destination", "status"},
	)

	// TransferDuration tracks bulk transfer wall time in seconds.
	TransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quarry_transfer_duration_seconds",
			Help:    "Bulk transfer duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"destination"},
	)

	// ConnectionEvents counts lifecycle events.
	// Labels: session, event (open/close/open_failed/deferred/broken)
	ConnectionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_connection_events_total",
			Help: "Connection lifecycle events",
		},
		[]string{"session", "event"},
	)

	// OutstandingOperations tracks the size of the outstanding-operation set.
	OutstandingOperations = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quarry_outstanding_operations",
			Help: "Cursors and commands currently holding the shared connection",
		},
		[]string{"session"},
	)

	// QueryExecutions counts physical query executions.
	// Labels: status (success/closed/failure/mapping_failed/cancelled)
	QueryExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_query_executions_total",
			Help: "Physical query executions issued by streaming iterators",
		},
		[]string{"status"},
	)

	// PlansCompiled counts marshal plans built; one per record type.
	PlansCompiled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_marshal_plans_compiled_total",
			Help: "Marshal plans compiled",
		},
	)
)

// ConnectionEvent records a lifecycle event if metrics are enabled
func ConnectionEvent(session, event string) {
	if Enabled() {
		ConnectionEvents.WithLabelValues(session, event).Inc()
	}
}

// SetOutstanding records the outstanding-operation count for a session
func SetOutstanding(session string, n int) {
	if Enabled() {
		OutstandingOperations.WithLabelValues(session).Set(float64(n))
	}
}

// QueryExecution records a finished iterator
func QueryExecution(status string) {
	if Enabled() {
		QueryExecutions.WithLabelValues(status).Inc()
	}
}

// Transfer records a finished bulk transfer
func Transfer(destination, status string, rows int64, d time.Duration) {
	if !Enabled() {
		return
	}
	RowsTransferred.WithLabelValues(destination, status).Add(float64(rows))
	TransferDuration.WithLabelValues(destination).Observe(d.Seconds())
}

// PlanCompiled records a compiled marshal plan
func PlanCompiled() {
	if Enabled() {
		PlansCompiled.Inc()
	}
}

// Timer measures elapsed time
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Seconds returns the elapsed time in seconds
func (t *Timer) Seconds() float64 {
	return t.Elapsed().Seconds()
}
