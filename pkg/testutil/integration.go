package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// IntegrationTest skips the calling test in -short mode
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// DatabaseSuite is a testify suite with a per-suite context and a scratch
// directory for file-backed databases such as SQLite.
type DatabaseSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	tempDir   string
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *DatabaseSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()
	s.tempDir = s.T().TempDir()
}

// TearDownSuite runs after all tests in the suite
func (s *DatabaseSuite) TearDownSuite() {
	s.cancel()
	s.T().Logf("suite completed in %v", time.Since(s.startTime))
}

// Context returns the suite context
func (s *DatabaseSuite) Context() context.Context {
	return s.ctx
}

// SQLitePath returns a database file path in the scratch directory. A file
// is required for tests that need several connections to see one database.
func (s *DatabaseSuite) SQLitePath(name string) string {
	return filepath.Join(s.tempDir, name+".db")
}

// PerformanceTest checks throughput and per-row latency of a bulk run.
type PerformanceTest struct {
	t             *testing.T
	name          string
	minThroughput float64 // rows/sec
	maxLatency    time.Duration
}

// NewPerformanceTest creates a new performance test
func NewPerformanceTest(t *testing.T, name string) *PerformanceTest {
	return &PerformanceTest{
		t:    t,
		name: name,
	}
}

// WithThroughputTarget sets minimum throughput requirement
func (p *PerformanceTest) WithThroughputTarget(rowsPerSec float64) *PerformanceTest {
	p.minThroughput = rowsPerSec
	return p
}

// WithLatencyTarget sets maximum latency requirement
func (p *PerformanceTest) WithLatencyTarget(maxLatency time.Duration) *PerformanceTest {
	p.maxLatency = maxLatency
	return p
}

// Run executes fn and checks its row count and duration against the targets.
func (p *PerformanceTest) Run(fn func() (rows int64, duration time.Duration)) {
	p.t.Helper()

	before := heapAlloc()
	rows, duration := fn()
	if rows == 0 || duration <= 0 {
		p.t.Logf("Performance Test: %s processed no rows", p.name)
		return
	}
	throughput := float64(rows) / duration.Seconds()
	avgLatency := duration / time.Duration(rows)

	p.t.Logf("Performance Test: %s", p.name)
	p.t.Logf("  Rows: %d", rows)
	p.t.Logf("  Duration: %v", duration)
	p.t.Logf("  Throughput: %.0f rows/sec", throughput)
	p.t.Logf("  Avg Latency: %v", avgLatency)
	p.t.Logf("  Heap Growth: %s", formatBytes(int64(heapAlloc())-int64(before)))

	if p.minThroughput > 0 && throughput < p.minThroughput {
		p.t.Errorf("Throughput %.0f rows/sec below target %.0f rows/sec",
			throughput, p.minThroughput)
	}
	if p.maxLatency > 0 && avgLatency > p.maxLatency {
		p.t.Errorf("Latency %v exceeds target %v", avgLatency, p.maxLatency)
	}
}

func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

// formatBytes formats bytes into human-readable string
func formatBytes(bytes int64) string {
	sign := ""
	if bytes < 0 {
		sign, bytes = "-", -bytes
	}
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%s%d B", sign, bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%s%.1f %cB", sign, float64(bytes)/float64(div), "KMGTPE"[exp])
}
