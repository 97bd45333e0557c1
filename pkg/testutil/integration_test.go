package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2<<20))
	assert.Equal(t, "-4.0 KB", formatBytes(-4096))
}

func TestPerformanceTestNoRows(t *testing.T) {
	called := false
	NewPerformanceTest(t, "empty").
		WithThroughputTarget(1e9).
		Run(func() (int64, time.Duration) {
			called = true
			return 0, 0
		})
	assert.True(t, called)
}
