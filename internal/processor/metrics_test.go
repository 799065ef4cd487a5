package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServiceMetrics(t *testing.T) {
	m := NewServiceMetrics()

	stats := m.GetStats()
	assert.Zero(t, stats.Processed)
	assert.Zero(t, stats.AvgDuration)

	m.RecordSuccess(100 * time.Millisecond)
	m.RecordSuccess(300 * time.Millisecond)
	m.RecordFailure()

	stats = m.GetStats()
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, 200*time.Millisecond, stats.AvgDuration)
	assert.Positive(t, stats.RatePerSecond)
	assert.Positive(t, stats.Uptime)
}
