package bucketing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-service/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.Get()
	return NewManager(cfg)
}

func TestEventBucketStableAndInRange(t *testing.T) {
	m := newTestManager(t)

	first := m.EventBucket("user@example.com")
	for i := 0; i < 100; i++ {
		require.Equal(t, first, m.EventBucket("user@example.com"))
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, config.Get().Bucketing.EventBuckets)
}

func TestWindowStartTruncates(t *testing.T) {
	m := newTestManager(t)

	now := time.Date(2025, 3, 14, 10, 42, 17, 0, time.UTC)
	start := m.WindowStart(now, time.Hour)
	assert.Equal(t, time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC), start)

	remaining := m.WindowRemaining(now, time.Hour)
	assert.Equal(t, 17*time.Minute+43*time.Second, remaining)
}

func TestDateBucket(t *testing.T) {
	m := newTestManager(t)
	now := time.Date(2025, 3, 14, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-14", m.DateBucket(now))
}
