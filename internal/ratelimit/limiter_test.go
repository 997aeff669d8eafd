package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-service/internal/bucketing"
	"otp-service/internal/config"
)

type memoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{counters: make(map[string]int64)}
}

func (s *memoryStore) Increment(_ context.Context, key string, _ time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key], nil
}

func newTestLimiter(store Store) *Limiter {
	cfg := config.RateLimitConfig{
		Window:      time.Hour,
		MaxPerEmail: 3,
		MaxPerIP:    5,
	}
	return NewLimiter(store, bucketing.NewManager(config.Get()), cfg)
}

func TestLimiterAllowsUpToEmailMax(t *testing.T) {
	limiter := newTestLimiter(newMemoryStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := limiter.Check(ctx, "user@example.com", "203.0.113.9")
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, i+1, decision.Count)
	}

	decision, err := limiter.Check(ctx, "user@example.com", "203.0.113.9")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.NotEmpty(t, decision.Reason)
	assert.Greater(t, decision.RetryAfter, 0)
	assert.LessOrEqual(t, decision.RetryAfter, 3601)
}

func TestLimiterCapsPerIPAcrossEmails(t *testing.T) {
	limiter := newTestLimiter(newMemoryStore())
	ctx := context.Background()

	emails := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"}
	for _, email := range emails {
		decision, err := limiter.Check(ctx, email, "203.0.113.9")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := limiter.Check(ctx, "f@example.com", "203.0.113.9")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestLimiterFreshWindowResets(t *testing.T) {
	limiter := newTestLimiter(newMemoryStore())
	ctx := context.Background()

	base := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	limiter.now = func() time.Time { return base }

	for i := 0; i < 4; i++ {
		_, err := limiter.Check(ctx, "user@example.com", "")
		require.NoError(t, err)
	}
	decision, err := limiter.Check(ctx, "user@example.com", "")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// Next hour, new window, counters start over.
	limiter.now = func() time.Time { return base.Add(time.Hour) }
	decision, err = limiter.Check(ctx, "user@example.com", "")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Count)
}

func TestLimiterSkipsIPWhenUnknown(t *testing.T) {
	store := newMemoryStore()
	limiter := newTestLimiter(store)

	decision, err := limiter.Check(context.Background(), "user@example.com", "")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Len(t, store.counters, 1)
}
