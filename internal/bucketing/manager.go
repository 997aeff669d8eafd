package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"otp-service/internal/config"
)

// Manager spreads security events over a fixed number of partitions and
// computes the fixed windows the rate limiter counts in.
type Manager struct {
	eventBuckets int
	hasherPool   sync.Pool
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	// Pooled hashers avoid an allocation per event on the hot path.
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// EventBucket returns a consistent partition in [0, eventBuckets) for an
// identifier such as an email digest.
func (m *Manager) EventBucket(identifier string) int {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(identifier))

	return int(hasher.Sum64() % uint64(m.eventBuckets))
}

// WindowStart truncates now to the start of its fixed window.
func (m *Manager) WindowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

// WindowRemaining reports how long until the current fixed window rolls over.
func (m *Manager) WindowRemaining(now time.Time, window time.Duration) time.Duration {
	return m.WindowStart(now, window).Add(window).Sub(now)
}

// DateBucket returns the UTC calendar date used to partition audit tables.
func (m *Manager) DateBucket(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
