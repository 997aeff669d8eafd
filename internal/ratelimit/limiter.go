package ratelimit

import (
	"context"
	"fmt"
	"time"

	"otp-service/internal/bucketing"
	"otp-service/internal/config"
)

// Store is the counter backend. The production implementation lives in
// internal/repository/redis.
type Store interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed     bool
	Reason      string
	RetryAfter  int // seconds until the window rolls over
	Count       int
	WindowStart time.Time
}

// Limiter caps issuance per email and per source IP within fixed windows.
// The window start is part of the counter key, so every window starts from
// zero and no decrement bookkeeping is needed.
type Limiter struct {
	store   Store
	buckets *bucketing.Manager
	cfg     config.RateLimitConfig

	now func() time.Time
}

func NewLimiter(store Store, buckets *bucketing.Manager, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		store:   store,
		buckets: buckets,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Check consumes one issuance slot for the email and the IP and reports
// whether the request may proceed. It runs before any record is touched, so
// a rejected caller never destroys an outstanding code.
func (l *Limiter) Check(ctx context.Context, email, ip string) (*Decision, error) {
	now := l.now().UTC()
	windowStart := l.buckets.WindowStart(now, l.cfg.Window)
	remaining := l.buckets.WindowRemaining(now, l.cfg.Window)
	retryAfter := int(remaining.Seconds()) + 1

	// TTL slightly beyond the window end so a counter never outlives two windows.
	ttl := remaining + time.Minute

	emailKey := fmt.Sprintf("email:%s:%d", email, windowStart.Unix())
	emailCount, err := l.store.Increment(ctx, emailKey, ttl)
	if err != nil {
		return nil, err
	}
	if emailCount > int64(l.cfg.MaxPerEmail) {
		return &Decision{
			Allowed:     false,
			Reason:      "too many codes requested for this address",
			RetryAfter:  retryAfter,
			Count:       int(emailCount),
			WindowStart: windowStart,
		}, nil
	}

	if ip != "" {
		ipKey := fmt.Sprintf("ip:%s:%d", ip, windowStart.Unix())
		ipCount, err := l.store.Increment(ctx, ipKey, ttl)
		if err != nil {
			return nil, err
		}
		if ipCount > int64(l.cfg.MaxPerIP) {
			return &Decision{
				Allowed:     false,
				Reason:      "too many codes requested from this address",
				RetryAfter:  retryAfter,
				Count:       int(emailCount),
				WindowStart: windowStart,
			}, nil
		}
	}

	return &Decision{
		Allowed:     true,
		Count:       int(emailCount),
		WindowStart: windowStart,
	}, nil
}
