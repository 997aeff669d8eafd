package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type countingDeleter struct {
	calls atomic.Int64
	err   error
}

func (d *countingDeleter) DeleteStale(_ context.Context, _ time.Time) (int, error) {
	d.calls.Add(1)
	if d.err != nil {
		return 0, d.err
	}
	return 3, nil
}

func TestSweeperRunsUntilCancelled(t *testing.T) {
	deleter := &countingDeleter{}
	sweeper := NewSweeper(deleter, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return deleter.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}

func TestSweeperKeepsGoingAfterError(t *testing.T) {
	deleter := &countingDeleter{err: assert.AnError}
	sweeper := NewSweeper(deleter, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	assert.Eventually(t, func() bool {
		return deleter.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}
