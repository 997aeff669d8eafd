package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/util"
)

// StaleDeleter removes expired records that were never finalized.
type StaleDeleter interface {
	DeleteStale(ctx context.Context, before time.Time) (int, error)
}

// Sweeper periodically clears expired, unblocked records so abandoned
// verification flows do not accumulate in storage.
type Sweeper struct {
	repo     StaleDeleter
	interval time.Duration
	logger   *zap.Logger

	now func() time.Time
}

func NewSweeper(repo StaleDeleter, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		repo:     repo,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Stale record sweeper started",
		util.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stale record sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := s.now()
	removed, err := s.repo.DeleteStale(ctx, start.UTC())
	if err != nil {
		s.logger.Error("Stale record sweep failed", util.ErrorField(err))
		return
	}
	if removed > 0 {
		s.logger.Info("Swept stale records",
			util.Int("removed", removed),
			util.Duration("duration", time.Since(start)))
	}
}
