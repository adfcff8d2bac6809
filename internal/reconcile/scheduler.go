package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler runs the reconciler on a fixed interval until its context ends.
// Ticks that land while a manual run is in flight are skipped.
type Scheduler struct {
	reconciler *Reconciler
	interval   time.Duration
	logger     *slog.Logger
}

func NewScheduler(reconciler *Reconciler, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{reconciler: reconciler, interval: interval, logger: logger}
}

// Start blocks until ctx is canceled. A non-positive interval returns
// immediately.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.logger.Info("Reconciliation scheduler started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reconciliation scheduler stopped")
			return
		case <-ticker.C:
			_, err := s.reconciler.Run(ctx)
			if errors.Is(err, ErrRunInProgress) {
				s.logger.Debug("Skipping scheduled reconciliation, run in progress")
			}
			// Other failures are logged by Run.
		}
	}
}
