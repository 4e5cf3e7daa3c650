// --- File: internal/dispatcher/scheduler.go ---
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

// CycleRunner is the part of the Dispatcher the scheduler drives.
type CycleRunner interface {
	RunCycle(ctx context.Context) (CycleReport, error)
}

// Scheduler runs a cycle immediately and then once per interval until
// stopped.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(runner CycleRunner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger.With("component", "Scheduler"),
	}
}

// Start launches the loop. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("Starting dispatch scheduler", "interval", s.interval)
	go s.loop(loopCtx, s.done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.logger.Info("Dispatch scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.runner.RunCycle(ctx); err != nil {
		if errors.Is(err, dispatch.ErrCycleInProgress) {
			s.logger.Debug("Previous cycle still running, skipping tick")
			return
		}
		s.logger.Error("Dispatch cycle failed", "err", err)
	}
}

// Stop cancels the loop and waits for an in-flight cycle to return, or for
// ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
