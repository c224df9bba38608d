// Package cron drives the periodic memory consolidation and forgetting
// sweep: promoting short-term records that earned long-term status and
// evicting the lowest-scoring records once the store exceeds its cap.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/agentrt/internal/memory/backend"
)

// ForgetScheduler runs the memory consolidation and forgetting sweep on a
// cron schedule until stopped.
type ForgetScheduler struct {
	cron    *cron.Cron
	backend backend.Backend
	cap     int
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	entryID cron.EntryID
}

// Option configures a ForgetScheduler.
type Option func(*ForgetScheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *ForgetScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewForgetScheduler builds a scheduler that runs the sweep on the given
// cron expression (standard 5-field syntax, or the "@every 1h" descriptor
// form) against backend, evicting down to cap records per sweep.
func NewForgetScheduler(b backend.Backend, schedule string, cap int, opts ...Option) (*ForgetScheduler, error) {
	if b == nil {
		return nil, fmt.Errorf("forget scheduler: backend is required")
	}

	s := &ForgetScheduler{
		backend: b,
		cap:     cap,
		logger:  slog.Default().With("component", "memory-forget"),
		cron:    cron.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		s.runSweep(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("forget scheduler: invalid schedule %q: %w", schedule, err)
	}
	s.entryID = entryID

	return s, nil
}

// Start begins running the sweep on schedule. It returns immediately; the
// underlying cron runner manages its own goroutine.
func (s *ForgetScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.cron.Start()

	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()

	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish or
// ctx to expire, whichever comes first.
func (s *ForgetScheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes the consolidation and forgetting sweep synchronously,
// primarily for tests and manual operator triggers.
func (s *ForgetScheduler) RunOnce(ctx context.Context) (promoted, evicted int, err error) {
	promoted, err = s.backend.Consolidate(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("consolidate: %w", err)
	}
	evicted, err = s.backend.Forget(ctx, s.cap)
	if err != nil {
		return promoted, 0, fmt.Errorf("forget: %w", err)
	}
	return promoted, evicted, nil
}

func (s *ForgetScheduler) runSweep(ctx context.Context) {
	promoted, evicted, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("memory sweep failed", "error", err)
		return
	}
	if promoted > 0 || evicted > 0 {
		s.logger.Info("memory sweep complete", "promoted", promoted, "evicted", evicted)
	}
}
