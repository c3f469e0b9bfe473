// Package scheduler triggers pipeline runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrBusy is returned by TryRun while another run is in progress.
var ErrBusy = errors.New("a pipeline run is already in progress")

// RunFunc performs one pipeline run.
type RunFunc func(ctx context.Context, trigger string) error

// Scheduler never runs two pipelines at once: a tick that fires while a run
// is in progress is skipped.
type Scheduler struct {
	engine *cron.Cron
	run    RunFunc
	logger *zap.Logger

	mu      sync.Mutex
	running sync.Mutex
	ctx     context.Context
}

// New parses spec (standard five-field cron syntax or a descriptor such as
// @daily) and registers run on it.
func New(spec string, run RunFunc, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		engine: cron.New(),
		run:    run,
		logger: logger,
		ctx:    context.Background(),
	}
	if _, err := s.engine.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing. Runs receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.logger.Info("Scheduler started", zap.Time("next_run", s.Next()))
	s.engine.Start()
}

// Stop stops firing and waits for a run in progress to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("Scheduler stopping")
	<-s.engine.Stop().Done()
}

// Next is the time of the next scheduled run.
func (s *Scheduler) Next() time.Time {
	entries := s.engine.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(time.Now())
}

// TryRun runs the pipeline now unless a run is already in progress.
func (s *Scheduler) TryRun(ctx context.Context, trigger string) error {
	if !s.running.TryLock() {
		return ErrBusy
	}
	defer s.running.Unlock()
	return s.run(ctx, trigger)
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	err := s.TryRun(ctx, "schedule")
	switch {
	case errors.Is(err, ErrBusy):
		s.logger.Warn("Skipping scheduled run, previous run still in progress")
	case err != nil:
		s.logger.Error("Scheduled run failed", zap.Error(err))
	}
}
