package scheduler

import (
	"context"
	"errors"
	"time"

	"rule-persistence/internal/service"
	"rule-persistence/internal/util"
)

// Job is the zero-argument tick trigger.
type Job interface {
	Execute(ctx context.Context) (service.TickReport, error)
}

// Scheduler fires Job on a fixed interval. Ticks never overlap inside one
// scheduler: a tick that outlasts the interval makes the ticker drop the
// triggers it missed.
type Scheduler struct {
	job        Job
	interval   time.Duration
	runOnStart bool
}

func New(job Job, interval time.Duration, runOnStart bool) *Scheduler {
	return &Scheduler{job: job, interval: interval, runOnStart: runOnStart}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	util.Info("Scheduler started",
		util.Duration("interval", s.interval),
		util.Bool("run_on_start", s.runOnStart))

	if s.runOnStart {
		s.fire(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			util.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	if _, err := s.job.Execute(ctx); err != nil {
		if errors.Is(err, service.ErrTickInProgress) {
			util.Warn("Skipping tick, previous tick still running")
			return
		}
		util.Error("Tick trigger failed", util.ErrorField(err))
	}
}
