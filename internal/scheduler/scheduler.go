// Package scheduler re-runs ingestion on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Job is one scheduled unit of work. The context is cancelled on Stop.
type Job func(ctx context.Context) error

type Scheduler struct {
	scheduler *gocron.Scheduler
	interval  time.Duration
	job       Job
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(interval time.Duration, job Job, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		interval:  interval,
		job:       job,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the job every interval, first firing one interval from
// now. A tick is skipped while the previous run is still going.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", s.interval)
	}

	_, err := s.scheduler.Every(s.interval).SingletonMode().WaitForSchedule().Do(s.tick)
	if err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) tick() {
	s.logger.Info("scheduled ingestion starting")
	if err := s.job(s.ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			s.logger.Info("scheduled ingestion cancelled")
			return
		}
		s.logger.Error("scheduled ingestion failed", zap.Error(err))
	}
}

// Stop cancels a running job and stops future ticks.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
