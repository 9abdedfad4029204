package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/i474232898/station-dashboard/internal/jobs"
)

// Executor runs an authorized job. *jobs.Runner implements it.
type Executor interface {
	Execute(ctx context.Context, job jobs.Job) jobs.Outcome
}

// Schedule maps each job to a standard five-field cron expression.
type Schedule struct {
	Fetch    string
	Daily    string
	External string
}

// Scheduler triggers the jobs in-process. The file locks taken by the
// executor still apply, so it can run next to an external cron.
type Scheduler struct {
	scheduler *gocron.Scheduler
	executor  Executor
	schedule  Schedule
	timeout   time.Duration
	log       zerolog.Logger
}

// New creates a Scheduler evaluating expressions in loc.
func New(schedule Schedule, executor Executor, loc *time.Location, logger zerolog.Logger) *Scheduler {
	s := gocron.NewScheduler(loc)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		executor:  executor,
		schedule:  schedule,
		timeout:   2 * time.Minute,
		log:       logger,
	}
}

// Start registers the three jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	for job, expr := range map[jobs.Job]string{
		jobs.JobFetch:    s.schedule.Fetch,
		jobs.JobDaily:    s.schedule.Daily,
		jobs.JobExternal: s.schedule.External,
	} {
		if expr == "" {
			continue
		}
		if _, err := s.scheduler.Cron(expr).Tag(string(job)).Do(s.trigger, job); err != nil {
			return fmt.Errorf("schedule %s %q: %w", job, expr, err)
		}
		s.log.Info().Str("job", string(job)).Str("cron", expr).Msg("job scheduled")
	}

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) trigger(job jobs.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	out := s.executor.Execute(ctx, job)
	if out.Code >= 300 {
		s.log.Warn().Str("job", string(job)).Int("code", out.Code).Str("run_id", out.RunID).Msg("scheduled run not completed")
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
