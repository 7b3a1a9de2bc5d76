package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// JobFunc is invoked when a job's daily wall-clock time arrives.
type JobFunc func(ctx context.Context, now time.Time) error

// Job pairs a daily fire time with the work to run.
type Job struct {
	Name   string
	Hour   int
	Minute int
	Run    JobFunc
}

// Options tune scheduler behaviour.
type Options struct {
	Location     *time.Location
	StartupDelay time.Duration
}

// Scheduler fires each registered job once per day at its wall-clock time.
type Scheduler struct {
	jobs   []Job
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(jobs []Job, opts Options, logger zerolog.Logger) *Scheduler {
	if len(jobs) == 0 {
		panic("scheduler requires at least one job")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{jobs: jobs, opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, firing jobs at their daily times until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	for {
		job, next := s.nextJob(time.Now())

		timer := time.NewTimer(time.Until(next))
		s.logger.Debug().Str("job", job.Name).Time("next_fire", next).Msg("waiting for next job")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		fired := time.Now()
		s.logger.Info().Str("job", job.Name).Time("fired_at", fired).Msg("executing scheduled job")

		if err := job.Run(ctx, fired); err != nil {
			s.logger.Error().Err(err).Str("job", job.Name).Msg("job execution failed")
		}
	}
}

// nextJob returns the job with the earliest upcoming fire time.
func (s *Scheduler) nextJob(now time.Time) (Job, time.Time) {
	best := s.jobs[0]
	bestAt := NextFire(now, best.Hour, best.Minute, s.opts.Location)
	for _, job := range s.jobs[1:] {
		at := NextFire(now, job.Hour, job.Minute, s.opts.Location)
		if at.Before(bestAt) {
			best = job
			bestAt = at
		}
	}
	return best, bestAt
}

// NextFire computes the next daily occurrence of hour:minute strictly
// after now in the given location.
func NextFire(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	fire := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !fire.After(local) {
		fire = fire.AddDate(0, 0, 1)
	}
	return fire
}
