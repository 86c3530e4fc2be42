package scheduler

import (
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Task is one registered unit of periodic work.
type Task func()

// Scheduler drives periodic jobs on one event loop. Each cadence gets
// its own timer; a panicking task is logged and its timer kept alive,
// one subscriber's bad state must never stop notification of the rest.
type Scheduler struct {
	cron   *gocron.Scheduler
	logger zerolog.Logger
}

// New constructs a stopped scheduler. Jobs run one at a time: ticks,
// the emergency sweep and the prune job share cache and dedup state, so
// an overlapping cadence waits for the running job to finish.
func New(logger zerolog.Logger) *Scheduler {
	cron := gocron.NewScheduler(time.UTC)
	cron.SetMaxConcurrentJobs(1, gocron.WaitMode)
	return &Scheduler{
		cron:   cron,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Register adds a periodic task and returns its cancelable handle.
func (s *Scheduler) Register(name string, every time.Duration, task Task) (*gocron.Job, error) {
	job, err := s.cron.Every(every).Tag(name).Do(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Str("job", name).Msg("job panicked, timer kept alive")
			}
		}()
		s.logger.Debug().Str("job", name).Msg("executing scheduled job")
		task()
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Remove cancels a registered job.
func (s *Scheduler) Remove(job *gocron.Job) {
	s.cron.RemoveByReference(job)
}

// Start launches all registered timers asynchronously.
func (s *Scheduler) Start() {
	s.cron.StartAsync()
	s.logger.Info().Int("jobs", len(s.cron.Jobs())).Msg("scheduler started")
}

// Stop halts all timers; in-flight jobs finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("scheduler stopped")
}
