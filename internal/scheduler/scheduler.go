// Package scheduler implements the cron-like cooperative task
// registry of spec §4.9: one loop iterates at a fixed granularity,
// dispatching any job whose trigger fires this tick under a per-task
// mutual-exclusion guard. Grounded on the teacher's bootstrap run-loop
// shape (context-cancellation-driven, errgroup-free single loop)
// rather than a cron library, since the spec calls for a hand-rolled
// registry with explicit per-task skip-if-running semantics.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gridbot/internal/core"
)

// Trigger decides whether a job should fire at time now, given the
// last time it fired.
type Trigger interface {
	ShouldFire(now, lastFired time.Time) bool
}

// EveryInterval fires once per Interval, measured from lastFired.
type EveryInterval struct{ Interval time.Duration }

func (t EveryInterval) ShouldFire(now, lastFired time.Time) bool {
	return lastFired.IsZero() || now.Sub(lastFired) >= t.Interval
}

// DailyAt fires once per day at Hour:Minute UTC.
type DailyAt struct{ Hour, Minute int }

func (t DailyAt) ShouldFire(now, lastFired time.Time) bool {
	now = now.UTC()
	if now.Hour() != t.Hour || now.Minute() != t.Minute {
		return false
	}
	return lastFired.IsZero() || !sameMinute(now, lastFired.UTC())
}

// WeeklyOn fires once per week on Weekday at Hour:Minute UTC.
type WeeklyOn struct {
	Weekday     time.Weekday
	Hour, Minute int
}

func (t WeeklyOn) ShouldFire(now, lastFired time.Time) bool {
	now = now.UTC()
	if now.Weekday() != t.Weekday || now.Hour() != t.Hour || now.Minute() != t.Minute {
		return false
	}
	return lastFired.IsZero() || !sameMinute(now, lastFired.UTC())
}

func sameMinute(a, b time.Time) bool {
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}

// Job is one scheduled unit of work.
type Job struct {
	Name    string
	Trigger Trigger
	Run     func(ctx context.Context)

	mu        sync.Mutex
	running   int32
	lastFired time.Time
}

// Scheduler runs registered jobs on one cooperative loop.
type Scheduler struct {
	clock      core.Clock
	logger     core.ILogger
	granularity time.Duration

	mu   sync.Mutex
	jobs []*Job

	shutdown int32
}

// New builds a Scheduler polling at the given granularity (spec §4.9
// default: 60s).
func New(clock core.Clock, logger core.ILogger, granularity time.Duration) *Scheduler {
	return &Scheduler{clock: clock, logger: logger.WithField("component", "scheduler"), granularity: granularity}
}

// Register adds job to the registry. Not safe to call concurrently
// with Run.
func (s *Scheduler) Register(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Shutdown sets the shared flag the loop observes; the loop exits
// after finishing its current iteration.
func (s *Scheduler) Shutdown() {
	atomic.StoreInt32(&s.shutdown, 1)
}

// Run blocks, iterating every granularity until Shutdown is called or
// ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.granularity)
	defer ticker.Stop()

	s.iterate(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&s.shutdown) == 1 {
				return
			}
			s.iterate(ctx)
			if atomic.LoadInt32(&s.shutdown) == 1 {
				return
			}
		}
	}
}

func (s *Scheduler) iterate(ctx context.Context) {
	now := s.clock.Now()
	s.mu.Lock()
	jobs := make([]*Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, job := range jobs {
		s.maybeFire(ctx, job, now)
	}
}

func (s *Scheduler) maybeFire(ctx context.Context, job *Job, now time.Time) {
	job.mu.Lock()
	shouldFire := job.Trigger.ShouldFire(now, job.lastFired)
	job.mu.Unlock()
	if !shouldFire {
		return
	}

	if !atomic.CompareAndSwapInt32(&job.running, 0, 1) {
		s.logger.Warn("skipping trigger: previous invocation still running", "job", job.Name)
		return
	}

	job.mu.Lock()
	job.lastFired = now
	job.mu.Unlock()

	go func() {
		defer atomic.StoreInt32(&job.running, 0)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("job panicked", "job", job.Name, "panic", r)
			}
		}()
		job.Run(ctx)
	}()
}
