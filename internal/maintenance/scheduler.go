// Package maintenance runs the periodic background jobs: the stale-event
// sweep and the notification dispatcher.
package maintenance

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper deletes events dated in the past.
type Sweeper interface {
	SweepStale(ctx context.Context) (int, error)
}

// Dispatcher sends notifications that have fallen due.
type Dispatcher interface {
	DispatchDue(ctx context.Context) (int, error)
}

// Scheduler runs the sweep and the dispatcher on cron schedules. A run that
// is still going when its next tick fires is skipped, not stacked.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
}

// Job is one named unit of periodic work.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (int, error)
}

// SweepJob wraps a Sweeper.
func SweepJob(schedule string, s Sweeper) Job {
	return Job{Name: "sweep", Schedule: schedule, Run: s.SweepStale}
}

// DispatchJob wraps a Dispatcher.
func DispatchJob(schedule string, d Dispatcher) Job {
	return Job{Name: "notify", Schedule: schedule, Run: d.DispatchDue}
}

// New registers jobs on a fresh cron. Each run gets a context bounded by
// timeout. Nothing runs until Start.
func New(timeout time.Duration, jobs ...Job) (*Scheduler, error) {
	logger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	s := &Scheduler{cron: c, timeout: timeout}

	for _, j := range jobs {
		if _, err := c.AddFunc(j.Schedule, s.wrap(j)); err != nil {
			return nil, fmt.Errorf("schedule %s job %q: %w", j.Name, j.Schedule, err)
		}
	}
	return s, nil
}

func (s *Scheduler) wrap(j Job) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		n, err := j.Run(ctx)
		if err != nil {
			log.Printf("%s job failed: %v", j.Name, err)
			return
		}
		if n > 0 {
			log.Printf("%s job processed %d item(s)", j.Name, n)
		}
	}
}

// Start launches the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("✓ Maintenance scheduler started (%d job(s))", len(s.cron.Entries()))
}

// Stop halts the scheduler and waits for running jobs to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
