package batch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/jobscout/internal/config"
)

// Scheduler fires RunAll on a cron schedule.
type Scheduler struct {
	runner   *Runner
	schedule cron.Schedule
	now      func() time.Time

	// fired, when set, receives the outcome of every tick.
	fired func(ok, failed int, err error)
}

// NewScheduler parses expr (5-field cron) and returns a Scheduler.
func NewScheduler(r *Runner, expr string) (*Scheduler, error) {
	if r == nil {
		return nil, fmt.Errorf("batch: runner is required")
	}
	sched, err := config.CronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("batch: cron %q: %w", expr, err)
	}
	return &Scheduler{runner: r, schedule: sched, now: time.Now}, nil
}

// Next returns the first fire time after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// untilNext returns the wait until the next fire time.
func (s *Scheduler) untilNext() time.Duration {
	now := s.now()
	d := s.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Run blocks until ctx is cancelled, firing a batch at every scheduled time.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.untilNext())
	defer timer.Stop()
	log.Printf("batch: scheduler started, next run at %s", s.Next(s.now()).Format(time.RFC3339))

	for {
		select {
		case <-ctx.Done():
			log.Printf("batch: scheduler stopped")
			return
		case <-timer.C:
			s.fire(ctx)
			timer.Reset(s.untilNext())
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	start := s.now()
	ok, failed, err := s.runner.RunAll(ctx, TriggerCron)
	if err != nil {
		log.Printf("batch: scheduled run: %v", err)
	}
	log.Printf("batch: scheduled run finished in %s: %d completed, %d failed",
		s.now().Sub(start).Round(time.Millisecond), ok, failed)
	if s.fired != nil {
		s.fired(ok, failed, err)
	}
}
