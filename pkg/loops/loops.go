// Package loops runs the bot's background maintenance jobs — retention
// pruning, episode-monitor idle sweeps, resource/health snapshots, the
// donation reminder, and profile (fact confidence) decay — each on its
// own independent cron schedule, tolerant of missed ticks (spec.md §4's
// "each must be idempotent and tolerant of missed ticks").
//
// robfig/cron/v3 here schedules plain infra jobs, the way the teacher's
// go.mod pulls it in but never actually uses it for its own user-facing
// cron feature (pkg/cron hand-rolls a timer-based scheduler instead,
// using robfig/cron only as a cron-expression parser in schedule.go).
package loops

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Job is one named, independently scheduled unit of background work.
// Run must be idempotent: a missed tick, a retried tick, or two ticks
// firing back to back must never corrupt state.
type Job struct {
	Name     string
	Schedule string // standard 5-field cron expression
	Run      func(ctx context.Context) error
}

// Scheduler owns a cron.Cron instance and the set of jobs registered on
// it, plus enough bookkeeping to run every job once outside the cron
// clock (startup warm-up, admin-triggered "run maintenance now", tests).
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
	jobs []Job
}

// New builds an empty Scheduler. Use Register to add jobs before Start.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log.With().Str("component", "loops").Logger(),
	}
}

// Register adds job to the scheduler. A job run never aborts another:
// each wraps its own panic-free error return into a single log line so
// one misbehaving loop can't take down the process or the others.
func (s *Scheduler) Register(job Job) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.runOnce(job)
	})
	if err != nil {
		return fmt.Errorf("loops: register %q: %w", job.Name, err)
	}
	_ = entryID
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *Scheduler) runOnce(job Job) {
	start := time.Now()
	err := job.Run(context.Background())
	logEvt := s.log.Info()
	if err != nil {
		logEvt = s.log.Warn().Err(err)
	}
	logEvt.Str("job", job.Name).Dur("elapsed", time.Since(start)).Msg("background loop tick")
}

// Start begins the cron clock. Non-blocking; ticks fire on cron's own
// goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop requests the cron clock stop accepting new ticks and waits (up to
// ctx's deadline) for any in-flight job to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunAllOnce runs every registered job's Run function once, concurrently,
// returning the first error encountered (others still run to
// completion). Used for a startup warm-up pass and by tests that don't
// want to wait on cron's own clock.
func (s *Scheduler) RunAllOnce(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		job := job
		g.Go(func() error { return job.Run(gctx) })
	}
	return g.Wait()
}

// Jobs returns the registered job list, for diagnostics and tests.
func (s *Scheduler) Jobs() []Job {
	return append([]Job(nil), s.jobs...)
}
