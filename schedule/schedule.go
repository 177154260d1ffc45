// Package schedule runs registered jobs on fixed intervals with explicit
// lifecycle control and single-flight execution per job.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one periodic task.
type Job struct {
	Run      func(ctx context.Context) error
	ID       string
	Interval time.Duration
}

type job struct {
	Job
	running atomic.Bool
}

// Scheduler owns a set of interval jobs. Jobs never overlap themselves:
// a tick that arrives while the previous run is still going is skipped.
type Scheduler struct {
	logger *slog.Logger
	jobs   map[string]*job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		jobs:   make(map[string]*job),
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", j.ID)
	}
	if j.Run == nil {
		return fmt.Errorf("job %s: run function is required", j.ID)
	}
	if _, exists := s.jobs[j.ID]; exists {
		return fmt.Errorf("job %s: already registered", j.ID)
	}

	s.jobs[j.ID] = &job{Job: j}
	return nil
}

// Start launches one ticker goroutine per registered job. It returns
// immediately; Stop shuts everything down.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)
	s.ctx = ctx

	for _, j := range s.jobs {
		s.wg.Add(1)
		go func(j *job) {
			defer s.wg.Done()

			ticker := time.NewTicker(j.Interval)
			defer ticker.Stop()

			s.logger.Info("Job scheduled", "job", j.ID, "interval", j.Interval)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.runJob(ctx, j)
				}
			}
		}(j)
	}
}

// Trigger runs a job once, outside its normal schedule. The interval
// ticker is not reset. The run uses the scheduler's lifecycle context,
// not ctx, so a triggered job survives its caller (an HTTP handler's
// request context is canceled as soon as the response is written).
// Returns an error for unknown job IDs.
func (s *Scheduler) Trigger(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	j, ok := s.jobs[id]
	runCtx := s.ctx
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s: not registered", id)
	}
	if runCtx == nil {
		runCtx = context.WithoutCancel(ctx)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJob(runCtx, j)
	}()
	return nil
}

// runJob executes a job unless an earlier run is still in flight. Job
// errors are logged, never propagated; one bad run must not stop the
// schedule.
func (s *Scheduler) runJob(ctx context.Context, j *job) {
	if !j.running.CompareAndSwap(false, true) {
		s.logger.Warn("Job still running, skipping this tick", "job", j.ID)
		return
	}
	defer j.running.Store(false)

	start := time.Now()
	s.logger.Info("Job starting", "job", j.ID)

	if err := j.Run(ctx); err != nil {
		s.logger.Error("Job failed",
			"job", j.ID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return
	}

	s.logger.Info("Job completed",
		"job", j.ID,
		"duration_ms", time.Since(start).Milliseconds())
}

// Stop cancels all job contexts and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}
