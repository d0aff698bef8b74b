package task

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is a function the Scheduler runs at a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	// RunOnStart runs the job once immediately instead of waiting a full interval.
	RunOnStart bool
}

// Scheduler runs periodic jobs, each in its own goroutine. Runs of the same
// job never overlap.
type Scheduler struct {
	jobs   []Job
	logger *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewScheduler creates a Scheduler with no jobs.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger.With(slog.String("component", "scheduler"))}
}

// Add registers a job. Jobs with a non-positive interval are ignored.
// Add must be called before Start.
func (s *Scheduler) Add(job Job) {
	if job.Interval <= 0 || job.Run == nil {
		s.logger.Warn("ignoring job without interval or function", "job", job.Name)
		return
	}
	s.jobs = append(s.jobs, job)
}

// Start launches every registered job. The jobs stop when ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels every job and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	if job.RunOnStart {
		s.runOnce(ctx, job)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	log := s.logger.With("job", job.Name)

	defer func() {
		if r := recover(); r != nil {
			log.Error("scheduled job panicked", "panic", r)
		}
	}()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		log.Error("scheduled job failed", "error", err, "duration", time.Since(start))
		return
	}
	log.Debug("scheduled job finished", "duration", time.Since(start))
}
