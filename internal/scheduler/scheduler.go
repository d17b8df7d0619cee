// Package scheduler runs named jobs on fixed per-minute intervals. It is a
// polling scheduler: a ticker wakes it up, due jobs run sequentially, and a
// per-job exclusivity flag keeps manual triggers from overlapping scheduled
// runs.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// pollInterval is how often the loop checks for due jobs.
const pollInterval = 60 * time.Second

// JobFunc is one schedulable unit of work. The returned value is surfaced
// through the manual-run API; scheduled runs only log it.
type JobFunc func(ctx context.Context) (any, error)

type job struct {
	name     string
	fn       JobFunc
	interval time.Duration

	lastRun    time.Time // zero until the first successful run
	nextRun    time.Time // zero means due immediately
	running    bool
	runCount   int
	errorCount int
}

// shouldRun reports whether the job is due. Callers hold the scheduler lock.
func (j *job) shouldRun(now time.Time) bool {
	if j.running {
		return false
	}
	if j.nextRun.IsZero() {
		return true
	}
	return !now.Before(j.nextRun)
}

// JobStatus is one job's snapshot in a Status report.
type JobStatus struct {
	IntervalMinutes int        `json:"interval_minutes"`
	LastRun         *time.Time `json:"last_run"`
	NextRun         *time.Time `json:"next_run"`
	Running         bool       `json:"is_running"`
	RunCount        int        `json:"run_count"`
	ErrorCount      int        `json:"error_count"`
}

// Status is a point-in-time snapshot of the scheduler and all its jobs.
type Status struct {
	Running bool                 `json:"running"`
	Jobs    map[string]JobStatus `json:"jobs"`
}

// Scheduler owns the job table and the polling loop.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	order   []string // registration order, for deterministic ticks
	running bool

	tick   time.Duration
	logger *slog.Logger
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:   make(map[string]*job),
		tick:   pollInterval,
		logger: logger,
	}
}

// AddJob registers a job under name, replacing any existing registration.
// A fresh job is due on the next tick.
func (s *Scheduler) AddJob(name string, interval time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; !exists {
		s.order = append(s.order, name)
	}
	s.jobs[name] = &job{name: name, fn: fn, interval: interval}
	s.logger.Info("scheduler: job added", "job", name, "interval", interval)
}

// RemoveJob unregisters a job. A currently running invocation finishes but
// will not be rescheduled.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; !ok {
		return
	}
	delete(s.jobs, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.logger.Info("scheduler: job removed", "job", name)
}

// RunJob runs a job immediately and waits for it. ok is false when the job
// is unknown or already running; a refused run changes no counters. On
// acceptance the job's outcome is returned: success advances lastRun/nextRun
// and the run counter, failure only the error counter, so a failed job stays
// due.
func (s *Scheduler) RunJob(ctx context.Context, name string) (result any, ok bool, err error) {
	j := s.acquire(name)
	if j == nil {
		return nil, false, nil
	}
	result, err = s.execute(ctx, j)
	return result, true, err
}

// TriggerJob starts a manual run in the background and returns immediately.
// started is false when the job exists but is mid-run; found is false when
// no job has that name.
func (s *Scheduler) TriggerJob(name string) (started, found bool) {
	s.mu.Lock()
	_, found = s.jobs[name]
	s.mu.Unlock()
	if !found {
		return false, false
	}

	j := s.acquire(name)
	if j == nil {
		return false, true
	}
	go s.execute(context.Background(), j)
	return true, true
}

// acquire claims a job's exclusivity flag. It returns nil when the job is
// unknown or already running.
func (s *Scheduler) acquire(name string) *job {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, found := s.jobs[name]
	if !found {
		s.logger.Error("scheduler: job not found", "job", name)
		return nil
	}
	if j.running {
		s.logger.Warn("scheduler: job already running", "job", name)
		return nil
	}
	j.running = true
	return j
}

// execute runs an acquired job and releases its flag.
func (s *Scheduler) execute(ctx context.Context, j *job) (any, error) {
	s.logger.Info("scheduler: running job", "job", j.name)
	result, err := j.fn(ctx)

	s.mu.Lock()
	j.running = false
	if err != nil {
		j.errorCount++
	} else {
		j.runCount++
		j.lastRun = time.Now().UTC()
		j.nextRun = j.lastRun.Add(j.interval)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduler: job failed", "job", j.name, "error", err)
		return nil, err
	}
	s.logger.Info("scheduler: job completed", "job", j.name)
	return result, nil
}

// Start launches the polling loop. It returns immediately; the loop exits
// when ctx is canceled. A job mid-run is not interrupted beyond the ctx it
// was handed.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("scheduler: already running")
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	s.logger.Info("scheduler: started")
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.logger.Info("scheduler: stopped")
	}()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// First pass without waiting a full tick.
	s.runDue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue runs every due job sequentially, in registration order. One job's
// failure never blocks the rest of the tick.
func (s *Scheduler) runDue(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	var due []string
	for _, name := range s.order {
		if j, ok := s.jobs[name]; ok && j.shouldRun(now) {
			due = append(due, name)
		}
	}
	s.mu.Unlock()

	for _, name := range due {
		if ctx.Err() != nil {
			return
		}
		s.RunJob(ctx, name)
	}
}

// Status returns a snapshot of the scheduler and every job.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make(map[string]JobStatus, len(s.jobs))
	for name, j := range s.jobs {
		js := JobStatus{
			IntervalMinutes: int(j.interval / time.Minute),
			Running:         j.running,
			RunCount:        j.runCount,
			ErrorCount:      j.errorCount,
		}
		if !j.lastRun.IsZero() {
			t := j.lastRun
			js.LastRun = &t
		}
		if !j.nextRun.IsZero() {
			t := j.nextRun
			js.NextRun = &t
		}
		jobs[name] = js
	}

	return Status{Running: s.running, Jobs: jobs}
}
