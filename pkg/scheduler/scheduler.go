// Package scheduler runs named jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds one scheduled execution.
const DefaultJobTimeout = 30 * time.Minute

// Job is a scheduled task.
type Job func(ctx context.Context) error

// JobInfo describes a registered job.
type JobInfo struct {
	Name     string
	Schedule string
	NextRun  time.Time
	LastRun  time.Time
}

// Scheduler wraps a cron runner with logging and per-job timeouts.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration

	mu        sync.Mutex
	jobs      map[string]cron.EntryID
	schedules map[string]string
	base      context.Context
}

// New creates a scheduler evaluating schedules in timezone ("" means UTC).
func New(timezone string, logger *slog.Logger) (*Scheduler, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
		}
	}
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(loc)),
		logger:    logger.With("component", "scheduler"),
		timeout:   DefaultJobTimeout,
		jobs:      make(map[string]cron.EntryID),
		schedules: make(map[string]string),
		base:      context.Background(),
	}, nil
}

// AddJob registers job under name with a standard five-field cron spec
// such as "0 12,19 * * *".
func (s *Scheduler) AddJob(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %s already scheduled", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.execute(name, job) })
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	s.jobs[name] = id
	s.schedules[name] = spec
	s.logger.Info("job added", "job", name, "schedule", spec)
	return nil
}

func (s *Scheduler) execute(name string, job Job) {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()

	start := time.Now()
	s.logger.Info("job started", "job", name)
	if err := job(ctx); err != nil {
		s.logger.Warn("job failed", "job", name, "error", err)
		return
	}
	s.logger.Info("job completed", "job", name, "duration", time.Since(start))
}

// Run starts the cron loop and blocks until ctx is done, then waits for
// running jobs to return. Job contexts derive from ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs", len(s.ListJobs()))
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// ListJobs reports registered jobs with their next and previous runs.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for name, id := range s.jobs {
		e := s.cron.Entry(id)
		infos = append(infos, JobInfo{
			Name:     name,
			Schedule: s.schedules[name],
			NextRun:  e.Next,
			LastRun:  e.Prev,
		})
	}
	return infos
}
