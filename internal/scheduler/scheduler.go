// Package scheduler runs the background jobs of the bridge on cron
// schedules: refreshing cached instructions and refreshing the access token
// before it expires.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Disabled turns a job off when used as its schedule.
const Disabled = "-"

// Job is one named task.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
	// RunOnStart also runs the job once when the scheduler starts.
	RunOnStart bool
}

// Scheduler owns a cron instance and the jobs registered on it.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    []Job
	ids     map[string]cron.EntryID
	running bool
	wg      sync.WaitGroup
}

// New creates a stopped scheduler.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ids:  make(map[string]cron.EntryID),
	}
}

// Add validates and registers a job. Empty or "-" schedules are skipped.
func (s *Scheduler) Add(job Job) error {
	spec := strings.TrimSpace(job.Schedule)
	if spec == "" || spec == Disabled {
		log.Debugf("scheduler: job %s disabled", job.Name)
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, job.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ids[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	job.Schedule = spec
	s.jobs = append(s.jobs, job)
	s.ids[job.Name] = 0
	return nil
}

// Start schedules every registered job. ctx is handed to each run and
// cancelling it stops the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	for _, job := range s.jobs {
		id, err := s.cron.AddFunc(job.Schedule, func() { s.run(ctx, job) })
		if err != nil {
			return fmt.Errorf("failed to schedule job %s: %w", job.Name, err)
		}
		s.ids[job.Name] = id
		if job.RunOnStart {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.run(ctx, job)
			}()
		}
	}

	s.cron.Start()
	s.running = true
	log.Infof("scheduler started with %d job(s)", len(s.jobs))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	if err := job.Run(ctx); err != nil {
		log.Errorf("scheduled job %s failed: %v", job.Name, err)
		return
	}
	log.Debugf("scheduled job %s finished in %s", job.Name, time.Since(started).Round(time.Millisecond))
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.running = false
	log.Info("scheduler stopped")
}

// IsRunning reports whether Start has been called and Stop has not.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next activation of the named job.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[name]
	if !ok || id == 0 {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return time.Time{}, false
	}
	return entry.Next, true
}
