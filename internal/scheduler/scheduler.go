package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyRunning is returned by Start on a running scheduler
	ErrAlreadyRunning = errors.New("scheduler already running")
	// ErrUnknownJob is returned by RunNow for an unregistered job name
	ErrUnknownJob = errors.New("unknown job")
)

// JobFunc is one unit of scheduled work
type JobFunc func(ctx context.Context) error

// JobStatus reports the outcome of the last run of a job
type JobStatus struct {
	Name     string     `json:"name"`
	Spec     string     `json:"spec"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	LastErr  string     `json:"last_error,omitempty"`
	Runs     int        `json:"runs"`
	Failures int        `json:"failures"`
}

type job struct {
	entry  cron.EntryID
	fn     JobFunc
	status JobStatus
}

// Scheduler runs named jobs on six-field cron expressions (seconds first)
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]*job
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
	ctx     context.Context
	mu      sync.RWMutex
	running bool
}

// New creates a scheduler; timeout bounds each run, zero means unbounded
func New(logger *zap.Logger, timeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		jobs:    make(map[string]*job),
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
		ctx:     context.Background(),
	}
}

// Add registers fn under name on spec
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{fn: fn, status: JobStatus{Name: name, Spec: spec}}
	entry, err := s.cron.AddFunc(spec, func() { s.run(name) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}
	j.entry = entry
	s.jobs[name] = j
	return nil
}

// Start begins firing jobs; they run under ctx until Stop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.ctx = ctx

	s.logger.Info("Starting scheduler", zap.Int("jobs", len(s.jobs)))
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
}

// RunNow executes the named job synchronously
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	_, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(name)
}

// Status returns the last-run status of every job
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.status)
	}
	return out
}

func (s *Scheduler) run(name string) error {
	s.mu.RLock()
	j := s.jobs[name]
	ctx := s.ctx
	s.mu.RUnlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := s.now()
	err := j.fn(ctx)

	s.mu.Lock()
	j.status.LastRun = &start
	j.status.Runs++
	j.status.LastErr = ""
	if err != nil {
		j.status.Failures++
		j.status.LastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled job failed", zap.String("job", name), zap.Error(err))
		return err
	}
	s.logger.Info("Scheduled job finished",
		zap.String("job", name),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
