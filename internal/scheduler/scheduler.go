// Package scheduler owns the registry of named recurring jobs that
// recompute time-derived state and feed the dispatcher.
//
// Jobs are independent: each due job runs in its own goroutine, a
// per-job running flag prevents overlap of the same job, and a long job
// never delays the others. Stop is cooperative: it disarms future ticks
// without interrupting a run already in progress.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/pulse/internal/observability"
)

// ErrJobNotFound indicates a RunNow target that is not registered.
var ErrJobNotFound = errors.New("job not found")

// Job is one named recurring job.
type Job struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) error

	// Managed by the registry.
	NextRun   time.Time
	LastRun   time.Time
	LastError string
	running   bool
}

// JobStatus is an immutable snapshot of a job for the control surface.
type JobStatus struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	NextRun   time.Time `json:"next_run"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
	Running   bool      `json:"running"`
}

// Registry holds jobs and drives their cadences from a single tick loop.
type Registry struct {
	logger       *slog.Logger
	metrics      *observability.Metrics
	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	jobs    map[string]*Job
	order   []string
	started bool
	stop    chan struct{}
	loopWG  sync.WaitGroup
	jobWG   sync.WaitGroup
}

// Option configures the registry.
type Option func(*Registry)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTickInterval overrides the tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.tickInterval = interval
		}
	}
}

// WithMetrics attaches job metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty job registry.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:       logger.With("component", "scheduler"),
		now:          time.Now,
		tickInterval: time.Second,
		jobs:         make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a job. Registering a duplicate name is an error.
func (r *Registry) Register(name, spec string, run func(ctx context.Context) error) error {
	schedule, err := NewSchedule(spec)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}
	r.jobs[name] = &Job{Name: name, Schedule: schedule, Run: run}
	r.order = append(r.order, name)
	sort.Strings(r.order)
	return nil
}

// Start arms every job's cadence and launches the tick loop. Starting an
// already-started registry is a no-op.
func (r *Registry) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.stop = make(chan struct{})
	now := r.now()
	for _, job := range r.jobs {
		job.NextRun = job.Schedule.Next(now)
	}
	stop := r.stop
	r.mu.Unlock()

	r.logger.Info("scheduler started", "jobs", len(r.jobs), "tick_interval", r.tickInterval)
	r.loopWG.Add(1)
	go func() {
		defer r.loopWG.Done()
		ticker := time.NewTicker(r.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.runDue(context.Background())
			}
		}
	}()
}

// Stop disarms every cadence. Stopping an already-stopped registry is a
// no-op. In-flight runs are not interrupted.
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	close(r.stop)
	for _, job := range r.jobs {
		job.NextRun = time.Time{}
	}
	r.mu.Unlock()

	r.loopWG.Wait()
	r.logger.Info("scheduler stopped")
}

// Wait blocks until in-flight job runs finish. Called after Stop at
// shutdown and by tests.
func (r *Registry) Wait() {
	r.jobWG.Wait()
}

// Started reports whether cadences are armed.
func (r *Registry) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Tick runs every due job once against the current clock. The tick loop
// calls it each interval; tests call it directly with a fake clock.
func (r *Registry) Tick(ctx context.Context) int {
	return r.runDue(ctx)
}

// RunNow executes a job immediately regardless of its schedule. It
// returns the job's error; an unknown name or an already-running job is
// an error.
func (r *Registry) RunNow(ctx context.Context, name string) error {
	r.mu.Lock()
	job, ok := r.jobs[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrJobNotFound)
	}
	if job.running {
		r.mu.Unlock()
		return fmt.Errorf("job %s already running", name)
	}
	job.running = true
	job.LastRun = r.now()
	r.mu.Unlock()

	err := r.execute(ctx, job)
	r.finish(job, err)
	return err
}

// Jobs returns status snapshots in name order.
func (r *Registry) Jobs() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobStatus, 0, len(r.order))
	for _, name := range r.order {
		job := r.jobs[name]
		out = append(out, JobStatus{
			Name:      job.Name,
			Spec:      job.Schedule.String(),
			NextRun:   job.NextRun,
			LastRun:   job.LastRun,
			LastError: job.LastError,
			Running:   job.running,
		})
	}
	return out
}

// runDue launches every due, non-running job in its own goroutine and
// advances its NextRun. Returns the number of jobs launched.
func (r *Registry) runDue(ctx context.Context) int {
	now := r.now()
	launched := 0

	r.mu.Lock()
	var due []*Job
	for _, name := range r.order {
		job := r.jobs[name]
		if job.NextRun.IsZero() || now.Before(job.NextRun) || job.running {
			continue
		}
		job.running = true
		job.LastRun = now
		job.NextRun = job.Schedule.Next(now)
		due = append(due, job)
	}
	r.mu.Unlock()

	for _, job := range due {
		launched++
		r.jobWG.Add(1)
		go func(job *Job) {
			defer r.jobWG.Done()
			r.finish(job, r.execute(ctx, job))
		}(job)
	}
	return launched
}

func (r *Registry) execute(ctx context.Context, job *Job) error {
	start := r.now()
	r.logger.Debug("job starting", "job", job.Name)
	err := job.Run(ctx)
	elapsed := r.now().Sub(start)

	status := "success"
	if err != nil {
		status = "error"
		r.logger.Warn("job failed", "job", job.Name, "elapsed", elapsed, "error", err)
	} else {
		r.logger.Info("job finished", "job", job.Name, "elapsed", elapsed)
	}
	if r.metrics != nil {
		r.metrics.JobRuns.WithLabelValues(job.Name, status).Inc()
		r.metrics.JobDuration.WithLabelValues(job.Name).Observe(elapsed.Seconds())
	}
	return err
}

func (r *Registry) finish(job *Job, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.running = false
	if err != nil {
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
}
