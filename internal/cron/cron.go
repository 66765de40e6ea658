package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// Job defines a periodic task.
// Schedule supports only the form "@every <duration>" (e.g., "@every 1h").
// A tick that fires while the previous run is still active is rescheduled
// rather than run in parallel, unless AllowOverlap is set.
//
// Name must be unique across jobs inside the same Scheduler.
type Job struct {
	Name         string
	Schedule     string
	Task         func(ctx context.Context)
	AllowOverlap bool
}

// parseEvery parses schedules of the form "@every <duration>".
func parseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	durStr := strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("@every duration must be > 0")
	}
	return d, nil
}

// Every formats d as an "@every" schedule.
func Every(d time.Duration) string { return "@every " + d.String() }

func (j *Job) validate() error {
	if j.Name == "" {
		return errors.New("cron job requires a name")
	}
	if j.Schedule == "" {
		return errors.New("cron job requires a schedule")
	}
	if j.Task == nil {
		return errors.New("cron job requires a task")
	}
	_, err := parseEvery(j.Schedule)
	return err
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock drives the scheduler from clk; tests pass a fake clock.
func WithClock(clk clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = clk }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler runs jobs on a gocron scheduler.
// Use Start to launch it, and Stop to cancel running tasks and shut it down.
type Scheduler struct {
	clock clockwork.Clock
	log   *slog.Logger

	mu      sync.Mutex
	jobs    []*Job
	sched   gocron.Scheduler
	handles map[string]gocron.Job
	cancel  context.CancelFunc
}

func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{clock: clockwork.NewRealClock(), log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add registers a job. Jobs must be added before Start.
func (s *Scheduler) Add(job *Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched != nil {
		return errors.New("scheduler already started")
	}
	for _, j := range s.jobs {
		if j.Name == job.Name {
			return fmt.Errorf("cron job %s already exists", job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start launches all jobs. Call Stop to cancel.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched != nil {
		return errors.New("scheduler already started")
	}
	sched, err := gocron.NewScheduler(gocron.WithClock(s.clock))
	if err != nil {
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	handles := make(map[string]gocron.Job, len(s.jobs))
	for _, j := range s.jobs {
		d, err := parseEvery(j.Schedule)
		if err != nil {
			cancel()
			_ = sched.Shutdown()
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		opts := []gocron.JobOption{gocron.WithName(j.Name)}
		if !j.AllowOverlap {
			opts = append(opts, gocron.WithSingletonMode(gocron.LimitModeReschedule))
		}
		task := j.Task
		h, err := sched.NewJob(
			gocron.DurationJob(d),
			gocron.NewTask(func() { task(ctx) }),
			opts...,
		)
		if err != nil {
			cancel()
			_ = sched.Shutdown()
			return fmt.Errorf("failed to create job %s: %w", j.Name, err)
		}
		handles[j.Name] = h
		s.log.Info("Scheduled job", "name", j.Name, "every", d)
	}
	sched.Start()
	s.sched, s.handles, s.cancel = sched, handles, cancel
	return nil
}

// RunNow triggers the named job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	h, ok := s.handles[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("cron job %s not found or scheduler not started", name)
	}
	return h.RunNow()
}

// Stop cancels all jobs and waits for running tasks to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	sched, cancel := s.sched, s.cancel
	s.sched, s.handles, s.cancel = nil, nil, nil
	s.mu.Unlock()
	if sched == nil {
		return nil
	}
	cancel()
	return sched.Shutdown()
}
