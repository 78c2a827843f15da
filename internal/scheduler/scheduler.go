// Package scheduler provides the cron triggers that drive ReadPipe.
//
// Jobs are named, evaluated in a configured location, never overlap with
// themselves, and a panic escaping a job is reported to a handler instead of
// being swallowed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrDuplicateJob is returned when a job name is registered twice.
	ErrDuplicateJob = errors.New("job already registered")
	// ErrUnknownJob is returned when triggering a job that was never added.
	ErrUnknownJob = errors.New("unknown job")
)

// Job is the work run on every trigger. The context is cancelled on shutdown.
type Job func(ctx context.Context) error

// PanicHandler receives a panic value that escaped a job.
type PanicHandler func(job string, recovered any)

// Opts holds configuration for the scheduler.
type Opts struct {
	Location *time.Location
	OnPanic  PanicHandler
	Logger   cron.Logger
}

// Option defines a configuration option for the scheduler.
type Option func(*Opts)

// WithLocation evaluates cron expressions in loc instead of time.Local.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) {
		o.Location = loc
	}
}

// WithPanicHandler sets the function called after a job panics.
func WithPanicHandler(fn PanicHandler) Option {
	return func(o *Opts) {
		o.OnPanic = fn
	}
}

// WithLogger replaces the slog-backed cron logger.
func WithLogger(l cron.Logger) Option {
	return func(o *Opts) {
		o.Logger = l
	}
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	loc     *time.Location
	logger  cron.Logger
	onPanic PanicHandler

	mu   sync.Mutex
	jobs map[string]cron.EntryID
	wg   sync.WaitGroup // manual triggers; cron tracks its own runs
}

// NewScheduler creates a scheduler whose jobs receive ctx. Call Start to begin firing.
func NewScheduler(ctx context.Context, opts ...Option) *Scheduler {
	cfg := Opts{Location: time.Local}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = slogLogger{}
	}

	// Use standard 5-field cron parser (min, hour, dom, month, dow) plus @descriptors
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(cfg.Location), cron.WithLogger(cfg.Logger))
	return &Scheduler{
		cron:    c,
		ctx:     ctx,
		loc:     cfg.Location,
		logger:  cfg.Logger,
		onPanic: cfg.OnPanic,
		jobs:    make(map[string]cron.EntryID),
	}
}

// AddJob schedules fn under name using the provided cron expression.
// It returns an error if the expression is invalid or the name is taken.
func (s *Scheduler) AddJob(name, expr string, fn Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	job := cron.NewChain(
		cron.SkipIfStillRunning(s.logger),
		s.recoverPanic(name),
	).Then(cron.FuncJob(func() { s.run(name, fn) }))

	id, err := s.cron.AddJob(expr, job)
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, expr, err)
	}
	s.jobs[name] = id
	slog.Debug("Scheduler.AddJob: job registered", "job", name, "expr", expr, "location", s.loc.String())
	return nil
}

func (s *Scheduler) run(name string, fn Job) {
	start := time.Now()
	slog.Debug("Scheduler: job started", "job", name)
	if err := fn(s.ctx); err != nil {
		slog.Error("Scheduler: job failed", "job", name, "error", err, "duration", time.Since(start))
		return
	}
	slog.Debug("Scheduler: job finished", "job", name, "duration", time.Since(start))
}

// recoverPanic logs a panic with its stack and hands it to the panic handler.
func (s *Scheduler) recoverPanic(name string) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Scheduler: job panicked", "job", name, "panic", r, "stack", string(debug.Stack()))
					if s.onPanic != nil {
						s.onPanic(name, r)
					}
				}
			}()
			j.Run()
		})
	}
}

// Trigger runs a registered job once, now, in the background. It shares the
// job's non-overlap guard, so it is skipped if that job is already running.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	entry := s.cron.Entry(id)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		entry.WrappedJob.Run()
	}()
	return nil
}

// Start begins firing jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("Scheduler started", "jobs", len(s.jobs), "location", s.loc.String())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	slog.Info("Scheduler stopped")
}

// Location returns the time zone schedules are evaluated in.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// NextRun describes the next activation of a job.
type NextRun struct {
	Job  string    `json:"job"`
	Next time.Time `json:"next"`
}

// NextRuns lists each job's next activation, sorted by time. Before Start the
// times are zero.
func (s *Scheduler) NextRuns() []NextRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NextRun, 0, len(s.jobs))
	for name, id := range s.jobs {
		out = append(out, NextRun{Job: name, Next: s.cron.Entry(id).Next})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Next.Equal(out[j].Next) {
			return out[i].Job < out[j].Job
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out
}

// slogLogger adapts cron's logger interface to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	// cron reports every wake-up at Info; only skips are worth more than debug.
	if msg == "skip" {
		slog.Warn("Scheduler: run skipped, previous run still in progress")
		return
	}
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
