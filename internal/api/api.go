// Package api bootstraps ReadPipe and serves its health endpoint.
//
// Run wires the store, cache, messaging gateway and reminder engine, registers
// the cron triggers and blocks until the context is cancelled or a trigger
// panics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ReadPipe/internal/cache"
	"github.com/BTreeMap/ReadPipe/internal/dedup"
	"github.com/BTreeMap/ReadPipe/internal/lockfile"
	"github.com/BTreeMap/ReadPipe/internal/reminder"
	"github.com/BTreeMap/ReadPipe/internal/scheduler"
	"github.com/BTreeMap/ReadPipe/internal/store"
	"github.com/codeGROOVE-dev/retry"
)

// Default configuration constants
const (
	DefaultAddr            = ":3000"
	DefaultTickSchedule    = "* * * * *"
	DefaultSweepSchedule   = "0 2 * * *"
	DefaultMissedSchedule  = "0 20 * * *"
	DefaultConnectAttempts = 5
	DefaultConnectDelay    = time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Trigger job names.
const (
	JobTick   = "tick"
	JobSweep  = "sweep"
	JobMissed = "missed"
)

// ErrJobPanicked is the cause Run returns when a trigger run panics.
var ErrJobPanicked = errors.New("scheduled job panicked")

// ErrCacheNotConfigured is returned when neither Redis nor the in-memory cache is selected.
var ErrCacheNotConfigured = errors.New("no cache configured: set Redis options or enable the in-memory cache")

// Opts holds configuration for the API server and the process bootstrap.
type Opts struct {
	Addr            string
	DatabaseDSN     string
	StateDir        string // lock file directory; empty disables the lock
	Location        *time.Location
	Gateway         string
	TickSchedule    string
	SweepSchedule   string
	MissedSchedule  string
	RunOnStart      bool
	MemoryCache     bool
	ConnectAttempts uint
	ConnectDelay    time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the health server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithDatabaseDSN sets the store DSN: a Postgres URL or an SQLite path.
func WithDatabaseDSN(dsn string) Option {
	return func(o *Opts) { o.DatabaseDSN = dsn }
}

// WithStateDir sets the directory holding the single-instance lock file.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithLocation sets the time zone for triggers and plan days.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithGateway selects the messaging provider: evolution, twilio or whatsmeow.
func WithGateway(name string) Option {
	return func(o *Opts) { o.Gateway = name }
}

// WithTickSchedule overrides the per-minute reminder trigger.
func WithTickSchedule(expr string) Option {
	return func(o *Opts) { o.TickSchedule = expr }
}

// WithSweepSchedule overrides the daily marker sweep trigger.
func WithSweepSchedule(expr string) Option {
	return func(o *Opts) { o.SweepSchedule = expr }
}

// WithMissedSchedule overrides the daily missed-reading scan trigger.
func WithMissedSchedule(expr string) Option {
	return func(o *Opts) { o.MissedSchedule = expr }
}

// WithRunOnStart controls whether one reminder evaluation runs at startup.
func WithRunOnStart(enabled bool) Option {
	return func(o *Opts) { o.RunOnStart = enabled }
}

// WithMemoryCache keeps markers in process memory instead of Redis. Markers
// are lost on restart, so a restarted process may resend the current minute.
func WithMemoryCache(enabled bool) Option {
	return func(o *Opts) { o.MemoryCache = enabled }
}

// WithConnectRetry sets how often and how fast startup connections are retried.
func WithConnectRetry(attempts uint, delay time.Duration) Option {
	return func(o *Opts) {
		o.ConnectAttempts = attempts
		o.ConnectDelay = delay
	}
}

func defaultOpts() Opts {
	return Opts{
		Addr:            DefaultAddr,
		Location:        time.Local,
		Gateway:         GatewayEvolution,
		TickSchedule:    DefaultTickSchedule,
		SweepSchedule:   DefaultSweepSchedule,
		MissedSchedule:  DefaultMissedSchedule,
		RunOnStart:      true,
		ConnectAttempts: DefaultConnectAttempts,
		ConnectDelay:    DefaultConnectDelay,
	}
}

func resolveOpts(apiOpts []Option) Opts {
	cfg := defaultOpts()
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return cfg
}

// Run starts ReadPipe and blocks until ctx is cancelled. Resources are
// released in reverse construction order. Markers live in Redis unless the
// in-memory cache is enabled with WithMemoryCache.
func Run(ctx context.Context, storeOpts []store.Option, cacheOpts []cache.Option, gwOpts GatewayOptions,
	dedupOpts []dedup.Option, engineOpts []reminder.Option, apiOpts []Option) error {
	cfg := resolveOpts(apiOpts)
	if cfg.DatabaseDSN == "" {
		return store.ErrDSNNotSet
	}
	if !cfg.MemoryCache && len(cacheOpts) == 0 {
		return ErrCacheNotConfigured
	}
	slog.Debug("api.Run: configuration", "addr", cfg.Addr, "gateway", cfg.Gateway, "location", cfg.Location.String(),
		"state_dir", cfg.StateDir, "run_on_start", cfg.RunOnStart, "memory_cache", cfg.MemoryCache)

	if cfg.StateDir != "" {
		lock, err := lockfile.AcquireLock(cfg.StateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	st, err := connect(runCtx, cfg, "store", func() (store.Store, error) {
		return store.Open(runCtx, cfg.DatabaseDSN, storeOpts...)
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var c cache.Cache
	if cfg.MemoryCache {
		slog.Warn("api.Run: using the in-memory cache, markers will not survive a restart")
		c = cache.NewMemoryCache()
	} else {
		c, err = connect(runCtx, cfg, "cache", func() (cache.Cache, error) {
			return cache.NewRedisCache(runCtx, cacheOpts...)
		})
		if err != nil {
			return fmt.Errorf("connect cache: %w", err)
		}
	}
	defer c.Close()

	svc, err := newGateway(runCtx, cfg.Gateway, gwOpts)
	if err != nil {
		return fmt.Errorf("create %s gateway: %w", cfg.Gateway, err)
	}
	defer svc.Stop()

	markers := dedup.New(c, dedupOpts...)
	engine := reminder.NewEngine(st, svc, markers,
		append([]reminder.Option{reminder.WithLocation(cfg.Location)}, engineOpts...)...)

	sched := scheduler.NewScheduler(runCtx,
		scheduler.WithLocation(cfg.Location),
		scheduler.WithPanicHandler(func(job string, recovered any) {
			cancel(fmt.Errorf("%w: %s: %v", ErrJobPanicked, job, recovered))
		}),
	)
	if err := registerJobs(sched, engine, cfg); err != nil {
		return err
	}

	srv := NewServer(cfg.Addr, sched)
	sched.Start()
	if cfg.RunOnStart {
		if err := sched.Trigger(JobTick); err != nil {
			slog.Error("api.Run: startup evaluation failed", "error", err)
		}
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel(fmt.Errorf("http server: %w", err))
		}
	}()
	slog.Info("ReadPipe running", "addr", cfg.Addr, "gateway", cfg.Gateway, "location", cfg.Location.String())

	<-runCtx.Done()
	slog.Info("api.Run: shutting down", "cause", context.Cause(runCtx))

	shutdownCtx, stop := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api.Run: http shutdown", "error", err)
	}
	sched.Stop()

	if cause := context.Cause(runCtx); !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// SendTest opens the store and gateway, sends one sample reminder to the
// subscriber with phone and returns. It takes the state directory lock like Run.
func SendTest(ctx context.Context, phone string, storeOpts []store.Option, gwOpts GatewayOptions,
	engineOpts []reminder.Option, apiOpts []Option) error {
	cfg := resolveOpts(apiOpts)
	if cfg.DatabaseDSN == "" {
		return store.ErrDSNNotSet
	}
	if cfg.StateDir != "" {
		lock, err := lockfile.AcquireLock(cfg.StateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := connect(ctx, cfg, "store", func() (store.Store, error) {
		return store.Open(ctx, cfg.DatabaseDSN, storeOpts...)
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	svc, err := newGateway(ctx, cfg.Gateway, gwOpts)
	if err != nil {
		return fmt.Errorf("create %s gateway: %w", cfg.Gateway, err)
	}
	defer svc.Stop()

	// Test sends bypass markers; the engine still needs a marker store.
	markers := dedup.New(cache.NewMemoryCache())
	engine := reminder.NewEngine(st, svc, markers,
		append([]reminder.Option{reminder.WithLocation(cfg.Location)}, engineOpts...)...)
	return engine.SendTest(ctx, phone)
}

// registerJobs adds the three triggers. Each run's error is logged by the scheduler.
func registerJobs(sched *scheduler.Scheduler, engine *reminder.Engine, cfg Opts) error {
	jobs := []struct {
		name string
		expr string
		fn   scheduler.Job
	}{
		{JobTick, cfg.TickSchedule, func(ctx context.Context) error {
			_, err := engine.RunTick(ctx)
			return err
		}},
		{JobSweep, cfg.SweepSchedule, func(ctx context.Context) error {
			_, err := engine.RunSweep(ctx)
			return err
		}},
		{JobMissed, cfg.MissedSchedule, func(ctx context.Context) error {
			_, err := engine.RunMissedScan(ctx)
			return err
		}},
	}
	for _, j := range jobs {
		if err := sched.AddJob(j.name, j.expr, j.fn); err != nil {
			return err
		}
	}
	return nil
}

// connect retries fn with jittered backoff until it succeeds or attempts run out.
func connect[T any](ctx context.Context, cfg Opts, what string, fn func() (T, error)) (T, error) {
	var out T
	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}
	err := retry.Do(
		func() error {
			v, err := fn()
			if err != nil {
				return err
			}
			out = v
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(cfg.ConnectDelay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(cfg.ConnectDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("api.Run: connection failed, retrying", "dependency", what, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return out, fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	return out, nil
}
