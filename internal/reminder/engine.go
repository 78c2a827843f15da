package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReadPipe/internal/dedup"
	"github.com/BTreeMap/ReadPipe/internal/messaging"
	"github.com/BTreeMap/ReadPipe/internal/models"
	"github.com/BTreeMap/ReadPipe/internal/store"
)

// DefaultPacing is the pause between consecutive sends in one run.
const DefaultPacing = time.Second

// ErrSubscriberNotFound is returned by SendTest when no enrolled subscriber has the phone number.
var ErrSubscriberNotFound = errors.New("no enrolled subscriber with that phone number")

// SampleReading is the reading carried by test reminders.
var SampleReading = models.Reading{ReferenceText: "Genesis 1-3", BookName: "Genesis", Chapters: "1-3"}

// Opts holds configuration for the engine.
type Opts struct {
	Location        *time.Location
	Pacing          time.Duration
	MissedThreshold int
	Clock           Clock
}

// Option defines a configuration option for the engine.
type Option func(*Opts)

// WithLocation sets the time zone used for plan days and notification times.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithPacing sets the pause between sends; zero disables it.
func WithPacing(d time.Duration) Option {
	return func(o *Opts) { o.Pacing = d }
}

// WithMissedThreshold sets how many missed readings trigger an encouragement.
func WithMissedThreshold(n int) Option {
	return func(o *Opts) { o.MissedThreshold = n }
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

// Summary counts the outcomes of one run.
type Summary struct {
	Due     int `json:"due"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (s *Summary) add(o Outcome) {
	switch o {
	case OutcomeSent:
		s.Sent++
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkipped:
		s.Skipped++
	}
}

// Engine ties the resolver, dispatcher and detector to the three triggers.
type Engine struct {
	store      store.Store
	svc        messaging.Service
	resolver   *Resolver
	dispatcher *Dispatcher
	detector   *MissedDetector
	markers    *dedup.Store
	clock      Clock
	loc        *time.Location
	pacing     time.Duration
}

// NewEngine wires an engine over its owned collaborators.
func NewEngine(st store.Store, svc messaging.Service, markers *dedup.Store, opts ...Option) *Engine {
	cfg := Opts{Location: time.Local, Pacing: DefaultPacing, MissedThreshold: DefaultMissedThreshold, Clock: SystemClock{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Pacing < 0 {
		cfg.Pacing = 0
	}

	return &Engine{
		store:      st,
		svc:        svc,
		resolver:   NewResolver(st, cfg.Location),
		dispatcher: NewDispatcher(svc, markers, NewDeliveryLogger(st, cfg.Clock)),
		detector:   NewMissedDetector(st, cfg.Location, cfg.MissedThreshold),
		markers:    markers,
		clock:      cfg.Clock,
		loc:        cfg.Location,
		pacing:     cfg.Pacing,
	}
}

// RunTick sends the reminders due at the current minute. A cancelled context
// stops the run before the next subscriber.
func (e *Engine) RunTick(ctx context.Context) (Summary, error) {
	now := e.clock.Now().In(e.loc)
	dues, err := e.resolver.Resolve(ctx, now)
	if err != nil {
		return Summary{}, fmt.Errorf("resolve due readings: %w", err)
	}
	sum := Summary{Due: len(dues)}
	if len(dues) == 0 {
		slog.Debug("Engine.RunTick: nothing due", "clock", now.Format(models.ClockLayout))
		return sum, nil
	}
	slog.Info("Engine.RunTick: dispatching reminders", "clock", now.Format(models.ClockLayout), "due", len(dues))

	for i, due := range dues {
		if ctx.Err() != nil {
			slog.Info("Engine.RunTick: interrupted", "remaining", len(dues)-i)
			break
		}
		outcome := e.dispatcher.DispatchReminder(ctx, due, now)
		sum.add(outcome)
		if outcome != OutcomeSkipped && i < len(dues)-1 {
			if !e.pause(ctx) {
				slog.Info("Engine.RunTick: interrupted", "remaining", len(dues)-i-1)
				break
			}
		}
	}
	slog.Info("Engine.RunTick: finished", "due", sum.Due, "sent", sum.Sent, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum, nil
}

// RunMissedScan sends encouragement to subscribers who fell behind.
func (e *Engine) RunMissedScan(ctx context.Context) (Summary, error) {
	now := e.clock.Now().In(e.loc)
	behind, err := e.detector.Scan(ctx, now)
	if err != nil {
		return Summary{}, fmt.Errorf("scan missed readings: %w", err)
	}
	sum := Summary{Due: len(behind)}
	for i, b := range behind {
		if ctx.Err() != nil {
			slog.Info("Engine.RunMissedScan: interrupted", "remaining", len(behind)-i)
			break
		}
		slog.Debug("Engine.RunMissedScan: subscriber behind", "subscriberID", b.Enrollment.Subscriber.ID, "missed", b.Missed)
		outcome := e.dispatcher.DispatchEncouragement(ctx, b.Enrollment.Subscriber)
		sum.add(outcome)
		if outcome != OutcomeSkipped && i < len(behind)-1 {
			if !e.pause(ctx) {
				break
			}
		}
	}
	slog.Info("Engine.RunMissedScan: finished", "behind", sum.Due, "sent", sum.Sent, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum, nil
}

// RunSweep deletes reminder markers from previous days.
func (e *Engine) RunSweep(ctx context.Context) (int, error) {
	removed, err := e.markers.Sweep(ctx, e.clock.Now().In(e.loc))
	if err != nil {
		return removed, fmt.Errorf("sweep markers: %w", err)
	}
	slog.Info("Engine.RunSweep: finished", "removed", removed)
	return removed, nil
}

// SendTest sends a sample reminder to the enrolled subscriber whose phone
// matches phone, for the plan day of the current date. Markers are not used.
func (e *Engine) SendTest(ctx context.Context, phone string) error {
	want, err := e.svc.ValidateAndCanonicalizeRecipient(phone)
	if err != nil {
		return err
	}
	enrollments, err := e.store.ListEnrollments(ctx)
	if err != nil {
		return fmt.Errorf("list enrollments: %w", err)
	}
	now := e.clock.Now().In(e.loc)
	for _, enr := range enrollments {
		got, err := e.svc.ValidateAndCanonicalizeRecipient(enr.Subscriber.Phone)
		if err != nil || got != want {
			continue
		}
		day, err := enr.PlanDay(now, e.loc)
		if err != nil {
			return err
		}
		slog.Info("Engine.SendTest: sending sample reminder", "subscriberID", enr.Subscriber.ID, "day", day)
		reading := SampleReading
		reading.PlanID = enr.Plan.ID
		reading.DayNumber = day
		return e.dispatcher.DispatchTest(ctx, models.DueReading{Enrollment: enr, DayNumber: day, Reading: reading})
	}
	return fmt.Errorf("%w: %s", ErrSubscriberNotFound, phone)
}

// pause waits for the pacing delay and reports false if ctx ended first.
func (e *Engine) pause(ctx context.Context) bool {
	if e.pacing <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(e.pacing)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
