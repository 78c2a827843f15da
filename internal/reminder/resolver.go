package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReadPipe/internal/models"
	"github.com/BTreeMap/ReadPipe/internal/store"
)

// Resolver computes the readings due at a given minute.
type Resolver struct {
	store store.Store
	loc   *time.Location
}

// NewResolver creates a resolver evaluating dates and times in loc.
func NewResolver(s store.Store, loc *time.Location) *Resolver {
	return &Resolver{store: s, loc: loc}
}

// Resolve returns every due reading for the minute containing now. Only
// subscribers whose notification time equals that minute exactly are
// considered. A failing subscriber lookup is logged and skipped; a failing
// listing aborts the run.
func (r *Resolver) Resolve(ctx context.Context, now time.Time) ([]models.DueReading, error) {
	local := now.In(r.loc)
	clock := local.Format(models.ClockLayout)

	enrollments, err := r.store.ListEnrollmentsAt(ctx, clock)
	if err != nil {
		return nil, fmt.Errorf("list enrollments at %s: %w", clock, err)
	}
	slog.Debug("Resolver.Resolve: candidates loaded", "clock", clock, "count", len(enrollments))

	due := make([]models.DueReading, 0, len(enrollments))
	for _, e := range enrollments {
		d, err := r.evaluate(ctx, e, local)
		if err != nil {
			slog.Error("Resolver.Resolve: skipping subscriber", "subscriberID", e.Subscriber.ID, "error", err)
			continue
		}
		if d != nil {
			due = append(due, *d)
		}
	}
	return due, nil
}

// evaluate returns the due reading for one enrollment, or nil when nothing is due.
func (r *Resolver) evaluate(ctx context.Context, e models.Enrollment, local time.Time) (*models.DueReading, error) {
	sub := e.Subscriber
	if !sub.Schedulable() {
		return nil, nil
	}
	day, err := e.PlanDay(local, r.loc)
	if err != nil {
		return nil, err
	}
	if day <= 0 || day > e.Plan.TotalDays {
		slog.Debug("Resolver: plan day out of range", "subscriberID", sub.ID, "day", day, "totalDays", e.Plan.TotalDays)
		return nil, nil
	}

	reading, err := r.store.GetReading(ctx, e.Plan.ID, day)
	if err != nil {
		return nil, fmt.Errorf("get reading for day %d: %w", day, err)
	}
	if reading == nil {
		slog.Warn("Resolver: no reading for plan day", "subscriberID", sub.ID, "planID", e.Plan.ID, "day", day)
		return nil, nil
	}

	done, err := r.store.IsDayCompleted(ctx, sub.ID, e.Plan.ID, day)
	if err != nil {
		return nil, fmt.Errorf("completion check for day %d: %w", day, err)
	}
	if done {
		slog.Debug("Resolver: day already completed", "subscriberID", sub.ID, "day", day)
		return nil, nil
	}

	return &models.DueReading{Enrollment: e, DayNumber: day, Reading: *reading}, nil
}
