package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReadPipe/internal/models"
	"github.com/BTreeMap/ReadPipe/internal/store"
)

// DefaultMissedThreshold is how many incomplete past-due readings qualify a subscriber.
const DefaultMissedThreshold = 3

// Behind is a subscriber who qualifies for an encouragement message.
type Behind struct {
	Enrollment models.Enrollment
	Missed     int
}

// MissedDetector finds subscribers with too many incomplete past-due readings.
type MissedDetector struct {
	store     store.Store
	loc       *time.Location
	threshold int
}

// NewMissedDetector creates a detector; a threshold below 1 uses DefaultMissedThreshold.
func NewMissedDetector(s store.Store, loc *time.Location, threshold int) *MissedDetector {
	if threshold < 1 {
		threshold = DefaultMissedThreshold
	}
	return &MissedDetector{store: s, loc: loc, threshold: threshold}
}

// MissedCount returns how many readings scheduled strictly before the date of
// now are still incomplete. Plan days without a reading are not counted.
func (m *MissedDetector) MissedCount(ctx context.Context, e models.Enrollment, now time.Time) (int, error) {
	if e.Subscriber.StartedAt == nil {
		return 0, models.ErrNotEnrolled
	}
	pastDue := models.DaysBetween(*e.Subscriber.StartedAt, now, m.loc)
	if pastDue > e.Plan.TotalDays {
		pastDue = e.Plan.TotalDays
	}
	if pastDue <= 0 {
		return 0, nil
	}
	missed, err := m.store.CountIncompleteThrough(ctx, e.Subscriber.ID, e.Plan.ID, pastDue)
	if err != nil {
		return 0, fmt.Errorf("count incomplete days: %w", err)
	}
	return missed, nil
}

// Scan returns every enrolled subscriber at or above the threshold.
// Per-subscriber errors are logged and skipped.
func (m *MissedDetector) Scan(ctx context.Context, now time.Time) ([]Behind, error) {
	enrollments, err := m.store.ListEnrollments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	var behind []Behind
	for _, e := range enrollments {
		if err := ctx.Err(); err != nil {
			return behind, err
		}
		missed, err := m.MissedCount(ctx, e, now)
		if err != nil {
			slog.Error("MissedDetector.Scan: skipping subscriber", "subscriberID", e.Subscriber.ID, "error", err)
			continue
		}
		if missed >= m.threshold {
			behind = append(behind, Behind{Enrollment: e, Missed: missed})
		}
	}
	slog.Debug("MissedDetector.Scan: finished", "scanned", len(enrollments), "behind", len(behind), "threshold", m.threshold)
	return behind, nil
}
