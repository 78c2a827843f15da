package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReadPipe/internal/models"
)

// enrollmentSelect is shared by the Postgres and SQLite enrollment queries;
// each backend substitutes its own expressions for the start date and clock.
const enrollmentSelect = `
	SELECT u.id, u.phone_number, COALESCE(u.name, ''), u.is_active,
	       u.current_plan_id, %s, %s, COALESCE(u.timezone, ''),
	       rp.id, rp.name, rp.total_days
	FROM users u
	JOIN reading_plans rp ON rp.id = u.current_plan_id
	WHERE u.is_active = %s
	  AND u.started_at IS NOT NULL
	  AND u.notification_time IS NOT NULL`

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZero returns nil for a zero day number.
func nilIfZero(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

// errMalformedEnrollment marks a row whose columns scanned but did not parse.
var errMalformedEnrollment = errors.New("malformed enrollment row")

// scanEnrollments reads every row produced by an enrollment query. Rows that
// fail to parse are logged and skipped; a scan failure aborts the listing.
func scanEnrollments(rows *sql.Rows) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if errors.Is(err, errMalformedEnrollment) {
			slog.Warn("store: skipping malformed enrollment", "subscriberID", e.Subscriber.ID, "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollment rows failed: %w", err)
	}
	return out, nil
}

// scanEnrollment scans an Enrollment from sql.Rows. The start date and clock
// columns arrive as text ("YYYY-MM-DD" and "HH:MM[:SS]").
func scanEnrollment(rows *sql.Rows) (models.Enrollment, error) {
	var e models.Enrollment
	var planID sql.NullInt64
	var startDate, clock sql.NullString
	err := rows.Scan(
		&e.Subscriber.ID, &e.Subscriber.Phone, &e.Subscriber.Name, &e.Subscriber.Active,
		&planID, &startDate, &clock, &e.Subscriber.Timezone,
		&e.Plan.ID, &e.Plan.Name, &e.Plan.TotalDays,
	)
	if err != nil {
		return e, fmt.Errorf("scan enrollment failed: %w", err)
	}
	if planID.Valid {
		id := planID.Int64
		e.Subscriber.PlanID = &id
	}
	if startDate.Valid {
		d, err := time.Parse(models.DateLayout, startDate.String)
		if err != nil {
			return e, fmt.Errorf("%w: start date %q: %w", errMalformedEnrollment, startDate.String, err)
		}
		e.Subscriber.StartedAt = &d
	}
	if clock.Valid {
		c, err := models.ParseClock(clock.String)
		if err != nil {
			return e, fmt.Errorf("%w: %w", errMalformedEnrollment, err)
		}
		e.Subscriber.NotificationTime = c
	}
	return e, nil
}
