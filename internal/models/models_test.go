package models

import (
	"errors"
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"08:00", "08:00", false},
		{"08:00:00", "08:00", false},
		{"08:00:30", "08:00:30", false},
		{"23:59:59", "23:59:59", false},
		{"8:00", "", true},
		{"24:00", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidClock) {
				t.Errorf("ParseClock(%q) error = %v, want ErrInvalidClock", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMinuteTime(t *testing.T) {
	if got := MinuteTime("08:00"); got != "08:00:00" {
		t.Errorf("MinuteTime(08:00) = %q, want 08:00:00", got)
	}
}

func TestDaysBetween_IgnoresTimeOfDay(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	start := time.Date(2026, 3, 1, 23, 30, 0, 0, loc)
	end := time.Date(2026, 3, 2, 0, 15, 0, 0, loc)
	if got := DaysBetween(start, end, loc); got != 1 {
		t.Errorf("DaysBetween = %d, want 1", got)
	}
}

func TestDaysBetween_UsesLocationForEnd(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	// 01:00 UTC on the 2nd is still the 1st in BRT.
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	if got := DaysBetween(start, end, loc); got != 0 {
		t.Errorf("DaysBetween in BRT = %d, want 0", got)
	}
	if got := DaysBetween(start, end, time.UTC); got != 1 {
		t.Errorf("DaysBetween in UTC = %d, want 1", got)
	}
}

func TestEnrollmentPlanDay(t *testing.T) {
	start := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	e := Enrollment{Subscriber: Subscriber{StartedAt: &start}}

	cases := map[string]struct {
		now  time.Time
		want int
	}{
		"start date":  {time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC), 1},
		"next day":    {time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC), 2},
		"before plan": {time.Date(2026, 5, 9, 8, 0, 0, 0, time.UTC), 0},
	}
	for name, tc := range cases {
		got, err := e.PlanDay(tc.now, time.UTC)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if got != tc.want {
			t.Errorf("%s: PlanDay = %d, want %d", name, got, tc.want)
		}
	}

	if _, err := (Enrollment{}).PlanDay(time.Now(), time.UTC); !errors.Is(err, ErrNotEnrolled) {
		t.Errorf("expected ErrNotEnrolled without a start date, got %v", err)
	}
}

func TestSubscriberSchedulable(t *testing.T) {
	planID := int64(1)
	start := time.Now()
	full := Subscriber{Active: true, PlanID: &planID, StartedAt: &start, NotificationTime: "08:00"}
	if !full.Schedulable() {
		t.Error("fully configured subscriber should be schedulable")
	}

	inactive := full
	inactive.Active = false
	noPlan := full
	noPlan.PlanID = nil
	noStart := full
	noStart.StartedAt = nil
	noTime := full
	noTime.NotificationTime = ""

	for name, s := range map[string]Subscriber{"inactive": inactive, "no plan": noPlan, "no start": noStart, "no time": noTime} {
		if s.Schedulable() {
			t.Errorf("%s subscriber should not be schedulable", name)
		}
	}
}

func TestPlanValidate(t *testing.T) {
	if err := (Plan{TotalDays: 5}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (Plan{TotalDays: 0}).Validate(); !errors.Is(err, ErrInvalidPlanTotal) {
		t.Errorf("expected ErrInvalidPlanTotal, got %v", err)
	}
}
