// Package models defines the core data structures for ReadPipe.
//
// It includes subscribers, reading plans, daily readings, completion records and
// delivery log entries, which are shared across the store, reminder and api modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// ClockLayout is the hour:minute layout used for notification times and ticks.
const ClockLayout = "15:04"

const clockSecondsLayout = "15:04:05"

// DateLayout is the calendar-date layout used in marker keys and logs.
const DateLayout = "2006-01-02"

// Error variables for better error handling and testability
var (
	ErrNotEnrolled      = errors.New("subscriber is not enrolled in a plan")
	ErrInvalidClock     = errors.New("notification time must be HH:MM or HH:MM:SS")
	ErrEmptyRecipient   = errors.New("recipient cannot be empty")
	ErrInvalidPlanTotal = errors.New("plan total days must be positive")
)

// Subscriber is a person receiving reading reminders.
// Records are owned by the progress service; the scheduler only reads them.
type Subscriber struct {
	ID               int64      `json:"id"`
	Phone            string     `json:"phone_number"`
	Name             string     `json:"name,omitempty"`
	Active           bool       `json:"is_active"`
	PlanID           *int64     `json:"current_plan_id,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	NotificationTime string     `json:"notification_time,omitempty"` // HH:MM, or HH:MM:SS off the minute
	Timezone         string     `json:"timezone,omitempty"`
}

// Schedulable reports whether the subscriber can ever have a due reading:
// active, with a plan, a start date and a notification time.
func (s Subscriber) Schedulable() bool {
	return s.Active && s.PlanID != nil && s.StartedAt != nil && s.NotificationTime != ""
}

// Plan is a multi-day reading plan.
type Plan struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	TotalDays int    `json:"total_days"`
}

// Validate checks the plan's static reference data.
func (p Plan) Validate() error {
	if p.TotalDays <= 0 {
		return ErrInvalidPlanTotal
	}
	return nil
}

// Reading is the passage assigned to one day of a plan.
type Reading struct {
	PlanID        int64  `json:"plan_id"`
	DayNumber     int    `json:"day_number"`
	ReferenceText string `json:"reference_text"`
	BookName      string `json:"book_name,omitempty"`
	Chapters      string `json:"chapters,omitempty"`
}

// CompletionRecord marks a plan day as read by a subscriber.
type CompletionRecord struct {
	SubscriberID int64      `json:"user_id"`
	PlanID       int64      `json:"plan_id"`
	DayNumber    int        `json:"day_number"`
	Completed    bool       `json:"completed"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Enrollment is a subscriber joined with the plan they follow.
type Enrollment struct {
	Subscriber Subscriber `json:"subscriber"`
	Plan       Plan       `json:"plan"`
}

// PlanDay returns the 1-based plan day for the calendar date of now in loc.
// Values <= 0 mean the plan has not started yet.
func (e Enrollment) PlanDay(now time.Time, loc *time.Location) (int, error) {
	if e.Subscriber.StartedAt == nil {
		return 0, ErrNotEnrolled
	}
	return DaysBetween(*e.Subscriber.StartedAt, now, loc) + 1, nil
}

// DaysBetween counts calendar days from the start date to the date of end in loc.
// start is a calendar date: its own year, month and day are used as stored.
func DaysBetween(start, end time.Time, loc *time.Location) int {
	s := start
	e := end.In(loc)
	// Noon UTC keeps DST transitions from shifting the division.
	sd := time.Date(s.Year(), s.Month(), s.Day(), 12, 0, 0, 0, time.UTC)
	ed := time.Date(e.Year(), e.Month(), e.Day(), 12, 0, 0, 0, time.UTC)
	return int(ed.Sub(sd).Hours() / 24)
}

// DueReading is a (subscriber, plan, day, reading) tuple eligible for a reminder.
type DueReading struct {
	Enrollment Enrollment `json:"enrollment"`
	DayNumber  int        `json:"day_number"`
	Reading    Reading    `json:"reading"`
}

// ParseClock normalises a notification time. It accepts HH:MM and HH:MM:SS
// (as stored by a SQL TIME column) and returns HH:MM for whole minutes. A time
// with non-zero seconds keeps them, so it never equals a minute clock.
func ParseClock(value string) (string, error) {
	for _, layout := range []string{ClockLayout, clockSecondsLayout} {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		if t.Second() != 0 {
			return t.Format(clockSecondsLayout), nil
		}
		return t.Format(ClockLayout), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidClock, value)
}

// MinuteTime returns the SQL TIME literal for a minute clock: HH:MM:00.
func MinuteTime(clock string) string {
	return clock + ":00"
}

// Direction tells whether a logged message went out or came in.
type Direction string

const (
	// DirectionOutgoing marks messages sent by ReadPipe.
	DirectionOutgoing Direction = "outgoing"
)

// MessageKind classifies outgoing messages.
type MessageKind string

const (
	// MessageKindReminder is the daily reading reminder.
	MessageKindReminder MessageKind = "reminder"
	// MessageKindEncouragement is the nudge sent to subscribers who fell behind.
	MessageKindEncouragement MessageKind = "encouragement"
)

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the gateway accepted the message.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// DeliveryLogEntry is an append-only record of one outbound attempt.
type DeliveryLogEntry struct {
	ID           string        `json:"id"`
	SubscriberID int64         `json:"user_id"`
	Recipient    string        `json:"recipient"`
	Direction    Direction     `json:"direction"`
	Kind         MessageKind   `json:"message_type"`
	DayNumber    int           `json:"day_number,omitempty"`
	Body         string        `json:"body"`
	Status       MessageStatus `json:"status"`
	Error        string        `json:"error,omitempty"`
	Time         time.Time     `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
