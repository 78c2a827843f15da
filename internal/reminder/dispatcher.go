package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReadPipe/internal/dedup"
	"github.com/BTreeMap/ReadPipe/internal/messaging"
	"github.com/BTreeMap/ReadPipe/internal/models"
)

// Outcome is the result of one dispatch.
type Outcome string

const (
	// OutcomeSent means the gateway accepted the message and the marker is set.
	OutcomeSent Outcome = "sent"
	// OutcomeFailed means nothing was delivered and no marker is left behind.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means a marker already existed.
	OutcomeSkipped Outcome = "skipped"
)

// Dispatcher sends one message per marker: claim, send, log, then confirm or release.
type Dispatcher struct {
	svc     messaging.Service
	markers *dedup.Store
	log     *DeliveryLogger
}

func NewDispatcher(svc messaging.Service, markers *dedup.Store, log *DeliveryLogger) *Dispatcher {
	return &Dispatcher{svc: svc, markers: markers, log: log}
}

// DispatchReminder sends the reminder for due, keyed on the local calendar date.
func (d *Dispatcher) DispatchReminder(ctx context.Context, due models.DueReading, date time.Time) Outcome {
	sub := due.Enrollment.Subscriber
	marker := d.markers.ReminderKey(sub.ID, due.DayNumber, date)
	return d.send(ctx, marker, sub, models.MessageKindReminder, due.DayNumber, FormatReminder(due))
}

// DispatchEncouragement sends the catch-up nudge unless one went out inside the throttle window.
func (d *Dispatcher) DispatchEncouragement(ctx context.Context, sub models.Subscriber) Outcome {
	marker := d.markers.ThrottleKey(sub.ID)
	return d.send(ctx, marker, sub, models.MessageKindEncouragement, 0, FormatEncouragement(sub))
}

// DispatchTest sends a reminder for due without touching markers. The attempt
// is logged like any other.
func (d *Dispatcher) DispatchTest(ctx context.Context, due models.DueReading) error {
	sub := due.Enrollment.Subscriber
	body := FormatReminder(due)
	err := d.svc.SendMessage(ctx, sub.Phone, body)
	d.log.Record(ctx, sub, sub.Phone, models.MessageKindReminder, due.DayNumber, body, err)
	if err != nil {
		return fmt.Errorf("send test reminder to subscriber %d: %w", sub.ID, err)
	}
	slog.Info("Dispatcher: test reminder sent", "subscriberID", sub.ID, "day", due.DayNumber)
	return nil
}

func (d *Dispatcher) send(ctx context.Context, marker dedup.Marker, sub models.Subscriber,
	kind models.MessageKind, day int, body string) Outcome {
	claimed, err := d.markers.Claim(ctx, marker)
	if err != nil {
		slog.Error("Dispatcher: marker claim failed, will retry next run", "error", err, "subscriberID", sub.ID, "key", marker.Key)
		return OutcomeFailed
	}
	if !claimed {
		slog.Info("Dispatcher: already sent, skipping", "subscriberID", sub.ID, "kind", kind, "key", marker.Key)
		return OutcomeSkipped
	}

	// The current message is allowed to finish during shutdown; the gateway
	// service bounds it with its own timeout.
	sendErr := d.svc.SendMessage(context.WithoutCancel(ctx), sub.Phone, body)
	d.log.Record(ctx, sub, sub.Phone, kind, day, body, sendErr)

	if sendErr != nil {
		slog.Warn("Dispatcher: send failed, will retry next run", "error", sendErr, "subscriberID", sub.ID, "kind", kind, "day", day)
		if err := d.markers.Release(ctx, marker); err != nil {
			slog.Error("Dispatcher: marker release failed, retry delayed until claim expires", "error", err, "key", marker.Key)
		}
		return OutcomeFailed
	}

	if err := d.markers.Confirm(ctx, marker); err != nil {
		slog.Error("Dispatcher: marker confirm failed", "error", err, "key", marker.Key)
	}
	slog.Info("Dispatcher: message sent", "subscriberID", sub.ID, "kind", kind, "day", day)
	return OutcomeSent
}
