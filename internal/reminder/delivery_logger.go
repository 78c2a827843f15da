package reminder

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/ReadPipe/internal/models"
	"github.com/BTreeMap/ReadPipe/internal/store"
	"github.com/google/uuid"
)

// DeliveryLogger appends one entry per outbound attempt. Write failures are
// logged and never returned.
type DeliveryLogger struct {
	store store.Store
	clock Clock
	newID func() string
}

func NewDeliveryLogger(s store.Store, clock Clock) *DeliveryLogger {
	return &DeliveryLogger{store: s, clock: clock, newID: uuid.NewString}
}

// Record stores the outcome of sending body to recipient. A nil sendErr means sent.
func (l *DeliveryLogger) Record(ctx context.Context, sub models.Subscriber, recipient string,
	kind models.MessageKind, day int, body string, sendErr error) {
	entry := models.DeliveryLogEntry{
		ID:           l.newID(),
		SubscriberID: sub.ID,
		Recipient:    recipient,
		Direction:    models.DirectionOutgoing,
		Kind:         kind,
		DayNumber:    day,
		Body:         body,
		Status:       models.MessageStatusSent,
		Time:         l.clock.Now(),
	}
	if sendErr != nil {
		entry.Status = models.MessageStatusFailed
		entry.Error = sendErr.Error()
	}

	if err := l.store.AddDeliveryLog(context.WithoutCancel(ctx), entry); err != nil {
		slog.Error("DeliveryLogger.Record: failed to write delivery log",
			"error", err, "subscriberID", sub.ID, "kind", kind, "status", entry.Status)
	}
}
