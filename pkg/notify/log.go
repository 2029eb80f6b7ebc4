package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

// LogNotifier writes confirmations to the logger instead of sending them.
// It reports every send as delivered, so use it only in development (MAIL_DRIVER=log).
type LogNotifier struct {
	logger  bookingsync.Logger
	metrics bookingsync.Metrics
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger bookingsync.Logger, metrics bookingsync.Metrics) *LogNotifier {
	if logger == nil {
		logger = &bookingsync.NoopLogger{}
	}
	if metrics == nil {
		metrics = &bookingsync.NoopMetrics{}
	}
	return &LogNotifier{logger: logger, metrics: metrics}
}

// Send implements Notifier
func (n *LogNotifier) Send(_ context.Context, b bookingsync.Booking) Result {
	if b.ClientEmail == "" {
		n.metrics.RecordNotification("failed", 0)
		return Result{Err: ErrNoRecipient}
	}

	id := "<" + uuid.NewString() + "@bookingsync.local>"
	n.logger.Info("confirmation email (not sent, log notifier)",
		bookingsync.Field{Key: "booking_id", Value: b.ID},
		bookingsync.Field{Key: "to", Value: b.ClientEmail},
		bookingsync.Field{Key: "reply_to", Value: b.DJEmail},
		bookingsync.Field{Key: "subject", Value: confirmationSubject(b)},
		bookingsync.Field{Key: "message_id", Value: id},
	)
	n.metrics.RecordNotification("sent", time.Duration(0))
	return Result{MessageID: id}
}
