// Package notify holds the notification transports handed to the
// escalation dispatcher and the report service.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"collabhub/contracts/mq"
	"collabhub/internal/model"
	"collabhub/pkg/outbox"
	"collabhub/pkg/trace"
)

const channelEmail = "EMAIL"

// Enqueuer stores a batch of outbox events atomically.
type Enqueuer interface {
	EnqueueBatch(ctx context.Context, events []*outbox.Event) error
}

// OutboxSender turns each recipient into a notification.created outbox event.
// The outbox dispatcher publishes them to RabbitMQ with retries and DLQ.
type OutboxSender struct {
	outbox Enqueuer
	now    func() time.Time
	logger *zap.Logger
}

func NewOutboxSender(outbox Enqueuer, logger *zap.Logger) *OutboxSender {
	return &OutboxSender{
		outbox: outbox,
		now:    time.Now,
		logger: logger,
	}
}

// Send enqueues one event per recipient in a single batch. Either every
// recipient is queued or none is.
func (s *OutboxSender) Send(ctx context.Context, recipients []model.Recipient, subject, body string) error {
	traceID := trace.FromContext(ctx)
	events := make([]*outbox.Event, 0, len(recipients))
	for _, r := range recipients {
		userID := r.UserID
		event, err := outbox.NewEvent("user", &userID, mq.RoutingNotificationCreated, mq.NotificationCreatedPayload{
			UserID:    r.UserID,
			Email:     r.Email,
			Channel:   channelEmail,
			Subject:   subject,
			Message:   body,
			TraceID:   traceID,
			CreatedAt: s.now(),
		})
		if err != nil {
			return fmt.Errorf("encode notification for user %d: %w", r.UserID, err)
		}
		events = append(events, event)
	}
	if err := s.outbox.EnqueueBatch(ctx, events); err != nil {
		return fmt.Errorf("enqueue %d notification(s): %w", len(events), err)
	}

	s.logger.Debug("Notifications enqueued",
		zap.Int("recipients", len(recipients)),
		zap.String("subject", subject),
		zap.String("trace_id", traceID),
	)
	return nil
}

// LogSender only logs. Used in memory mode where no outbox exists.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, recipients []model.Recipient, subject, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	emails := make([]string, 0, len(recipients))
	for _, r := range recipients {
		emails = append(emails, r.Email)
	}
	s.logger.Info("Notification",
		zap.Strings("to", emails),
		zap.String("subject", subject),
		zap.String("trace_id", trace.FromContext(ctx)),
	)
	return nil
}
