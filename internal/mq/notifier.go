package mq

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"
)

const notifyTimeout = 5 * time.Second

// Notifier adapts the publisher to the fire-and-forget notification
// contract used by the liveness tracker and the ingestion pipeline.
// Publish failures are logged here and never propagate: a broker outage
// must not affect reading ingestion or status queries.
type Notifier struct {
	publisher *Publisher
	logger    *zap.Logger
	clk       clock.Clock
}

func NewNotifier(publisher *Publisher, logger *zap.Logger, clk clock.Clock) *Notifier {
	return &Notifier{publisher: publisher, logger: logger, clk: clk}
}

// Notify publishes one notification event and swallows any failure.
func (n *Notifier) Notify(kind, deviceID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	event := NotificationEvent{
		ID:         uuid.New().String(),
		Kind:       kind,
		DeviceID:   deviceID,
		Message:    message,
		OccurredAt: n.clk.Now().UTC(),
	}

	if err := n.publisher.PublishNotification(ctx, event); err != nil {
		n.logger.Warn("failed to publish notification",
			zap.Error(err),
			zap.String("kind", kind),
			zap.String("device_id", deviceID),
		)
	}
}
