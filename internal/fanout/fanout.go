// Package fanout pushes accepted readings to every dashboard subscriber.
// Delivery is best effort: the frame is encoded once and offered to each
// subscriber's bounded queue, and slow consumers lose frames instead of
// stalling ingestion.
package fanout

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/pestguard/telemetry-core/internal/reading"
	"github.com/pestguard/telemetry-core/internal/registry"
)

// Envelope is the wire format of a realtime reading frame.
type Envelope struct {
	Type         string           `json:"type"`
	Realtime     bool             `json:"realtime"`
	FallbackUsed bool             `json:"fallback_used"`
	Data         *reading.Reading `json:"data"`
}

// SubscriberSource exposes the current dashboard subscriber set.
type SubscriberSource interface {
	Subscribers() []*registry.Subscriber
}

type Broadcaster struct {
	log  *zap.Logger
	subs SubscriberSource
}

func New(log *zap.Logger, subs SubscriberSource) *Broadcaster {
	return &Broadcaster{log: log, subs: subs}
}

// Publish offers the reading to every attached subscriber and returns the
// number that accepted it. It never blocks and never fails; drops are
// logged per subscriber.
func (b *Broadcaster) Publish(r *reading.Reading) int {
	subs := b.subs.Subscribers()
	if len(subs) == 0 {
		return 0
	}

	frame, err := json.Marshal(Envelope{
		Type:         "reading",
		Realtime:     true,
		FallbackUsed: r.FallbackUsed,
		Data:         r,
	})
	if err != nil {
		b.log.Error("failed to encode reading frame", zap.Error(err))
		return 0
	}

	delivered := 0
	for _, sub := range subs {
		if sub.Offer(frame) {
			delivered++
			continue
		}
		b.log.Debug("dropped frame for slow subscriber",
			zap.String("subscriber", sub.ID().String()),
			zap.String("device_id", r.DeviceID),
			zap.Uint64("total_dropped", sub.Dropped()))
	}
	return delivered
}
