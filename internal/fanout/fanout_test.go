package fanout_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"go.uber.org/zap"

	"github.com/pestguard/telemetry-core/internal/fanout"
	"github.com/pestguard/telemetry-core/internal/reading"
	"github.com/pestguard/telemetry-core/internal/registry"
)

func newTestBroadcaster(t *testing.T) (*fanout.Broadcaster, *registry.Registry) {
	t.Helper()
	clk := testclock.NewClock(time.Date(2025, 12, 29, 10, 30, 0, 0, time.UTC))
	reg := registry.New(zap.NewNop(), clk)
	return fanout.New(zap.NewNop(), reg), reg
}

func sampleReading() *reading.Reading {
	return &reading.Reading{
		DeviceID:     "esp32-001",
		Voltage:      221.4,
		Current:      1.2,
		Power:        265.7,
		Energy:       14.8,
		PumpStatus:   true,
		AutoMode:     true,
		Timestamp:    time.Date(2025, 12, 29, 10, 30, 0, 0, time.UTC),
		Source:       "websocket",
		FallbackUsed: true,
	}
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b, reg := newTestBroadcaster(t)

	first := reg.AddSubscriber("10.0.1.9:40000", 4)
	second := reg.AddSubscriber("10.0.1.10:40001", 4)

	if got := b.Publish(sampleReading()); got != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", got)
	}

	for _, sub := range []*registry.Subscriber{first, second} {
		select {
		case frame := <-sub.Frames():
			var env fanout.Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				t.Fatalf("Expected a JSON envelope, got %v", err)
			}
			if env.Type != "reading" {
				t.Errorf("Expected type reading, got %s", env.Type)
			}
			if !env.Realtime {
				t.Error("Expected realtime flag to be set")
			}
			if !env.FallbackUsed {
				t.Error("Expected fallback_used to mirror the reading")
			}
			if env.Data == nil || env.Data.DeviceID != "esp32-001" {
				t.Error("Expected the reading payload to be embedded")
			}
		default:
			t.Fatal("Expected a frame in the subscriber queue")
		}
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	if got := b.Publish(sampleReading()); got != 0 {
		t.Errorf("Expected 0 deliveries without subscribers, got %d", got)
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b, reg := newTestBroadcaster(t)

	slow := reg.AddSubscriber("10.0.1.9:40000", 1)
	fast := reg.AddSubscriber("10.0.1.10:40001", 8)

	// Fill the slow subscriber's queue, then keep publishing.
	for i := 0; i < 4; i++ {
		b.Publish(sampleReading())
	}

	if slow.Dropped() != 3 {
		t.Errorf("Expected slow subscriber to drop 3 frames, got %d", slow.Dropped())
	}
	if fast.Dropped() != 0 {
		t.Errorf("Expected fast subscriber to drop nothing, got %d", fast.Dropped())
	}
	if len(fast.Frames()) != 4 {
		t.Errorf("Expected 4 frames queued for the fast subscriber, got %d", len(fast.Frames()))
	}
}

func TestRemovedSubscriberNotCounted(t *testing.T) {
	b, reg := newTestBroadcaster(t)

	kept := reg.AddSubscriber("10.0.1.9:40000", 4)
	gone := reg.AddSubscriber("10.0.1.10:40001", 4)
	reg.RemoveSubscriber(gone)

	if got := b.Publish(sampleReading()); got != 1 {
		t.Fatalf("Expected 1 delivery after removal, got %d", got)
	}
	if len(kept.Frames()) != 1 {
		t.Errorf("Expected the remaining subscriber to receive the frame")
	}
}
