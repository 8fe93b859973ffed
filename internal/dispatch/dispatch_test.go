package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"go.uber.org/zap"

	"github.com/pestguard/telemetry-core/internal/dispatch"
	"github.com/pestguard/telemetry-core/internal/registry"
)

type captureSender struct {
	frames [][]byte
	err    error
}

func (s *captureSender) SendFrame(data []byte) error {
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, data)
	return nil
}

func newTestDispatcher(t *testing.T) (*dispatch.Dispatcher, *registry.Registry) {
	t.Helper()
	clk := testclock.NewClock(time.Date(2025, 12, 29, 10, 30, 0, 0, time.UTC))
	reg := registry.New(zap.NewNop(), clk)
	return dispatch.New(zap.NewNop(), clk, reg), reg
}

func TestSendToOfflineDevice(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Send(context.Background(), "esp32-001", "pump_on", nil)
	if !errors.Is(err, dispatch.ErrDeviceOffline) {
		t.Fatalf("Expected ErrDeviceOffline, got %v", err)
	}
}

func TestSendWritesSingleFrame(t *testing.T) {
	d, reg := newTestDispatcher(t)
	sender := &captureSender{}
	reg.Register("esp32-001", "10.0.0.5:51234", sender)

	params := json.RawMessage(`{"enabled":true}`)
	commandID, err := d.Send(context.Background(), "esp32-001", "set_auto_mode", params)
	if err != nil {
		t.Fatalf("Expected dispatch to succeed, got %v", err)
	}
	if _, err := uuid.Parse(commandID); err != nil {
		t.Errorf("Expected a UUID command ID, got %q", commandID)
	}
	if len(sender.frames) != 1 {
		t.Fatalf("Expected exactly one frame, got %d", len(sender.frames))
	}

	var frame dispatch.Frame
	if err := json.Unmarshal(sender.frames[0], &frame); err != nil {
		t.Fatalf("Expected a JSON frame, got %v", err)
	}
	if frame.CommandID != commandID {
		t.Errorf("Expected frame command ID %s, got %s", commandID, frame.CommandID)
	}
	if frame.Action != "set_auto_mode" {
		t.Errorf("Expected action set_auto_mode, got %s", frame.Action)
	}
	if string(frame.Params) != `{"enabled":true}` {
		t.Errorf("Expected params to pass through, got %s", frame.Params)
	}
	if frame.IssuedAt.IsZero() {
		t.Error("Expected issued_at to be set")
	}
}

func TestSendDeliveryFailure(t *testing.T) {
	d, reg := newTestDispatcher(t)
	transportErr := errors.New("write: broken pipe")
	reg.Register("esp32-001", "10.0.0.5:51234", &captureSender{err: transportErr})

	_, err := d.Send(context.Background(), "esp32-001", "pump_off", nil)

	var de *dispatch.DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("Expected a DeliveryError, got %v", err)
	}
	if de.DeviceID != "esp32-001" {
		t.Errorf("Expected device esp32-001 in error, got %s", de.DeviceID)
	}
	if !errors.Is(err, transportErr) {
		t.Error("Expected the transport error to be wrapped")
	}
	if errors.Is(err, dispatch.ErrDeviceOffline) {
		t.Error("Expected delivery failure to be distinct from offline")
	}

	// The session stays registered; the read loop owns teardown.
	if !reg.IsOnline("esp32-001") {
		t.Error("Expected device to remain registered after a failed write")
	}
}

func TestSendHonorsCancelledContext(t *testing.T) {
	d, reg := newTestDispatcher(t)
	sender := &captureSender{}
	reg.Register("esp32-001", "10.0.0.5:51234", sender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Send(ctx, "esp32-001", "pump_on", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if len(sender.frames) != 0 {
		t.Errorf("Expected no frames after cancellation, got %d", len(sender.frames))
	}
}
