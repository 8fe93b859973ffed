// Package dispatch delivers commands to connected devices. Delivery is
// fire and forget: one write to the live session, no retry, no queueing
// for offline devices and no acknowledgement tracking.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/pestguard/telemetry-core/internal/registry"
)

// ErrDeviceOffline is returned when the target device has no live session.
var ErrDeviceOffline = errors.New("device offline")

// DeliveryError wraps a transport failure while writing a command frame.
type DeliveryError struct {
	DeviceID string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("command delivery to %s failed: %v", e.DeviceID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Frame is the wire format of a command sent to a device.
type Frame struct {
	CommandID string          `json:"command_id"`
	Action    string          `json:"action"`
	Params    json.RawMessage `json:"params,omitempty"`
	IssuedAt  time.Time       `json:"issued_at"`
}

// ConnSource resolves a device ID to its live session.
type ConnSource interface {
	Get(deviceID string) *registry.Conn
}

type Dispatcher struct {
	log   *zap.Logger
	clk   clock.Clock
	conns ConnSource
}

func New(log *zap.Logger, clk clock.Clock, conns ConnSource) *Dispatcher {
	return &Dispatcher{log: log, clk: clk, conns: conns}
}

// Send writes one command frame to the device's live session and returns
// the generated command ID. It returns ErrDeviceOffline when the device
// has no session and a *DeliveryError when the single write attempt
// fails. A delivery failure does not tear down the session; the read
// loop notices the broken transport on its own.
func (d *Dispatcher) Send(ctx context.Context, deviceID, action string, params json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	conn := d.conns.Get(deviceID)
	if conn == nil {
		return "", fmt.Errorf("cannot dispatch %q to %s: %w", action, deviceID, ErrDeviceOffline)
	}

	frame := Frame{
		CommandID: uuid.New().String(),
		Action:    action,
		Params:    params,
		IssuedAt:  d.clk.Now().UTC(),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return "", fmt.Errorf("failed to encode command frame: %w", err)
	}

	if err := conn.Send(data); err != nil {
		d.log.Warn("command delivery failed",
			zap.String("device_id", deviceID),
			zap.String("command_id", frame.CommandID),
			zap.String("action", action),
			zap.Error(err))
		return "", &DeliveryError{DeviceID: deviceID, Err: err}
	}

	d.log.Info("command dispatched",
		zap.String("device_id", deviceID),
		zap.String("command_id", frame.CommandID),
		zap.String("action", action))
	return frame.CommandID, nil
}
