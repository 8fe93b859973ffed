package reading

import (
	"time"
)

// UnknownDeviceID is assigned when a payload carries no device identifier.
// Ingestion still proceeds in this degraded mode so a misconfigured board
// keeps showing up on the dashboard instead of vanishing.
const UnknownDeviceID = "unknown"

// Reading is one normalized telemetry sample from a device. A Reading is
// immutable once constructed; use Clone before deriving a modified copy.
type Reading struct {
	DeviceID     string    `json:"device_id"`
	Voltage      float64   `json:"voltage"`
	Current      float64   `json:"current"`
	Power        float64   `json:"power"`
	Energy       float64   `json:"energy"`
	PIRStatus    bool      `json:"pir_status"`
	PumpStatus   bool      `json:"pump_status"`
	AutoMode     bool      `json:"auto_mode"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	FallbackUsed bool      `json:"fallback_used"`
	Fault        string    `json:"fault,omitempty"`
}

// AllElectricalZero reports whether voltage, current and power are all
// zero. Energy is excluded; the cumulative counter stays positive even
// when the instantaneous channels drop out.
func (r *Reading) AllElectricalZero() bool {
	return r.Voltage == 0 && r.Current == 0 && r.Power == 0
}

// Clone returns a copy of the reading.
func (r *Reading) Clone() *Reading {
	c := *r
	return &c
}
