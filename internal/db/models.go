package db

import (
	"time"

	"github.com/google/uuid"
)

// Device represents a known device in the database. HardwareID is the
// identifier the device reports about itself (e.g. "esp32-001").
type Device struct {
	ID          uuid.UUID
	HardwareID  string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	CreatedAt   time.Time
}

// TelemetrySample represents one electrical measurement row. Every
// accepted reading produces one of these.
type TelemetrySample struct {
	ID           uuid.UUID
	DeviceID     uuid.UUID
	Voltage      float64
	Current      float64
	Power        float64
	Energy       float64
	Source       string
	FallbackUsed bool
	Fault        *string
	ReadingAt    time.Time
	ReceivedAt   time.Time
}

// StatusSample represents one sensor-status row. These are only written
// when the save-decision policy accepts the reading.
type StatusSample struct {
	ID         uuid.UUID
	DeviceID   uuid.UUID
	PIRStatus  bool
	PumpStatus bool
	AutoMode   bool
	Reason     string
	ReadingAt  time.Time
	ReceivedAt time.Time
}

// EnergyTrend is a per-device time-bucket aggregate of power and energy,
// accumulated in place as readings arrive.
type EnergyTrend struct {
	ID          uuid.UUID
	DeviceID    uuid.UUID
	BucketStart time.Time
	SampleCount int64
	PowerSum    float64
	PowerPeak   float64
	EnergyMin   float64
	EnergyMax   float64
	UpdatedAt   time.Time
}
