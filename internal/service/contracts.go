package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pestguard/telemetry-core/internal/db"
	"github.com/pestguard/telemetry-core/internal/mq"
	"github.com/pestguard/telemetry-core/internal/reading"
)

var (
	// ErrStorageUnavailable means the database could not be reached at
	// all. Callers may retry; nothing was written.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrPersistFailed means the database was reachable but the write
	// transaction failed and was rolled back.
	ErrPersistFailed = errors.New("failed to persist reading")
)

// Gateway is the persistence seam of the ingestion pipeline.
type Gateway interface {
	FindOrCreateDevice(ctx context.Context, hardwareID string) (*db.Device, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	InsertElectricalSampleTx(ctx context.Context, tx pgx.Tx, sample *db.TelemetrySample) error
	InsertStatusSampleTx(ctx context.Context, tx pgx.Tx, sample *db.StatusSample) error
	UpsertEnergyTrendTx(ctx context.Context, tx pgx.Tx, deviceID uuid.UUID, bucketStart time.Time, power, energy float64) error
	RecentPowerValues(ctx context.Context, deviceID uuid.UUID, limit int) ([]float64, error)
}

// Notifier delivers fire-and-forget notifications (pump toggles,
// reconnects). Implementations swallow their own failures.
type Notifier interface {
	Notify(kind, deviceID, message string)
}

// AcceptedEventSink publishes post-commit reading events for downstream
// consumers.
type AcceptedEventSink interface {
	PublishReadingAccepted(ctx context.Context, event mq.ReadingAcceptedEvent) error
}

// Broadcaster pushes a reading to the realtime dashboard feed and
// reports how many subscribers accepted it.
type Broadcaster interface {
	Publish(r *reading.Reading) int
}

// LivenessObserver records device activity for online/offline tracking.
type LivenessObserver interface {
	Observe(deviceID string, at time.Time)
}
