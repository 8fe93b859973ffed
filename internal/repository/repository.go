package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pestguard/telemetry-core/internal/db"
)

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindOrCreateDevice resolves a hardware identifier to its device row,
// creating the row on first contact and bumping last_seen_at otherwise.
func (r *Repository) FindOrCreateDevice(ctx context.Context, hardwareID string) (*db.Device, error) {
	query := `
		SELECT id, hardware_id, first_seen_at, last_seen_at, created_at
		FROM devices
		WHERE hardware_id = $1
	`

	var device db.Device
	err := r.pool.QueryRow(ctx, query, hardwareID).Scan(
		&device.ID,
		&device.HardwareID,
		&device.FirstSeenAt,
		&device.LastSeenAt,
		&device.CreatedAt,
	)

	if err == nil {
		updateQuery := `
			UPDATE devices
			SET last_seen_at = $1
			WHERE id = $2
		`
		now := time.Now()
		_, err = r.pool.Exec(ctx, updateQuery, now, device.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to update device last_seen_at: %w", err)
		}
		device.LastSeenAt = now
		return &device, nil
	}

	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}

	insertQuery := `
		INSERT INTO devices (hardware_id, first_seen_at, last_seen_at, created_at)
		VALUES ($1, $2, $2, $2)
		RETURNING id, hardware_id, first_seen_at, last_seen_at, created_at
	`

	now := time.Now()
	err = r.pool.QueryRow(ctx, insertQuery, hardwareID, now).Scan(
		&device.ID,
		&device.HardwareID,
		&device.FirstSeenAt,
		&device.LastSeenAt,
		&device.CreatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	return &device, nil
}

// Begin starts a new transaction
func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// InsertElectricalSampleTx inserts an electrical measurement within a transaction
func (r *Repository) InsertElectricalSampleTx(ctx context.Context, tx pgx.Tx, sample *db.TelemetrySample) error {
	query := `
		INSERT INTO telemetry_samples (
			device_id, voltage, current, power, energy,
			source, fallback_used, fault, reading_at, received_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := tx.Exec(ctx, query,
		sample.DeviceID,
		sample.Voltage,
		sample.Current,
		sample.Power,
		sample.Energy,
		sample.Source,
		sample.FallbackUsed,
		sample.Fault,
		sample.ReadingAt,
		sample.ReceivedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert telemetry sample: %w", err)
	}

	return nil
}

// InsertStatusSampleTx inserts a sensor-status row within a transaction
func (r *Repository) InsertStatusSampleTx(ctx context.Context, tx pgx.Tx, sample *db.StatusSample) error {
	query := `
		INSERT INTO sensor_status_samples (
			device_id, pir_status, pump_status, auto_mode,
			reason, reading_at, received_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := tx.Exec(ctx, query,
		sample.DeviceID,
		sample.PIRStatus,
		sample.PumpStatus,
		sample.AutoMode,
		sample.Reason,
		sample.ReadingAt,
		sample.ReceivedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert status sample: %w", err)
	}

	return nil
}

// UpsertEnergyTrendTx folds one reading into the device's trend bucket
// within a transaction, creating the bucket row on first touch.
func (r *Repository) UpsertEnergyTrendTx(ctx context.Context, tx pgx.Tx, deviceID uuid.UUID, bucketStart time.Time, power, energy float64) error {
	query := `
		INSERT INTO energy_trends (
			device_id, bucket_start, sample_count,
			power_sum, power_peak, energy_min, energy_max, updated_at
		)
		VALUES ($1, $2, 1, $3, $3, $4, $4, now())
		ON CONFLICT (device_id, bucket_start) DO UPDATE SET
			sample_count = energy_trends.sample_count + 1,
			power_sum = energy_trends.power_sum + EXCLUDED.power_sum,
			power_peak = GREATEST(energy_trends.power_peak, EXCLUDED.power_peak),
			energy_min = LEAST(energy_trends.energy_min, EXCLUDED.energy_min),
			energy_max = GREATEST(energy_trends.energy_max, EXCLUDED.energy_max),
			updated_at = now()
	`

	_, err := tx.Exec(ctx, query, deviceID, bucketStart, power, energy)
	if err != nil {
		return fmt.Errorf("failed to upsert energy trend: %w", err)
	}

	return nil
}

// LatestSample returns the most recent electrical sample for a hardware
// identifier, or (nil, nil) when the device has no samples.
func (r *Repository) LatestSample(ctx context.Context, hardwareID string) (*db.TelemetrySample, error) {
	query := `
		SELECT s.id, s.device_id, s.voltage, s.current, s.power, s.energy,
		       s.source, s.fallback_used, s.fault, s.reading_at, s.received_at
		FROM telemetry_samples s
		JOIN devices d ON d.id = s.device_id
		WHERE d.hardware_id = $1
		ORDER BY s.received_at DESC
		LIMIT 1
	`

	var sample db.TelemetrySample
	err := r.pool.QueryRow(ctx, query, hardwareID).Scan(
		&sample.ID,
		&sample.DeviceID,
		&sample.Voltage,
		&sample.Current,
		&sample.Power,
		&sample.Energy,
		&sample.Source,
		&sample.FallbackUsed,
		&sample.Fault,
		&sample.ReadingAt,
		&sample.ReceivedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest sample: %w", err)
	}

	return &sample, nil
}

// LastSampleTime returns when the most recent sample for a hardware
// identifier was ingested. The zero time means no samples exist.
func (r *Repository) LastSampleTime(ctx context.Context, hardwareID string) (time.Time, error) {
	query := `
		SELECT s.received_at
		FROM telemetry_samples s
		JOIN devices d ON d.id = s.device_id
		WHERE d.hardware_id = $1
		ORDER BY s.received_at DESC
		LIMIT 1
	`

	var receivedAt time.Time
	err := r.pool.QueryRow(ctx, query, hardwareID).Scan(&receivedAt)
	if err == pgx.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last sample time: %w", err)
	}

	return receivedAt, nil
}

// RecentPowerValues gets recent power readings for spike detection
func (r *Repository) RecentPowerValues(ctx context.Context, deviceID uuid.UUID, limit int) ([]float64, error) {
	query := `
		SELECT power
		FROM telemetry_samples
		WHERE device_id = $1 AND fallback_used = false
		ORDER BY received_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent power values: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan power value: %w", err)
		}
		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return values, nil
}
