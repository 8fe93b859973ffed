package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/pestguard/telemetry-core/internal/anomaly"
	"github.com/pestguard/telemetry-core/internal/db"
	"github.com/pestguard/telemetry-core/internal/fallback"
	"github.com/pestguard/telemetry-core/internal/logging"
	"github.com/pestguard/telemetry-core/internal/mq"
	"github.com/pestguard/telemetry-core/internal/policy"
	"github.com/pestguard/telemetry-core/internal/reading"
	"github.com/pestguard/telemetry-core/internal/readingcache"
)

// Pipeline runs every reading through the same stages regardless of how
// it arrived (websocket, HTTP, queue): normalize, enrich with fallback
// values, cache, broadcast, record liveness, decide persistence, write.
type Pipeline struct {
	normalizer  *reading.Normalizer
	fallback    *fallback.Cache
	cache       *readingcache.Cache
	policy      *policy.Policy
	detector    *anomaly.Detector
	gateway     Gateway
	notifier    Notifier
	events      AcceptedEventSink
	broadcaster Broadcaster
	liveness    LivenessObserver
	clk         clock.Clock
	logger      *zap.Logger
	trendBucket time.Duration
}

// PipelineConfig bundles the pipeline's collaborators.
type PipelineConfig struct {
	Normalizer  *reading.Normalizer
	Fallback    *fallback.Cache
	Cache       *readingcache.Cache
	Policy      *policy.Policy
	Detector    *anomaly.Detector
	Gateway     Gateway
	Notifier    Notifier
	Events      AcceptedEventSink
	Broadcaster Broadcaster
	Liveness    LivenessObserver
	Clock       clock.Clock
	Logger      *zap.Logger
	TrendBucket time.Duration
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		normalizer:  cfg.Normalizer,
		fallback:    cfg.Fallback,
		cache:       cfg.Cache,
		policy:      cfg.Policy,
		detector:    cfg.Detector,
		gateway:     cfg.Gateway,
		notifier:    cfg.Notifier,
		events:      cfg.Events,
		broadcaster: cfg.Broadcaster,
		liveness:    cfg.Liveness,
		clk:         cfg.Clock,
		logger:      cfg.Logger,
		trendBucket: cfg.TrendBucket,
	}
}

// IngestResult reports what happened to one reading.
type IngestResult struct {
	Reading     *reading.Reading
	Decision    policy.Decision
	Persisted   bool
	StatusSaved bool
	Broadcast   int
}

// Ingest processes one raw payload. The realtime stages (cache,
// broadcast, liveness, notifications) always run; only the storage
// stage can fail. The returned result is never nil and reflects the
// stages that completed, so callers can keep using the normalized
// reading even when persistence failed.
func (p *Pipeline) Ingest(ctx context.Context, raw []byte, source string) (*IngestResult, error) {
	receivedAt := p.clk.Now()

	r := p.normalizer.Normalize(raw, source, receivedAt)
	r = p.fallback.Enrich(r)

	log := logging.WithSource(logging.WithDevice(p.logger, r.DeviceID), source)
	if r.Fault != "" {
		log.Warn("reading accepted with faults", zap.String("fault", r.Fault))
	}

	p.cache.Put(r.DeviceID, r)

	result := &IngestResult{Reading: r}
	result.Broadcast = p.broadcaster.Publish(r)

	p.liveness.Observe(r.DeviceID, receivedAt)

	result.Decision = p.policy.Decide(r.DeviceID, r, receivedAt)
	if result.Decision.PumpToggled {
		state := "off"
		if r.PumpStatus {
			state = "on"
		}
		p.notifier.Notify("pump_state_changed", r.DeviceID, fmt.Sprintf("Pump turned %s", state))
	}

	if err := p.persist(ctx, r, result.Decision, receivedAt, log); err != nil {
		log.Error("failed to persist reading", zap.Error(err))
		return result, err
	}
	result.Persisted = true
	result.StatusSaved = result.Decision.PersistRow

	p.publishAccepted(ctx, r, result, receivedAt, log)

	log.Debug("reading processed",
		zap.Bool("status_saved", result.StatusSaved),
		zap.String("reason", result.Decision.Reason),
		zap.Int("broadcast", result.Broadcast),
		zap.Bool("fallback_used", r.FallbackUsed),
	)
	return result, nil
}

func (p *Pipeline) persist(ctx context.Context, r *reading.Reading, d policy.Decision, receivedAt time.Time, log *zap.Logger) error {
	device, err := p.gateway.FindOrCreateDevice(ctx, r.DeviceID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	p.checkPowerSpike(ctx, device.ID, r, log)

	tx, err := p.gateway.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var fault *string
	if r.Fault != "" {
		fault = &r.Fault
	}

	sample := &db.TelemetrySample{
		DeviceID:     device.ID,
		Voltage:      r.Voltage,
		Current:      r.Current,
		Power:        r.Power,
		Energy:       r.Energy,
		Source:       r.Source,
		FallbackUsed: r.FallbackUsed,
		Fault:        fault,
		ReadingAt:    r.Timestamp,
		ReceivedAt:   receivedAt,
	}
	if err := p.gateway.InsertElectricalSampleTx(ctx, tx, sample); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	if d.PersistRow {
		status := &db.StatusSample{
			DeviceID:   device.ID,
			PIRStatus:  r.PIRStatus,
			PumpStatus: r.PumpStatus,
			AutoMode:   r.AutoMode,
			Reason:     d.Reason,
			ReadingAt:  r.Timestamp,
			ReceivedAt: receivedAt,
		}
		if err := p.gateway.InsertStatusSampleTx(ctx, tx, status); err != nil {
			return fmt.Errorf("%w: %w", ErrPersistFailed, err)
		}
	}

	bucketStart := r.Timestamp.UTC().Truncate(p.trendBucket)
	if err := p.gateway.UpsertEnergyTrendTx(ctx, tx, device.ID, bucketStart, r.Power, r.Energy); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return nil
}

// checkPowerSpike compares the incoming power draw against the device's
// recent persisted values. Detection is advisory only: a history lookup
// failure is logged and never blocks the write path.
func (p *Pipeline) checkPowerSpike(ctx context.Context, deviceID uuid.UUID, r *reading.Reading, log *zap.Logger) {
	history, err := p.gateway.RecentPowerValues(ctx, deviceID, 10)
	if err != nil {
		log.Warn("failed to load power history for spike detection", zap.Error(err))
		return
	}

	isSpike, reason := p.detector.Check(r.Power, history)
	if !isSpike {
		return
	}

	log.Debug("power spike detected",
		zap.Float64("power", r.Power),
		zap.String("reason", reason),
	)
	p.notifier.Notify("power_spike", r.DeviceID, reason)
}

// publishAccepted emits the post-commit event; failures are logged and
// never affect the ingest outcome.
func (p *Pipeline) publishAccepted(ctx context.Context, r *reading.Reading, result *IngestResult, receivedAt time.Time, log *zap.Logger) {
	event := mq.ReadingAcceptedEvent{
		DeviceID:     r.DeviceID,
		Voltage:      r.Voltage,
		Current:      r.Current,
		Power:        r.Power,
		Energy:       r.Energy,
		PIRStatus:    r.PIRStatus,
		PumpStatus:   r.PumpStatus,
		AutoMode:     r.AutoMode,
		FallbackUsed: r.FallbackUsed,
		Source:       r.Source,
		StatusSaved:  result.StatusSaved,
		Reason:       result.Decision.Reason,
		ReadingAt:    r.Timestamp,
		ReceivedAt:   receivedAt,
	}
	if err := p.events.PublishReadingAccepted(ctx, event); err != nil {
		log.Error("failed to publish reading accepted event", zap.Error(err))
	}
}
