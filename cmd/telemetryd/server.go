package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/clock"
	"github.com/pestguard/telemetry-core/internal/anomaly"
	"github.com/pestguard/telemetry-core/internal/api"
	"github.com/pestguard/telemetry-core/internal/config"
	"github.com/pestguard/telemetry-core/internal/db"
	"github.com/pestguard/telemetry-core/internal/dispatch"
	"github.com/pestguard/telemetry-core/internal/fallback"
	"github.com/pestguard/telemetry-core/internal/fanout"
	"github.com/pestguard/telemetry-core/internal/liveness"
	"github.com/pestguard/telemetry-core/internal/mq"
	"github.com/pestguard/telemetry-core/internal/policy"
	"github.com/pestguard/telemetry-core/internal/reading"
	"github.com/pestguard/telemetry-core/internal/readingcache"
	"github.com/pestguard/telemetry-core/internal/registry"
	"github.com/pestguard/telemetry-core/internal/repository"
	"github.com/pestguard/telemetry-core/internal/service"
	"github.com/pestguard/telemetry-core/internal/ws"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startHTTPServer(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	router *chi.Mux,
) {
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout(),
		WriteTimeout: cfg.HTTP.WriteTimeout(),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Bind synchronously so a busy port fails app startup
			// instead of dying later inside the serve goroutine.
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped unexpectedly", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down http server")
			return srv.Shutdown(ctx)
		},
	})
}

// startIngestBridge consumes queued readings published by devices that
// cannot hold a websocket open and feeds them through the same pipeline
// as live connections. It is optional; without a configured queue the
// service runs websocket/HTTP ingestion only.
func startIngestBridge(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	conn *mq.Connection,
	pipeline *service.Pipeline,
) error {
	if !cfg.RabbitMQ.IngestEnabled() {
		logger.Info("amqp ingest bridge disabled, no ingest queue configured")
		return nil
	}

	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.IngestQueue,
		DLQQueue:      cfg.RabbitMQ.IngestDLQ,
		Exchange:      cfg.RabbitMQ.IngestExchange,
		RoutingKey:    cfg.RabbitMQ.IngestRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler: func(msgCtx context.Context, body []byte) error {
			_, err := pipeline.Ingest(msgCtx, body, "amqp")
			return err
		},
	})
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting ingest bridge",
				zap.String("queue", cfg.RabbitMQ.IngestQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close ingest consumer", zap.Error(err))
				return err
			}
			logger.Info("ingest bridge stopped")
			return nil
		},
	})

	return nil
}

// ProvideClock supplies the wall clock used for domain timestamps
func ProvideClock() clock.Clock {
	return clock.WallClock
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL, int32(cfg.Database.MaxConns))
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *pgxpool.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL, cfg.ServiceName)
}

// ProvidePublisher creates a new event publisher instance
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
}

// ProvideNotifier creates the notification sink used by liveness
// tracking and the pump policy
func ProvideNotifier(publisher *mq.Publisher, logger *zap.Logger, clk clock.Clock) *mq.Notifier {
	return mq.NewNotifier(publisher, logger, clk)
}

// ProvideRegistry creates the live session registry
func ProvideRegistry(logger *zap.Logger, clk clock.Clock) *registry.Registry {
	return registry.New(logger, clk)
}

// ProvideDispatcher creates the device command dispatcher
func ProvideDispatcher(logger *zap.Logger, clk clock.Clock, reg *registry.Registry) *dispatch.Dispatcher {
	return dispatch.New(logger, clk, reg)
}

// ProvideBroadcaster creates the dashboard fan-out broadcaster
func ProvideBroadcaster(logger *zap.Logger, reg *registry.Registry) *fanout.Broadcaster {
	return fanout.New(logger, reg)
}

// ProvideNormalizer creates the raw payload normalizer
func ProvideNormalizer(cfg *config.Config) *reading.Normalizer {
	return reading.NewNormalizer(cfg.Validation.TimestampToleranceMinutes)
}

// ProvideFallbackCache creates the last-good-value fallback cache
func ProvideFallbackCache() *fallback.Cache {
	return fallback.New()
}

// ProvideReadingCache creates the in-memory recent readings cache
func ProvideReadingCache(cfg *config.Config, clk clock.Clock) *readingcache.Cache {
	return readingcache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL(), cfg.Cache.CleanupInterval(), clk)
}

// ProvidePolicy creates the pump decision policy
func ProvidePolicy() *policy.Policy {
	return policy.New()
}

// ProvideDetector creates the power spike detector
func ProvideDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.New(cfg.Anomaly.SpikeThreshold, cfg.Anomaly.MinSamples)
}

// ProvideLivenessTracker creates the device liveness tracker
func ProvideLivenessTracker(
	logger *zap.Logger,
	clk clock.Clock,
	cfg *config.Config,
	reg *registry.Registry,
	cache *readingcache.Cache,
	repo *repository.Repository,
	notifier *mq.Notifier,
) *liveness.Tracker {
	return liveness.New(logger, clk, cfg.Liveness.Window(), reg, cache, repo, notifier)
}

// ProvidePipeline assembles the ingestion pipeline
func ProvidePipeline(
	cfg *config.Config,
	logger *zap.Logger,
	clk clock.Clock,
	normalizer *reading.Normalizer,
	fb *fallback.Cache,
	cache *readingcache.Cache,
	pol *policy.Policy,
	detector *anomaly.Detector,
	repo *repository.Repository,
	notifier *mq.Notifier,
	publisher *mq.Publisher,
	broadcaster *fanout.Broadcaster,
	tracker *liveness.Tracker,
) *service.Pipeline {
	return service.NewPipeline(service.PipelineConfig{
		Normalizer:  normalizer,
		Fallback:    fb,
		Cache:       cache,
		Policy:      pol,
		Detector:    detector,
		Gateway:     repo,
		Notifier:    notifier,
		Events:      publisher,
		Broadcaster: broadcaster,
		Liveness:    tracker,
		Clock:       clk,
		Logger:      logger,
		TrendBucket: cfg.Trend.Bucket(),
	})
}

// ProvideDeviceGateway creates the device websocket gateway
func ProvideDeviceGateway(
	logger *zap.Logger,
	clk clock.Clock,
	reg *registry.Registry,
	pipeline *service.Pipeline,
	tracker *liveness.Tracker,
) *ws.DeviceGateway {
	return ws.NewDeviceGateway(logger, clk, reg, pipeline, tracker)
}

// ProvideDashboardGateway creates the dashboard websocket gateway
func ProvideDashboardGateway(
	logger *zap.Logger,
	cfg *config.Config,
	reg *registry.Registry,
	cache *readingcache.Cache,
) *ws.DashboardGateway {
	return ws.NewDashboardGateway(logger, reg, cache, cfg.Fanout.SubscriberQueueSize)
}

// ProvideAPIHandler creates the REST API handler
func ProvideAPIHandler(
	logger *zap.Logger,
	pipeline *service.Pipeline,
	dispatcher *dispatch.Dispatcher,
	tracker *liveness.Tracker,
	cache *readingcache.Cache,
	repo *repository.Repository,
	reg *registry.Registry,
) *api.Handler {
	return api.NewHandler(logger, pipeline, dispatcher, tracker, cache, repo, reg)
}

// ProvideRouter wires the handler and websocket gateways into the router
func ProvideRouter(h *api.Handler, device *ws.DeviceGateway, dashboard *ws.DashboardGateway) *chi.Mux {
	return api.NewRouter(h, device.HandleDevice, dashboard.HandleDashboard)
}
