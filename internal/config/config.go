package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	HTTP        HTTPConfig
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Cache       CacheConfig
	Liveness    LivenessConfig
	Fanout      FanoutConfig
	Trend       TrendConfig
	Validation  ValidationConfig
	Anomaly     AnomalyConfig
}

// HTTPConfig holds the HTTP server settings
type HTTPConfig struct {
	Addr                string
	ReadTimeoutSeconds  int
	WriteTimeoutSeconds int
}

func (c HTTPConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c HTTPConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL      string
	MaxConns int
}

// RabbitMQConfig holds RabbitMQ connection and topology settings. The
// ingest bridge is optional: it only runs when IngestQueue is set.
type RabbitMQConfig struct {
	URL              string
	EventsExchange   string
	IngestQueue      string
	IngestExchange   string
	IngestRoutingKey string
	IngestDLQ        string
	PrefetchCount    int
}

// IngestEnabled reports whether the AMQP ingest bridge should run.
func (c RabbitMQConfig) IngestEnabled() bool {
	return c.IngestQueue != ""
}

// CacheConfig holds the ingestion cache settings
type CacheConfig struct {
	MaxEntries             int
	TTLSeconds             int
	CleanupIntervalSeconds int
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c CacheConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// LivenessConfig holds the device liveness settings
type LivenessConfig struct {
	WindowSeconds int
}

func (c LivenessConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// FanoutConfig holds the dashboard fanout settings
type FanoutConfig struct {
	SubscriberQueueSize int
}

// TrendConfig holds the energy trend aggregation settings
type TrendConfig struct {
	BucketMinutes int
}

func (c TrendConfig) Bucket() time.Duration {
	return time.Duration(c.BucketMinutes) * time.Minute
}

// ValidationConfig holds validation settings
type ValidationConfig struct {
	TimestampToleranceMinutes int
}

// AnomalyConfig holds power spike detection settings
type AnomalyConfig struct {
	SpikeThreshold float64
	MinSamples     int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "telemetry-core"),
		HTTP: HTTPConfig{
			Addr:                getEnv("HTTP_ADDR", ":8080"),
			ReadTimeoutSeconds:  getEnvAsInt("HTTP_READ_TIMEOUT_SECONDS", 15),
			WriteTimeoutSeconds: getEnvAsInt("HTTP_WRITE_TIMEOUT_SECONDS", 15),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvAsInt("DATABASE_MAX_CONNS", 8),
		},
		RabbitMQ: RabbitMQConfig{
			URL:              getEnv("RABBITMQ_URL", ""),
			EventsExchange:   getEnv("RABBITMQ_EVENTS_EXCHANGE", "telemetry.events.exchange"),
			IngestQueue:      getEnv("RABBITMQ_INGEST_QUEUE", ""),
			IngestExchange:   getEnv("RABBITMQ_INGEST_EXCHANGE", "telemetry.ingest.exchange"),
			IngestRoutingKey: getEnv("RABBITMQ_INGEST_ROUTING_KEY", "telemetry.reading.raw"),
			IngestDLQ:        getEnv("RABBITMQ_INGEST_DLQ", "telemetry.ingest.dlq"),
			PrefetchCount:    getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Cache: CacheConfig{
			MaxEntries:             getEnvAsInt("CACHE_MAX_ENTRIES", 200),
			TTLSeconds:             getEnvAsInt("CACHE_TTL_SECONDS", 60),
			CleanupIntervalSeconds: getEnvAsInt("CACHE_CLEANUP_INTERVAL_SECONDS", 30),
		},
		Liveness: LivenessConfig{
			WindowSeconds: getEnvAsInt("LIVENESS_WINDOW_SECONDS", 30),
		},
		Fanout: FanoutConfig{
			SubscriberQueueSize: getEnvAsInt("SUBSCRIBER_QUEUE_SIZE", 32),
		},
		Trend: TrendConfig{
			BucketMinutes: getEnvAsInt("TREND_BUCKET_MINUTES", 15),
		},
		Validation: ValidationConfig{
			TimestampToleranceMinutes: getEnvAsInt("VALIDATION_TIMESTAMP_TOLERANCE_MINUTES", 10080),
		},
		Anomaly: AnomalyConfig{
			SpikeThreshold: getEnvAsFloat("ANOMALY_SPIKE_THRESHOLD", 3.0),
			MinSamples:     getEnvAsInt("ANOMALY_MIN_SAMPLES", 5),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
