package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn     *Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher bound to a topic exchange
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// NotificationEvent is a device lifecycle or alert event for downstream
// consumers (notification service, dashboards).
type NotificationEvent struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	DeviceID   string    `json:"device_id"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ReadingAcceptedEvent is published after a reading has been committed
// to storage.
type ReadingAcceptedEvent struct {
	DeviceID     string    `json:"device_id"`
	Voltage      float64   `json:"voltage"`
	Current      float64   `json:"current"`
	Power        float64   `json:"power"`
	Energy       float64   `json:"energy"`
	PIRStatus    bool      `json:"pir_status"`
	PumpStatus   bool      `json:"pump_status"`
	AutoMode     bool      `json:"auto_mode"`
	FallbackUsed bool      `json:"fallback_used"`
	Source       string    `json:"source"`
	StatusSaved  bool      `json:"status_saved"`
	Reason       string    `json:"reason"`
	ReadingAt    time.Time `json:"reading_at"`
	ReceivedAt   time.Time `json:"received_at"`
}

// PublishNotification publishes a notification event, routed by kind
// (e.g. telemetry.notification.device_connected).
func (p *Publisher) PublishNotification(ctx context.Context, event NotificationEvent) error {
	routingKey := "telemetry.notification." + event.Kind
	if err := p.publishJSON(ctx, routingKey, event); err != nil {
		return err
	}

	p.logger.Debug("published notification event",
		zap.String("routing_key", routingKey),
		zap.String("device_id", event.DeviceID),
		zap.String("kind", event.Kind),
	)
	return nil
}

// PublishReadingAccepted publishes a reading-accepted event
func (p *Publisher) PublishReadingAccepted(ctx context.Context, event ReadingAcceptedEvent) error {
	routingKey := "telemetry.reading.accepted"
	if err := p.publishJSON(ctx, routingKey, event); err != nil {
		return err
	}

	p.logger.Debug("published reading accepted event",
		zap.String("routing_key", routingKey),
		zap.String("device_id", event.DeviceID),
	)
	return nil
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
