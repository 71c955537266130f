package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	AppointmentCreated       = "APPOINTMENT_CREATED"
	AppointmentCancelled     = "APPOINTMENT_CANCELLED"
	AppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	AppointmentNoShow        = "APPOINTMENT_NO_SHOW"
)

type Event struct {
	Type          string         `json:"type"`
	AppointmentID uuid.UUID      `json:"appointment_id"`
	DoctorID      uuid.UUID      `json:"doctor_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Publisher hands committed appointment events to downstream consumers
// (reminders, billing). Publishing happens after the database commit.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

type AMQPPublisher struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
	log      *zap.Logger
}

// NewAMQPPublisher dials url and declares a durable topic exchange. Events
// are routed by their type.
func NewAMQPPublisher(url, exchange string, log *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange, log: log}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Type, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    ev.OccurredAt,
		Type:         ev.Type,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey(ev.Type), false, false, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.Type, err)
	}

	p.log.Debug("event published",
		zap.String("type", ev.Type),
		zap.String("appointment_id", ev.AppointmentID.String()))
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.channel.Close()
	return p.conn.Close()
}

// routingKey maps APPOINTMENT_STATUS_CHANGED to appointment.status_changed.
func routingKey(eventType string) string {
	return strings.Replace(strings.ToLower(eventType), "_", ".", 1)
}
