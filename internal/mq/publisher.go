package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeExecutionQueued MessageType = "execution.queued"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionQueuedPayload — payload для execution, ожидающего запуска.
type ExecutionQueuedPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	Priority    int       `json:"priority"`
}

// ClampPriority приводит приоритет execution к диапазону очереди.
func ClampPriority(priority int) uint8 {
	return uint8(min(max(priority, 0), MaxPriority))
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message, priority uint8) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				Priority:     priority,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
			"priority", priority,
		)

		return nil
	})
}

// PublishExecution ставит execution в очередь запуска.
// Потребитель: Orchestrator.
func (p *Publisher) PublishExecution(ctx context.Context, executionID uuid.UUID, priority int) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeExecutionQueued,
		Payload:   ExecutionQueuedPayload{ExecutionID: executionID, Priority: priority},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeExecutions, RoutingKeyQueued, msg, ClampPriority(priority))
}
