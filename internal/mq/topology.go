package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeExecutions Exchange = "metis.executions"
	ExchangeDLQ        Exchange = "metis.dlq"
)

// Queues — имена очередей.
const (
	QueueExecutions    Queue = "metis.executions"
	QueueDLQExecutions Queue = "dlq.executions"
)

// Routing keys.
const (
	RoutingKeyQueued        RoutingKey = "queued"
	RoutingKeyDLQExecutions RoutingKey = "executions"
)

// MaxPriority — x-max-priority очереди executions.
// Приоритет сообщения лежит в [0, MaxPriority].
const MaxPriority = 10

// SetupTopology объявляет exchanges, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	for _, name := range []Exchange{ExchangeExecutions, ExchangeDLQ} {
		err := ch.ExchangeDeclare(
			string(name), // name
			"direct",     // type
			true,         // durable
			false,        // auto-deleted
			false,        // internal
			false,        // no-wait
			nil,          // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// metis.executions — priority queue, битые сообщения уходят в DLQ
		{QueueExecutions, amqp.Table{
			"x-max-priority":            int32(MaxPriority),
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQExecutions),
		}},

		// dlq.executions — разбор вручную
		{QueueDLQExecutions, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueExecutions, RoutingKeyQueued, ExchangeExecutions},
		{QueueDLQExecutions, RoutingKeyDLQExecutions, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Metis RabbitMQ Topology:

    metis.executions (direct)
    └── metis.executions [routing: queued, x-max-priority: 10]
            Consumer: Orchestrator (dispatcher)
            DLQ: dlq.executions

    metis.dlq (direct)
    └── dlq.executions [routing: executions]
            Manual processing
  `
}
