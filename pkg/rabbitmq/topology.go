package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Dead-letter names used when none are configured.
const (
	DefaultQueue                = "ocr-queue"
	DefaultDeadLetterExchange   = "ocr-dlx"
	DefaultDeadLetterQueue      = "ocr-dead"
	DefaultDeadLetterRoutingKey = "ocr-dead"
)

// Topology is the set of exchanges and queues the OCR pipeline relies on.
// Producer and consumer declare the same topology so either can start first.
type Topology struct {
	Queue                string
	DeadLetter           bool
	DeadLetterExchange   string
	DeadLetterQueue      string
	DeadLetterRoutingKey string
}

// NewTopology fills in the default names.
func NewTopology(queue string, deadLetter bool) Topology {
	if queue == "" {
		queue = DefaultQueue
	}
	return Topology{
		Queue:                queue,
		DeadLetter:           deadLetter,
		DeadLetterExchange:   DefaultDeadLetterExchange,
		DeadLetterQueue:      DefaultDeadLetterQueue,
		DeadLetterRoutingKey: DefaultDeadLetterRoutingKey,
	}
}

// declarer is the subset of *amqp.Channel needed to declare the topology.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Declare creates the dead-letter exchange and queue when enabled, then the
// primary durable queue pointing at them.
func (t Topology) Declare(ch declarer) error {
	if t.DeadLetter {
		if err := ch.ExchangeDeclare(
			t.DeadLetterExchange,
			amqp.ExchangeDirect,
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
		}

		if _, err := ch.QueueDeclare(
			t.DeadLetterQueue,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("failed to declare dead-letter queue: %w", err)
		}

		if err := ch.QueueBind(t.DeadLetterQueue, t.DeadLetterRoutingKey, t.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind dead-letter queue: %w", err)
		}
	}

	if _, err := ch.QueueDeclare(
		t.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		t.queueArgs(),
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	return nil
}

func (t Topology) queueArgs() amqp.Table {
	if !t.DeadLetter {
		return nil
	}
	return amqp.Table{
		"x-dead-letter-exchange":    t.DeadLetterExchange,
		"x-dead-letter-routing-key": t.DeadLetterRoutingKey,
	}
}
