package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pdfme/dms-pipeline/pkg/types"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one parsed OCR job. A returned error negatively
// acknowledges the delivery.
type Handler interface {
	Handle(ctx context.Context, job types.OcrJob) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job types.OcrJob) error

func (f HandlerFunc) Handle(ctx context.Context, job types.OcrJob) error { return f(ctx, job) }

// FailureRecorder remembers documents whose job was dead-lettered so they
// are not published again automatically.
type FailureRecorder interface {
	MarkOcrFailed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

// consumeChannel is the subset of *amqp.Channel the consume loop needs.
type consumeChannel interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
}

// Outcome is what happened to a single delivery.
type Outcome int

const (
	OutcomeAcked Outcome = iota
	OutcomeDropped
	OutcomeDeadLettered
	OutcomeRequeued
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcked:
		return "acked"
	case OutcomeDropped:
		return "dropped"
	case OutcomeDeadLettered:
		return "dead-lettered"
	case OutcomeRequeued:
		return "requeued"
	}
	return "unknown"
}

// ConsumerConfig controls flow control and failure routing.
type ConsumerConfig struct {
	Topology    Topology
	Prefetch    int
	ConsumerTag string
	// Failures is optional.
	Failures FailureRecorder
}

// Stats counts delivery outcomes since the consumer started.
type Stats struct {
	Acked        int64
	Dropped      int64
	DeadLettered int64
	Requeued     int64
}

// Consumer pulls OCR jobs with manual acknowledgment and a bounded prefetch.
type Consumer struct {
	channel consumeChannel
	cfg     ConsumerConfig
	handler Handler
	logger  *slog.Logger

	acked, dropped, deadLettered, requeued atomic.Int64
}

// NewConsumer declares the topology and sets the prefetch count on conn.
func NewConsumer(conn *Connection, cfg ConsumerConfig, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "ocr-worker"
	}

	if err := cfg.Topology.Declare(conn.channel); err != nil {
		return nil, err
	}

	if err := conn.channel.Qos(cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	logger.Info("consumer ready",
		"queue", cfg.Topology.Queue,
		"prefetch", cfg.Prefetch,
		"deadLetter", cfg.Topology.DeadLetter)

	return newConsumer(conn.channel, cfg, handler, logger), nil
}

func newConsumer(channel consumeChannel, cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	return &Consumer{
		channel: channel,
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

// Run consumes until ctx is cancelled or the broker closes the channel.
// A delivery that is being processed when ctx is cancelled is finished and
// acknowledged before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	closed := c.channel.NotifyClose(make(chan *amqp.Error, 1))
	msgs, err := c.channel.Consume(
		c.cfg.Topology.Queue,
		c.cfg.ConsumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	work := context.WithoutCancel(ctx)

	c.logger.Info("waiting for messages", "queue", c.cfg.Topology.Queue)

	for {
		select {
		case <-ctx.Done():
			if err := c.channel.Cancel(c.cfg.ConsumerTag, false); err != nil {
				c.logger.Warn("failed to cancel consumer", "error", err)
			}
			c.logStats()
			return nil

		case amqpErr, ok := <-closed:
			c.logStats()
			if !ok || amqpErr == nil {
				return errors.New("broker channel closed")
			}
			return fmt.Errorf("broker channel closed: %w", amqpErr)

		case msg, ok := <-msgs:
			if !ok {
				c.logStats()
				return errors.New("delivery channel closed")
			}
			c.HandleDelivery(work, msg)
		}
	}
}

// HandleDelivery parses, processes and settles a single delivery.
// Malformed messages are acknowledged and dropped so they are never retried.
func (c *Consumer) HandleDelivery(ctx context.Context, msg amqp.Delivery) Outcome {
	logger := c.logger.With("deliveryTag", msg.DeliveryTag, "redelivered", msg.Redelivered)

	job, err := types.ParseOcrJob(msg.Body)
	if err != nil {
		logger.Warn("invalid OCR message, dropping", "error", err, "payload", preview(msg.Body))
		c.settle(logger, msg.Ack(false))
		c.dropped.Add(1)
		return OutcomeDropped
	}

	logger = logger.With("documentId", job.DocumentID, "s3Key", job.S3Key)

	if err := c.handler.Handle(ctx, job); err != nil {
		requeue := !c.cfg.Topology.DeadLetter
		logger.Error("error processing OCR message", "error", err, "requeue", requeue)
		if !requeue {
			c.recordFailure(ctx, logger, job)
		}
		c.settle(logger, msg.Nack(false, requeue))
		if requeue {
			c.requeued.Add(1)
			return OutcomeRequeued
		}
		c.deadLettered.Add(1)
		return OutcomeDeadLettered
	}

	c.settle(logger, msg.Ack(false))
	c.acked.Add(1)
	return OutcomeAcked
}

// Stats returns a snapshot of the outcome counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Acked:        c.acked.Load(),
		Dropped:      c.dropped.Load(),
		DeadLettered: c.deadLettered.Load(),
		Requeued:     c.requeued.Load(),
	}
}

func (c *Consumer) settle(logger *slog.Logger, err error) {
	if err != nil {
		// the broker redelivers unsettled messages once the channel closes
		logger.Error("failed to settle delivery", "error", err)
	}
}

func (c *Consumer) recordFailure(ctx context.Context, logger *slog.Logger, job types.OcrJob) {
	if c.cfg.Failures == nil {
		return
	}
	found, err := c.cfg.Failures.MarkOcrFailed(ctx, job.DocumentID, time.Now().UTC())
	if err != nil {
		// the reconciler will publish the job again
		logger.Warn("failed to record OCR failure", "error", err)
		return
	}
	if !found {
		logger.Warn("OCR failure not recorded, document missing or already has text")
	}
}

func (c *Consumer) logStats() {
	s := c.Stats()
	c.logger.Info("consumer stopped",
		"acked", s.Acked,
		"dropped", s.Dropped,
		"deadLettered", s.DeadLettered,
		"requeued", s.Requeued)
}

func preview(body []byte) string {
	const limit = 200
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
