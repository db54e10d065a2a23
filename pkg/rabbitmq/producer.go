package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pdfme/dms-pipeline/pkg/types"
	amqp "github.com/rabbitmq/amqp091-go"
)

const confirmTimeout = 10 * time.Second

// publisher is the subset of *amqp.Channel used to publish with confirms.
type publisher interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
}

// Producer publishes OCR jobs to the durable queue with publisher confirms.
type Producer struct {
	channel   publisher
	queueName string
	logger    *slog.Logger
}

// NewProducer declares the topology on conn and switches its channel to
// confirm mode.
func NewProducer(conn *Connection, topology Topology, logger *slog.Logger) (*Producer, error) {
	if err := topology.Declare(conn.channel); err != nil {
		return nil, err
	}

	if err := conn.channel.Confirm(false); err != nil {
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	logger.Info("producer ready", "queue", topology.Queue, "deadLetter", topology.DeadLetter)

	return &Producer{
		channel:   conn.channel,
		queueName: topology.Queue,
		logger:    logger,
	}, nil
}

// PublishOcrJob publishes a persistent job message and waits for the broker
// to confirm it.
func (p *Producer) PublishOcrJob(ctx context.Context, job types.OcrJob) error {
	if err := job.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		"",          // exchange
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.DocumentID.String(),
			Timestamp:    job.UploadedAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	// nil when the channel is not in confirm mode
	if confirmation != nil {
		acked, err := confirmation.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("waiting for publish confirm: %w", err)
		}
		if !acked {
			return fmt.Errorf("broker rejected message for document %s", job.DocumentID)
		}
	}

	p.logger.Info("published ocr job", "queue", p.queueName, "documentId", job.DocumentID, "s3Key", job.S3Key)
	return nil
}
