package rabbitmq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pdfme/dms-pipeline/pkg/types"
	amqp "github.com/rabbitmq/amqp091-go"
)

type ackCall struct {
	tag     uint64
	ack     bool
	requeue bool
}

// fakeAcknowledger records how each delivery was settled.
type fakeAcknowledger struct {
	calls []ackCall
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.calls = append(f.calls, ackCall{tag: tag, ack: true})
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.calls = append(f.calls, ackCall{tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func delivery(ack amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: []byte(body)}
}

const validBody = `{"documentId":"11111111-1111-1111-1111-111111111111","s3Key":"11111111-1111-1111-1111-111111111111.pdf","contentType":"application/pdf","uploadedAt":"2025-01-01T00:00:00Z"}`

func TestHandleDeliveryAcksOnSuccess(t *testing.T) {
	var handled []types.OcrJob
	handler := HandlerFunc(func(ctx context.Context, job types.OcrJob) error {
		handled = append(handled, job)
		return nil
	})
	c := newConsumer(nil, ConsumerConfig{Topology: NewTopology("", true)}, handler, discardLogger())
	ack := &fakeAcknowledger{}

	if got := c.HandleDelivery(context.Background(), delivery(ack, 7, validBody)); got != OutcomeAcked {
		t.Fatalf("outcome = %s, want acked", got)
	}
	if len(handled) != 1 {
		t.Fatalf("handler called %d times, want 1", len(handled))
	}
	if len(ack.calls) != 1 || !ack.calls[0].ack || ack.calls[0].tag != 7 {
		t.Fatalf("settle calls = %+v, want single ack of tag 7", ack.calls)
	}
	if s := c.Stats(); s.Acked != 1 {
		t.Errorf("Stats().Acked = %d, want 1", s.Acked)
	}
}

func TestHandleDeliveryDropsMalformed(t *testing.T) {
	bodies := []string{
		`not json`,
		`{"s3Key":"a.pdf"}`,
		`{"documentId":"11111111-1111-1111-1111-111111111111"}`,
		`{"documentId":"","s3Key":"a.pdf"}`,
	}

	for _, body := range bodies {
		called := false
		handler := HandlerFunc(func(ctx context.Context, job types.OcrJob) error {
			called = true
			return nil
		})
		c := newConsumer(nil, ConsumerConfig{Topology: NewTopology("", true)}, handler, discardLogger())
		ack := &fakeAcknowledger{}

		if got := c.HandleDelivery(context.Background(), delivery(ack, 1, body)); got != OutcomeDropped {
			t.Errorf("body %q: outcome = %s, want dropped", body, got)
		}
		if called {
			t.Errorf("body %q: handler must not be called", body)
		}
		if len(ack.calls) != 1 || !ack.calls[0].ack {
			t.Errorf("body %q: settle calls = %+v, want single ack", body, ack.calls)
		}
	}
}

func TestHandleDeliveryFailureRouting(t *testing.T) {
	tests := []struct {
		name        string
		deadLetter  bool
		wantOutcome Outcome
		wantRequeue bool
	}{
		{"dead-letter enabled", true, OutcomeDeadLettered, false},
		{"dead-letter disabled", false, OutcomeRequeued, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := HandlerFunc(func(ctx context.Context, job types.OcrJob) error {
				return errors.New("gs failed: exit status 1")
			})
			c := newConsumer(nil, ConsumerConfig{Topology: NewTopology("", tt.deadLetter)}, handler, discardLogger())
			ack := &fakeAcknowledger{}

			if got := c.HandleDelivery(context.Background(), delivery(ack, 3, validBody)); got != tt.wantOutcome {
				t.Fatalf("outcome = %s, want %s", got, tt.wantOutcome)
			}
			if len(ack.calls) != 1 {
				t.Fatalf("settle calls = %+v, want exactly one", ack.calls)
			}
			call := ack.calls[0]
			if call.ack {
				t.Fatalf("expected nack, got ack")
			}
			if call.requeue != tt.wantRequeue {
				t.Errorf("requeue = %v, want %v", call.requeue, tt.wantRequeue)
			}
		})
	}
}

func TestOutcomeString(t *testing.T) {
	if OutcomeDeadLettered.String() != "dead-lettered" {
		t.Errorf("unexpected string %q", OutcomeDeadLettered.String())
	}
	if Outcome(99).String() != "unknown" {
		t.Errorf("unexpected string %q", Outcome(99).String())
	}
}

type fakeFailures struct {
	ids []uuid.UUID
	err error
}

func (f *fakeFailures) MarkOcrFailed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	f.ids = append(f.ids, id)
	return f.err == nil, f.err
}

func TestHandleDeliveryRecordsDeadLetteredJobs(t *testing.T) {
	tests := []struct {
		name       string
		deadLetter bool
		wantMarked int
	}{
		{"dead-letter enabled", true, 1},
		{"dead-letter disabled", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failures := &fakeFailures{}
			handler := HandlerFunc(func(ctx context.Context, job types.OcrJob) error {
				return errors.New("tesseract failed: exit status 1")
			})
			cfg := ConsumerConfig{Topology: NewTopology("", tt.deadLetter), Failures: failures}
			c := newConsumer(nil, cfg, handler, discardLogger())

			c.HandleDelivery(context.Background(), delivery(&fakeAcknowledger{}, 1, validBody))
			if len(failures.ids) != tt.wantMarked {
				t.Fatalf("MarkOcrFailed calls = %d, want %d", len(failures.ids), tt.wantMarked)
			}
			if tt.wantMarked == 1 && failures.ids[0].String() != "11111111-1111-1111-1111-111111111111" {
				t.Errorf("marked %s", failures.ids[0])
			}
		})
	}
}

func TestHandleDeliveryStillNacksWhenRecordingFails(t *testing.T) {
	failures := &fakeFailures{err: errors.New("db down")}
	handler := HandlerFunc(func(ctx context.Context, job types.OcrJob) error {
		return errors.New("gs failed")
	})
	c := newConsumer(nil, ConsumerConfig{Topology: NewTopology("", true), Failures: failures}, handler, discardLogger())
	ack := &fakeAcknowledger{}

	if got := c.HandleDelivery(context.Background(), delivery(ack, 4, validBody)); got != OutcomeDeadLettered {
		t.Fatalf("outcome = %s, want dead-lettered", got)
	}
	if len(ack.calls) != 1 || ack.calls[0].ack || ack.calls[0].requeue {
		t.Errorf("settle calls = %+v, want single nack without requeue", ack.calls)
	}
}

// fakeChannel feeds deliveries and close notifications to Run.
type fakeChannel struct {
	msgs       chan amqp.Delivery
	closes     chan *amqp.Error
	consumeErr error

	mu        sync.Mutex
	cancelled []string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		msgs:   make(chan amqp.Delivery, 4),
		closes: make(chan *amqp.Error, 1),
	}
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("auto-ack must be off")
	}
	return f.msgs, f.consumeErr
}

func (f *fakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, consumer)
	return nil
}

func (f *fakeChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	return f.closes
}

func runAsync(ctx context.Context, c *Consumer) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRunFinishesInFlightDeliveryOnCancel(t *testing.T) {
	ch := newFakeChannel()
	started := make(chan struct{})
	release := make(chan struct{})
	var handlerErr error
	handler := HandlerFunc(func(ctx context.Context, job types.OcrJob) error {
		close(started)
		<-release
		handlerErr = ctx.Err()
		return nil
	})
	cfg := ConsumerConfig{Topology: NewTopology("ocr-queue", true), ConsumerTag: "ocr-worker-1"}
	c := newConsumer(ch, cfg, handler, discardLogger())
	ack := &fakeAcknowledger{}

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, c)
	ch.msgs <- delivery(ack, 9, validBody)

	<-started
	cancel()
	close(release)

	if err := wait(t, done); err != nil {
		t.Fatalf("Run() error = %v, want nil on cancel", err)
	}
	if handlerErr != nil {
		t.Errorf("handler context error = %v, want the in-flight job to run uncancelled", handlerErr)
	}
	if len(ack.calls) != 1 || !ack.calls[0].ack || ack.calls[0].tag != 9 {
		t.Errorf("settle calls = %+v, want ack of tag 9", ack.calls)
	}
	if len(ch.cancelled) != 1 || ch.cancelled[0] != "ocr-worker-1" {
		t.Errorf("cancelled = %v, want [ocr-worker-1]", ch.cancelled)
	}
}

func TestRunReturnsWhenDeliveriesClose(t *testing.T) {
	ch := newFakeChannel()
	c := newConsumer(ch, ConsumerConfig{Topology: NewTopology("", true)}, HandlerFunc(func(ctx context.Context, job types.OcrJob) error {
		return nil
	}), discardLogger())
	ack := &fakeAcknowledger{}

	ch.msgs <- delivery(ack, 1, validBody)
	close(ch.msgs)

	err := wait(t, runAsync(context.Background(), c))
	if err == nil {
		t.Fatal("Run() expected error when the delivery channel closes")
	}
	if len(ack.calls) != 1 || !ack.calls[0].ack {
		t.Errorf("settle calls = %+v, want the buffered delivery acked first", ack.calls)
	}
	if s := c.Stats(); s.Acked != 1 {
		t.Errorf("Stats().Acked = %d, want 1", s.Acked)
	}
}

func TestRunPropagatesBrokerClose(t *testing.T) {
	ch := newFakeChannel()
	c := newConsumer(ch, ConsumerConfig{Topology: NewTopology("", true)}, HandlerFunc(func(ctx context.Context, job types.OcrJob) error {
		return nil
	}), discardLogger())

	ch.closes <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker forced connection closure"}

	err := wait(t, runAsync(context.Background(), c))
	var amqpErr *amqp.Error
	if !errors.As(err, &amqpErr) || amqpErr.Code != amqp.ConnectionForced {
		t.Fatalf("Run() error = %v, want wrapped *amqp.Error with code %d", err, amqp.ConnectionForced)
	}
}

func TestRunGracefulCloseWithoutError(t *testing.T) {
	ch := newFakeChannel()
	c := newConsumer(ch, ConsumerConfig{Topology: NewTopology("", true)}, HandlerFunc(func(ctx context.Context, job types.OcrJob) error {
		return nil
	}), discardLogger())

	close(ch.closes)

	if err := wait(t, runAsync(context.Background(), c)); err == nil {
		t.Fatal("Run() expected error when the channel closes")
	}
}

func TestRunConsumeError(t *testing.T) {
	ch := newFakeChannel()
	ch.consumeErr = errors.New("NOT_FOUND - no queue 'ocr-queue'")
	c := newConsumer(ch, ConsumerConfig{Topology: NewTopology("ocr-queue", true)}, HandlerFunc(func(ctx context.Context, job types.OcrJob) error {
		return nil
	}), discardLogger())

	err := wait(t, runAsync(context.Background(), c))
	if err == nil || !errors.Is(err, ch.consumeErr) {
		t.Fatalf("Run() error = %v, want wrapped consume error", err)
	}
}
