package worker

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/theratime/scheduling-platform/internal/events"
	"github.com/theratime/scheduling-platform/internal/observability/metrics"
	"github.com/theratime/scheduling-platform/internal/queue"
	"github.com/theratime/scheduling-platform/pkg/logging"
)

// EventQueue is the receive side of the appointment topic.
type EventQueue interface {
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queue.Message, error)
	Delete(ctx context.Context, receiptHandle string) error
	Defer(ctx context.Context, receiptHandle string, d time.Duration) error
}

// DeadLetterQueue receives messages that exhausted their retry budget,
// carrying the original payload plus failure metadata.
type DeadLetterQueue interface {
	SendWithAttributes(ctx context.Context, tenantID string, payload []byte, attrs map[string]string) error
}

// EventHandler applies side effects for one event.
type EventHandler interface {
	Handle(ctx context.Context, evt events.AppointmentEvent) error
}

// Consumer drives the notification handler from the event queue. Failures are
// redelivered with exponential backoff (realized via visibility timeout) up to
// maxAttempts, then dead-lettered. Dead-lettered messages are never marked
// processed.
type Consumer struct {
	queue       EventQueue
	dlq         DeadLetterQueue
	handler     EventHandler
	logger      *logging.Logger
	metrics     *metrics.ConsumerMetrics
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	waitSeconds int
	maxMessages int
}

// NewConsumer constructs the consumer loop.
func NewConsumer(q EventQueue, dlq DeadLetterQueue, handler EventHandler, logger *logging.Logger) *Consumer {
	if q == nil {
		panic("worker: event queue required")
	}
	if handler == nil {
		panic("worker: handler required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{
		queue:       q,
		dlq:         dlq,
		handler:     handler,
		logger:      logger,
		maxAttempts: 4,
		baseBackoff: time.Second,
		maxBackoff:  time.Minute,
		waitSeconds: 20,
		maxMessages: 10,
	}
}

func (c *Consumer) WithMaxAttempts(n int) *Consumer {
	if n > 0 {
		c.maxAttempts = n
	}
	return c
}

func (c *Consumer) WithBackoff(base, max time.Duration) *Consumer {
	if base > 0 {
		c.baseBackoff = base
	}
	if max > 0 {
		c.maxBackoff = max
	}
	return c
}

func (c *Consumer) WithPolling(maxMessages, waitSeconds int) *Consumer {
	if maxMessages > 0 {
		c.maxMessages = maxMessages
	}
	if waitSeconds >= 0 {
		c.waitSeconds = waitSeconds
	}
	return c
}

func (c *Consumer) WithMetrics(m *metrics.ConsumerMetrics) *Consumer {
	c.metrics = m
	return c
}

// Run polls until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.queue.Receive(ctx, c.maxMessages, c.waitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("event queue receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			c.process(ctx, msg)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg queue.Message) {
	var evt events.AppointmentEvent
	if err := json.Unmarshal([]byte(msg.Body), &evt); err != nil {
		c.logger.Warn("event payload undecodable", "error", err, "message_id", msg.ID, "attempt", msg.ReceiveCount)
		c.fail(ctx, msg, evt, err)
		return
	}
	if evt.TenantID == "" {
		// Malformed/untrusted message: drop without retry.
		c.logger.Warn("dropping event with missing tenant id", "message_id", msg.ID)
		c.delete(ctx, msg)
		return
	}

	if err := c.handler.Handle(ctx, evt); err != nil {
		c.logger.Error("event processing failed",
			"error", err, "event_id", evt.EventID, "event_type", evt.EventType, "attempt", msg.ReceiveCount)
		c.fail(ctx, msg, evt, err)
		return
	}
	c.delete(ctx, msg)
}

func (c *Consumer) fail(ctx context.Context, msg queue.Message, evt events.AppointmentEvent, cause error) {
	if msg.ReceiveCount >= c.maxAttempts {
		c.deadLetter(ctx, msg, evt, cause)
		return
	}
	delay := c.backoff(msg.ReceiveCount)
	if err := c.queue.Defer(ctx, msg.ReceiptHandle, delay); err != nil {
		c.logger.Error("failed to defer message for retry", "error", err, "message_id", msg.ID)
	}
	c.metrics.ObserveProcessed(evt.EventType, "retry_scheduled")
}

func (c *Consumer) deadLetter(ctx context.Context, msg queue.Message, evt events.AppointmentEvent, cause error) {
	tenantID := evt.TenantID
	if tenantID == "" {
		tenantID = "unknown"
	}
	if c.dlq != nil {
		attrs := map[string]string{
			"failure-reason": cause.Error(),
			"event-type":     evt.EventType,
			"attempts":       strconv.Itoa(msg.ReceiveCount),
		}
		if err := c.dlq.SendWithAttributes(ctx, tenantID, []byte(msg.Body), attrs); err != nil {
			// Keep the message in the source queue rather than lose it.
			c.logger.Error("dead-letter publish failed", "error", err, "message_id", msg.ID)
			return
		}
	}
	c.logger.Error("message moved to dead-letter queue",
		"message_id", msg.ID, "event_id", evt.EventID, "event_type", evt.EventType, "attempts", msg.ReceiveCount, "error", cause)
	c.delete(ctx, msg)
	c.metrics.ObserveDeadLetter(evt.EventType)
}

func (c *Consumer) delete(ctx context.Context, msg queue.Message) {
	if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		c.logger.Error("failed to delete message", "error", err, "message_id", msg.ID)
	}
}

func (c *Consumer) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.baseBackoff * time.Duration(1<<(attempt-1))
	if delay > c.maxBackoff {
		delay = c.maxBackoff
	}
	return delay
}
