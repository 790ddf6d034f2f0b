package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"citizen-reporting-system/pkg/events"
	"citizen-reporting-system/pkg/logging"
	"citizen-reporting-system/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one decoded event. A returned error dead-letters the
// delivery.
type Handler func(ctx context.Context, env events.Envelope) error

const (
	OutcomeAck  = "ack"
	OutcomeNack = "nack"
)

type Consumer struct {
	queue   string
	handler Handler
	timeout time.Duration
	log     *logging.Logger
}

func NewConsumer(queue string, handler Handler, timeout time.Duration) *Consumer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Consumer{
		queue:   queue,
		handler: handler,
		timeout: timeout,
		log:     logging.New("consumer:" + queue),
	}
}

// Run consumes until ctx is cancelled or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context, ch *amqp.Channel, prefetch int) error {
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("failed to set qos: %w", err)
		}
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", c.queue, err)
	}
	c.log.Info(ctx, "waiting for events", logging.Fields{"queue": c.queue})

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.HandleDelivery(ctx, d)
		}
	}
}

// HandleDelivery acks on success and nacks without requeue on any failure,
// including bodies that are not valid envelopes.
func (c *Consumer) HandleDelivery(ctx context.Context, d amqp.Delivery) string {
	env, err := events.Parse(d.Body)
	if err != nil {
		c.log.Warn(ctx, "dead-lettering malformed delivery", err, logging.Fields{"queue": c.queue, "message_id": d.MessageId})
		c.nack(ctx, d, "malformed")
		return OutcomeNack
	}

	hctx, cancel := context.WithTimeout(logging.WithTraceID(ctx, env.EventID), c.timeout)
	defer cancel()

	if err := c.handler(hctx, env); err != nil {
		c.log.Error(hctx, "event handler failed, dead-lettering", err, logging.Fields{
			"queue": c.queue, "event_id": env.EventID, "type": env.Type,
		})
		c.nack(hctx, d, string(env.Type))
		return OutcomeNack
	}

	if err := d.Ack(false); err != nil {
		c.log.Error(hctx, "ack failed", err, logging.Fields{"event_id": env.EventID})
	}
	metrics.EventsConsumed.WithLabelValues(c.queue, string(env.Type), OutcomeAck).Inc()
	return OutcomeAck
}

func (c *Consumer) nack(ctx context.Context, d amqp.Delivery, typ string) {
	if err := d.Nack(false, false); err != nil {
		c.log.Error(ctx, "nack failed", err, logging.Fields{"message_id": d.MessageId})
	}
	metrics.EventsConsumed.WithLabelValues(c.queue, typ, OutcomeNack).Inc()
}
