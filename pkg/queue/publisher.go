package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"citizen-reporting-system/pkg/events"
	"citizen-reporting-system/pkg/report"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrNotConfirmed = errors.New("broker did not confirm publish")

// Publisher sends envelopes to the event exchange and waits for the broker's
// confirmation of each one. Broker failures wrap report.ErrDependencyUnavailable.
type Publisher struct {
	mu      sync.Mutex
	ch      *amqp.Channel
	timeout time.Duration
}

func NewPublisher(ch *amqp.Channel, timeout time.Duration) (*Publisher, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{ch: ch, timeout: timeout}, nil
}

var _ events.Publisher = (*Publisher)(nil)

func (p *Publisher) Publish(ctx context.Context, env events.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx,
		ExchangeName,
		string(env.Type),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.EventID,
			Type:         string(env.Type),
			AppId:        env.SourceComponent,
			Timestamp:    env.Timestamp,
			Body:         body,
		})
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: failed to publish message: %w", report.ErrDependencyUnavailable, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: waiting for confirm of %s: %w", report.ErrDependencyUnavailable, env.EventID, err)
	}
	if !acked {
		return fmt.Errorf("%w: %w: %s", report.ErrDependencyUnavailable, ErrNotConfirmed, env.EventID)
	}
	return nil
}
