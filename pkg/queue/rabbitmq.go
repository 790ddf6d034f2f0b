package queue

import (
	"fmt"

	"citizen-reporting-system/pkg/events"
	"citizen-reporting-system/pkg/report"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeName is the topic exchange every domain event goes through; the
	// routing key is the event type.
	ExchangeName       = "reports"
	DeadLetterExchange = "reports.dlx"
)

func ConnectRabbitMQ(uri string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return conn, ch, nil
}

// NotifyClosed yields once when the connection or the channel closes. A
// clean close yields nil.
func NotifyClosed(conn *amqp.Connection, ch *amqp.Channel) <-chan error {
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	out := make(chan error, 1)
	go func() {
		var reason *amqp.Error
		select {
		case reason = <-connClosed:
		case reason = <-chClosed:
		}
		if reason != nil {
			out <- fmt.Errorf("%w: rabbitmq connection lost: %v", report.ErrDependencyUnavailable, reason)
			return
		}
		out <- nil
	}()
	return out
}

// DeclareTopology declares the event exchange and its dead-letter exchange.
func DeclareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", ExchangeName, err)
	}
	if err := ch.ExchangeDeclare(DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", DeadLetterExchange, err)
	}
	return nil
}

// DeadLetterQueue names the queue rejected deliveries of queue end up in.
func DeadLetterQueue(queue string) string {
	return queue + ".dlq"
}

// BindQueue declares a durable consumer queue wired to the dead-letter
// exchange and binds it to the given event types.
func BindQueue(ch *amqp.Channel, queue string, types ...events.Type) error {
	dlq := DeadLetterQueue(queue)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, queue, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", dlq, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": queue,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	for _, t := range types {
		if err := ch.QueueBind(queue, string(t), ExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", queue, t, err)
		}
	}
	return nil
}
