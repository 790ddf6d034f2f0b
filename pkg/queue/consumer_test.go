package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"citizen-reporting-system/pkg/events"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAcknowledger struct {
	acked    []uint64
	nacked   []uint64
	requeued bool
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	f.nacked = append(f.nacked, tag)
	f.requeued = f.requeued || requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func delivery(t *testing.T, ack amqp.Acknowledger, tag uint64, env events.Envelope) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: body, MessageId: env.EventID}
}

func createdEnvelope(t *testing.T) events.Envelope {
	t.Helper()
	env, err := events.New(events.ReportCreated, events.SourceReportService, time.Now(), events.CreatedPayload{
		ReportRef: events.ReportRef{ReportID: "r1", ReferenceNumber: "LP-2026-000001"},
	})
	require.NoError(t, err)
	return env
}

func TestHandleDeliveryAcksOnSuccess(t *testing.T) {
	ack := &fakeAcknowledger{}
	var seen events.Envelope
	c := NewConsumer("dispatcher", func(_ context.Context, env events.Envelope) error {
		seen = env
		return nil
	}, time.Second)

	env := createdEnvelope(t)
	outcome := c.HandleDelivery(context.Background(), delivery(t, ack, 7, env))

	assert.Equal(t, OutcomeAck, outcome)
	assert.Equal(t, []uint64{7}, ack.acked)
	assert.Empty(t, ack.nacked)
	assert.Equal(t, env.EventID, seen.EventID)
}

func TestHandleDeliveryDeadLettersOnHandlerError(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := NewConsumer("dispatcher", func(context.Context, events.Envelope) error {
		return errors.New("boom")
	}, time.Second)

	outcome := c.HandleDelivery(context.Background(), delivery(t, ack, 8, createdEnvelope(t)))

	assert.Equal(t, OutcomeNack, outcome)
	assert.Equal(t, []uint64{8}, ack.nacked)
	assert.False(t, ack.requeued)
	assert.Empty(t, ack.acked)
}

func TestHandleDeliveryDeadLettersMalformedBody(t *testing.T) {
	ack := &fakeAcknowledger{}
	called := false
	c := NewConsumer("notifications", func(context.Context, events.Envelope) error {
		called = true
		return nil
	}, time.Second)

	for i, body := range []string{`not json`, `{"event_id":"x","type":"report.deleted"}`, `{"type":"report.created"}`} {
		c.HandleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: uint64(i + 1), Body: []byte(body)})
	}

	assert.False(t, called)
	assert.Equal(t, []uint64{1, 2, 3}, ack.nacked)
	assert.False(t, ack.requeued)
}

func TestHandleDeliveryAppliesTimeout(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := NewConsumer("dispatcher", func(ctx context.Context, _ events.Envelope) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)

	outcome := c.HandleDelivery(context.Background(), delivery(t, ack, 9, createdEnvelope(t)))
	assert.Equal(t, OutcomeNack, outcome)
}

func TestDeadLetterQueueName(t *testing.T) {
	assert.Equal(t, "notifications.dlq", DeadLetterQueue("notifications"))
}
