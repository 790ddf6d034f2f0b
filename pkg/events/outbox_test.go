package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"citizen-reporting-system/pkg/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outboxRepoStub struct {
	events []OutboxEvent

	fetchLimits []int
	failed      []failedMark
	dead        []deadMark
	dispatched  []int64
}

type failedMark struct {
	id           int64
	attempts     int
	nextAttempt  time.Time
	errorMessage string
}

type deadMark struct {
	id           int64
	attempts     int
	errorMessage string
}

func (r *outboxRepoStub) FetchPending(_ context.Context, now time.Time, limit int) ([]OutboxEvent, error) {
	r.fetchLimits = append(r.fetchLimits, limit)
	out := make([]OutboxEvent, 0, limit)
	for _, e := range r.events {
		if e.Status != OutboxPending || e.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *outboxRepoStub) find(id int64) *OutboxEvent {
	for i := range r.events {
		if r.events[i].ID == id {
			return &r.events[i]
		}
	}
	return nil
}

func (r *outboxRepoStub) MarkDispatched(_ context.Context, id int64, at time.Time) error {
	r.dispatched = append(r.dispatched, id)
	e := r.find(id)
	if e == nil {
		return errors.New("unknown outbox id")
	}
	e.Status = OutboxDispatched
	e.DispatchedAt = &at
	return nil
}

func (r *outboxRepoStub) MarkFailed(_ context.Context, id int64, attempts int, next time.Time, errMsg string) error {
	r.failed = append(r.failed, failedMark{id: id, attempts: attempts, nextAttempt: next, errorMessage: errMsg})
	e := r.find(id)
	if e == nil {
		return errors.New("unknown outbox id")
	}
	e.Attempts = attempts
	e.NextAttemptAt = next
	e.LastError = errMsg
	return nil
}

func (r *outboxRepoStub) MarkDead(_ context.Context, id int64, attempts int, errMsg string) error {
	r.dead = append(r.dead, deadMark{id: id, attempts: attempts, errorMessage: errMsg})
	e := r.find(id)
	if e == nil {
		return errors.New("unknown outbox id")
	}
	e.Status = OutboxDead
	e.Attempts = attempts
	e.LastError = errMsg
	return nil
}

type publisherStub struct {
	errByID   map[string]error
	published []Envelope
}

func (p *publisherStub) Publish(_ context.Context, event Envelope) error {
	if err, ok := p.errByID[event.EventID]; ok {
		return err
	}
	p.published = append(p.published, event)
	return nil
}

func pendingEvent(t *testing.T, id int64, eventID, reportID string, typ Type) OutboxEvent {
	t.Helper()
	env := Envelope{EventID: eventID, Type: typ, Timestamp: time.Now().UTC(), SourceComponent: SourceReportService, Payload: json.RawMessage(`{}`)}
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	return OutboxEvent{
		ID:            id,
		EventID:       eventID,
		ReportID:      reportID,
		Topic:         string(typ),
		Status:        OutboxPending,
		NextAttemptAt: time.Now().UTC().Add(-time.Second),
		PayloadJSON:   payload,
	}
}

func TestOutboxDispatcherDispatchBatchSuccess(t *testing.T) {
	repo := &outboxRepoStub{events: []OutboxEvent{pendingEvent(t, 1, "e1", "r1", ReportCreated)}}
	pub := &publisherStub{}
	d := NewOutboxDispatcher(repo, pub, time.Second, 10)

	require.NoError(t, d.DispatchBatch(context.Background()))

	assert.Equal(t, []int{10}, repo.fetchLimits)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "e1", pub.published[0].EventID)
	assert.Equal(t, []int64{1}, repo.dispatched)
	assert.Empty(t, repo.failed)
	assert.Empty(t, repo.dead)
	assert.Equal(t, int64(1), d.Metrics().DispatchSuccessTotal)
}

func TestOutboxDispatcherPublishFailureMarksFailedWithRetry(t *testing.T) {
	repo := &outboxRepoStub{events: []OutboxEvent{pendingEvent(t, 2, "e2", "r1", ReportUpdated)}}
	pub := &publisherStub{errByID: map[string]error{"e2": errors.New("broker down")}}
	d := NewOutboxDispatcher(repo, pub, time.Second, 10)

	require.NoError(t, d.DispatchBatch(context.Background()))

	require.Len(t, repo.failed, 1)
	assert.Equal(t, 1, repo.failed[0].attempts)
	assert.Equal(t, "broker down", repo.failed[0].errorMessage)
	assert.True(t, repo.failed[0].nextAttempt.After(time.Now().UTC()))
	assert.Empty(t, repo.dispatched)
	assert.Empty(t, repo.dead)
}

func TestOutboxDispatcherRetryBudgetMovesToDead(t *testing.T) {
	ev := pendingEvent(t, 3, "e3", "r1", ReportEscalated)
	ev.Attempts = 4
	repo := &outboxRepoStub{events: []OutboxEvent{ev}}
	pub := &publisherStub{errByID: map[string]error{"e3": errors.New("still failing")}}
	d := NewOutboxDispatcher(repo, pub, time.Second, 10)

	require.NoError(t, d.DispatchBatch(context.Background()))

	require.Len(t, repo.dead, 1)
	assert.Equal(t, 5, repo.dead[0].attempts)
	assert.Empty(t, repo.failed)
	assert.Equal(t, int64(1), d.Metrics().DispatchDeadTotal)
}

func TestOutboxDispatcherSurvivesBrokerOutage(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	ev := pendingEvent(t, 5, "e5", "r1", ReportCreated)
	ev.NextAttemptAt = now
	repo := &outboxRepoStub{events: []OutboxEvent{ev}}
	outage := fmt.Errorf("%w: failed to publish message: connection closed", report.ErrDependencyUnavailable)
	pub := &publisherStub{errByID: map[string]error{"e5": outage}}
	d := NewOutboxDispatcher(repo, pub, time.Second, 10)
	d.now = func() time.Time { return now }

	// well past the retry budget
	for i := 0; i < 12; i++ {
		require.NoError(t, d.DispatchBatch(context.Background()))
		now = repo.events[0].NextAttemptAt
	}
	assert.Empty(t, repo.dead)
	assert.Equal(t, OutboxPending, repo.events[0].Status)
	assert.Equal(t, 12, repo.events[0].Attempts)
	assert.Equal(t, int64(12), d.Metrics().DispatchFailureTotal)
	assert.LessOrEqual(t, repo.failed[len(repo.failed)-1].nextAttempt.Sub(repo.failed[len(repo.failed)-2].nextAttempt), 5*time.Minute)

	pub.errByID = nil
	require.NoError(t, d.DispatchBatch(context.Background()))
	assert.Equal(t, []int64{5}, repo.dispatched)
	assert.Equal(t, OutboxDispatched, repo.events[0].Status)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "e5", pub.published[0].EventID)
}

func TestOutboxDispatcherUndecodablePayloadGoesDead(t *testing.T) {
	ev := pendingEvent(t, 4, "e4", "r1", ReportCreated)
	ev.PayloadJSON = json.RawMessage(`{not json`)
	repo := &outboxRepoStub{events: []OutboxEvent{ev}}
	d := NewOutboxDispatcher(repo, &publisherStub{}, time.Second, 10)

	require.NoError(t, d.DispatchBatch(context.Background()))

	require.Len(t, repo.dead, 1)
	assert.Contains(t, repo.dead[0].errorMessage, "decode payload")
}

func TestOutboxDispatcherFailureBlocksLaterEventsOfSameReport(t *testing.T) {
	repo := &outboxRepoStub{events: []OutboxEvent{
		pendingEvent(t, 10, "a1", "report-a", ReportCreated),
		pendingEvent(t, 11, "b1", "report-b", ReportCreated),
		pendingEvent(t, 12, "a2", "report-a", ReportStatusChanged),
	}}
	pub := &publisherStub{errByID: map[string]error{"a1": errors.New("transient")}}
	d := NewOutboxDispatcher(repo, pub, time.Second, 10)

	require.NoError(t, d.DispatchBatch(context.Background()))

	assert.Equal(t, []int64{11}, repo.dispatched)
	require.Len(t, repo.failed, 1)
	assert.Equal(t, int64(10), repo.failed[0].id)

	// resume after backoff: a1 then a2, in order
	repo.events[0].NextAttemptAt = time.Now().UTC().Add(-time.Second)
	pub.errByID = nil
	require.NoError(t, d.DispatchBatch(context.Background()))

	assert.Equal(t, []int64{11, 10, 12}, repo.dispatched)
	require.Len(t, pub.published, 3)
	assert.Equal(t, "a1", pub.published[1].EventID)
	assert.Equal(t, "a2", pub.published[2].EventID)
}

func TestOutboxDispatcherStartClose(t *testing.T) {
	repo := &outboxRepoStub{events: []OutboxEvent{pendingEvent(t, 1, "e1", "r1", ReportCreated)}}
	pub := &publisherStub{}
	d := NewOutboxDispatcher(repo, pub, 10*time.Millisecond, 10)

	d.Start(context.Background())
	require.Eventually(t, func() bool { return d.Metrics().DispatchSuccessTotal == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Close())
}

func TestBackoffDurationIsCapped(t *testing.T) {
	assert.Equal(t, time.Second, backoffDuration(1))
	assert.Equal(t, 4*time.Second, backoffDuration(2))
	assert.Equal(t, 5*time.Minute, backoffDuration(100))
}
