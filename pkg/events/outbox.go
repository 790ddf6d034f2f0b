package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"citizen-reporting-system/pkg/logging"
	"citizen-reporting-system/pkg/metrics"
	"citizen-reporting-system/pkg/report"
)

const (
	OutboxPending    = "pending"
	OutboxDispatched = "dispatched"
	OutboxDead       = "dead"
)

// OutboxEvent is an envelope persisted in the same transaction as the state
// change it describes.
type OutboxEvent struct {
	ID            int64
	EventID       string
	ReportID      string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

// OutboxRepository is implemented by the report store.
type OutboxRepository interface {
	// FetchPending returns due events in id order, excluding any event whose
	// report still has an earlier pending event in backoff.
	FetchPending(ctx context.Context, now time.Time, limit int) ([]OutboxEvent, error)
	MarkDispatched(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, errMsg string) error
	MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error
}

type Publisher interface {
	Publish(ctx context.Context, event Envelope) error
}

type OutboxDispatcher struct {
	repo      OutboxRepository
	publisher Publisher
	interval  time.Duration
	batchSize int
	maxRetry  int
	now       func() time.Time
	log       *logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dispatchSuccessTotal atomic.Int64
	dispatchFailureTotal atomic.Int64
	dispatchDeadTotal    atomic.Int64
}

type OutboxDispatcherMetrics struct {
	DispatchSuccessTotal int64
	DispatchFailureTotal int64
	DispatchDeadTotal    int64
}

func NewOutboxDispatcher(repo OutboxRepository, publisher Publisher, interval time.Duration, batchSize int) *OutboxDispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &OutboxDispatcher{
		repo:      repo,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		maxRetry:  5,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logging.New("outbox-dispatcher"),
	}
}

func (d *OutboxDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

func (d *OutboxDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.DispatchBatch(ctx); err != nil && ctx.Err() == nil {
			d.log.Error(ctx, "outbox dispatch batch failed", err, nil)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchBatch publishes one batch of due events. A failed event blocks the
// rest of its report's events in the batch so per-report order is kept.
func (d *OutboxDispatcher) DispatchBatch(ctx context.Context) error {
	events, err := d.repo.FetchPending(ctx, d.now(), d.batchSize)
	if err != nil {
		return err
	}

	blocked := make(map[string]bool)
	for _, event := range events {
		if blocked[event.ReportID] {
			continue
		}

		var envelope Envelope
		if err := json.Unmarshal(event.PayloadJSON, &envelope); err != nil {
			// undecodable rows can never succeed
			if markErr := d.repo.MarkDead(ctx, event.ID, event.Attempts+1, fmt.Sprintf("decode payload: %v", err)); markErr != nil {
				return markErr
			}
			d.dispatchDeadTotal.Add(1)
			metrics.EventsPublished.WithLabelValues(event.Topic, "dead").Inc()
			continue
		}

		if err := d.publisher.Publish(ctx, envelope); err != nil {
			blocked[event.ReportID] = true
			if markErr := d.markFailure(ctx, event, err); markErr != nil {
				return markErr
			}
			d.dispatchFailureTotal.Add(1)
			continue
		}

		if err := d.repo.MarkDispatched(ctx, event.ID, d.now()); err != nil {
			return err
		}
		d.dispatchSuccessTotal.Add(1)
		metrics.EventsPublished.WithLabelValues(event.Topic, "published").Inc()
	}

	return nil
}

// markFailure schedules a retry. Broker outages never exhaust the retry
// budget; only errors the broker did not cause can move an event to dead.
func (d *OutboxDispatcher) markFailure(ctx context.Context, event OutboxEvent, cause error) error {
	attempts := event.Attempts + 1
	errMsg := cause.Error()
	transient := errors.Is(cause, report.ErrDependencyUnavailable)
	if !transient && attempts >= d.maxRetry {
		if err := d.repo.MarkDead(ctx, event.ID, attempts, errMsg); err != nil {
			return err
		}
		d.dispatchDeadTotal.Add(1)
		metrics.EventsPublished.WithLabelValues(event.Topic, "dead").Inc()
		d.log.Error(ctx, "outbox event dead-lettered", nil, logging.Fields{
			"event_id": event.EventID, "report_id": event.ReportID, "attempts": attempts, "last_error": errMsg,
		})
		return nil
	}
	metrics.EventsPublished.WithLabelValues(event.Topic, "failed").Inc()
	if transient && attempts%d.maxRetry == 0 {
		d.log.Warn(ctx, "outbox event still waiting for broker", cause, logging.Fields{
			"event_id": event.EventID, "report_id": event.ReportID, "attempts": attempts,
		})
	}
	next := d.now().Add(backoffDuration(attempts))
	return d.repo.MarkFailed(ctx, event.ID, attempts, next, errMsg)
}

func (d *OutboxDispatcher) Metrics() OutboxDispatcherMetrics {
	return OutboxDispatcherMetrics{
		DispatchSuccessTotal: d.dispatchSuccessTotal.Load(),
		DispatchFailureTotal: d.dispatchFailureTotal.Load(),
		DispatchDeadTotal:    d.dispatchDeadTotal.Load(),
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
