package escalation

import (
	"context"
	"sync"
	"time"

	"citizen-reporting-system/pkg/logging"
	"citizen-reporting-system/pkg/store"
)

// EscalationReport is a point-in-time view of SLA pressure.
type EscalationReport struct {
	GeneratedAt    time.Time `json:"generated_at" bson:"generated_at"`
	store.Snapshot `bson:",inline"`
}

type SnapshotSource interface {
	EscalationSnapshot(ctx context.Context, now time.Time, window time.Duration) (store.Snapshot, error)
}

// SnapshotSink persists generated reports.
type SnapshotSink interface {
	SaveReport(ctx context.Context, r EscalationReport) error
}

// Reporter periodically builds an EscalationReport. It never writes reports.
type Reporter struct {
	source   SnapshotSource
	sink     SnapshotSink
	interval time.Duration
	window   time.Duration
	now      func() time.Time
	log      *logging.Logger

	latestMu sync.RWMutex
	latest   *EscalationReport

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReporter(source SnapshotSource, sink SnapshotSink, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Reporter{
		source:   source,
		sink:     sink,
		interval: interval,
		window:   time.Hour,
		now:      time.Now,
		log:      logging.New("escalation-reporter"),
	}
}

// SetClock replaces the wall clock.
func (r *Reporter) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Reporter) Generate(ctx context.Context) (EscalationReport, error) {
	now := r.now().UTC()
	snap, err := r.source.EscalationSnapshot(ctx, now, r.window)
	if err != nil {
		return EscalationReport{}, err
	}
	rep := EscalationReport{GeneratedAt: now, Snapshot: snap}

	r.latestMu.Lock()
	r.latest = &rep
	r.latestMu.Unlock()

	if r.sink != nil {
		if err := r.sink.SaveReport(ctx, rep); err != nil {
			r.log.Warn(ctx, "persist escalation report", err, nil)
		}
	}
	r.log.Info(ctx, "escalation report generated", logging.Fields{
		"active": snap.Active, "pending_escalation": snap.PendingEscalation,
		"escalated_last_hour": snap.EscalatedLastHour, "critical": snap.Critical,
	})
	return rep, nil
}

// Latest returns the most recent report, if one was generated.
func (r *Reporter) Latest() (EscalationReport, bool) {
	r.latestMu.RLock()
	defer r.latestMu.RUnlock()
	if r.latest == nil {
		return EscalationReport{}, false
	}
	return *r.latest, true
}

func (r *Reporter) Start(parent context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Generate(ctx); err != nil && ctx.Err() == nil {
					r.log.Error(ctx, "generate escalation report", err, nil)
				}
			}
		}
	}()
}

func (r *Reporter) Close() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	return nil
}
