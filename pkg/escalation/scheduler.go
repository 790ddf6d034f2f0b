// Package escalation runs the periodic SLA sweep that raises overdue
// reports one escalation level at a time.
package escalation

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"citizen-reporting-system/pkg/logging"
	"citizen-reporting-system/pkg/metrics"
	"citizen-reporting-system/pkg/report"
	"citizen-reporting-system/pkg/store"
)

var ErrSweepInProgress = errors.New("escalation sweep already running")

// Store is the slice of the Report Store the sweep touches.
type Store interface {
	ListOverdue(ctx context.Context, now time.Time, maxLevel, limit int) ([]report.Report, error)
	Escalate(ctx context.Context, p store.EscalateParams) (store.EscalationResult, error)
}

// Locker provides cross-instance exclusivity. TryLock returns ok=false when
// another holder owns the lock.
type Locker interface {
	TryLock(ctx context.Context, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

type Config struct {
	Interval      time.Duration
	ReportTimeout time.Duration
	BatchSize     int
	Policy        report.SLAPolicy
}

func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Minute,
		ReportTimeout: 10 * time.Second,
		BatchSize:     500,
		Policy:        report.DefaultSLAPolicy(),
	}
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Candidates int           `json:"candidates"`
	Escalated  int           `json:"escalated"`
	Unchanged  int           `json:"unchanged"`
	Failed     int           `json:"failed"`
}

type Stats struct {
	Runs           int64        `json:"runs"`
	SkippedRuns    int64        `json:"skipped_runs"`
	EscalatedTotal int64        `json:"escalated_total"`
	FailedTotal    int64        `json:"failed_total"`
	Running        bool         `json:"running"`
	LastResult     string       `json:"last_result,omitempty"`
	LastSweep      *SweepResult `json:"last_sweep,omitempty"`
}

type Scheduler struct {
	store  Store
	cfg    Config
	locker Locker
	now    func() time.Time
	log    *logging.Logger

	running atomic.Bool

	runs       atomic.Int64
	skipped    atomic.Int64
	escalated  atomic.Int64
	failed     atomic.Int64
	statsMu    sync.Mutex
	lastResult string
	lastSweep  *SweepResult

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Scheduler)

func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(st Store, cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = def.ReportTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Policy.MaxLevel < 1 {
		cfg.Policy = def.Policy
	}
	s := &Scheduler{
		store: st,
		cfg:   cfg,
		now:   time.Now,
		log:   logging.New("escalation-scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Start(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	if s.locker == nil {
		s.log.Warn(parent, "no distributed lock configured, sweep exclusivity is per process", nil, nil)
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Scheduler) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunNow(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) && ctx.Err() == nil {
				s.log.Error(ctx, "escalation sweep failed", err, nil)
			}
		}
	}
}

// RunNow performs one sweep unless another is in flight, in which case it
// returns ErrSweepInProgress immediately. Overlapping triggers are dropped,
// never queued.
func (s *Scheduler) RunNow(ctx context.Context) (SweepResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.markSkipped("in_progress")
		return SweepResult{}, ErrSweepInProgress
	}
	defer s.running.Store(false)

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, s.cfg.Interval)
		if err != nil {
			s.record("failed", nil)
			return SweepResult{}, err
		}
		if !ok {
			s.markSkipped("locked_elsewhere")
			return SweepResult{}, ErrSweepInProgress
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				s.log.Warn(ctx, "release sweep lock", err, nil)
			}
		}()
	}

	res, err := s.sweep(ctx)
	if err != nil {
		s.record("failed", nil)
		return res, err
	}
	s.record("completed", &res)
	return res, nil
}

func (s *Scheduler) sweep(ctx context.Context) (SweepResult, error) {
	started := time.Now()
	now := s.now().UTC()
	res := SweepResult{StartedAt: now}

	candidates, err := s.store.ListOverdue(ctx, now, s.cfg.Policy.MaxLevel, s.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	res.Candidates = len(candidates)

	for _, r := range candidates {
		if ctx.Err() != nil {
			break
		}
		s.escalateOne(ctx, r, now, &res)
	}

	res.Duration = time.Since(started)
	metrics.SweepDuration.Observe(res.Duration.Seconds())
	s.log.Info(ctx, "escalation sweep finished", logging.Fields{
		"candidates": res.Candidates, "escalated": res.Escalated, "unchanged": res.Unchanged,
		"failed": res.Failed, "duration": res.Duration.String(),
	})
	return res, nil
}

// escalateOne runs a single report under its own timeout. Failures are
// counted and left for the next sweep.
func (s *Scheduler) escalateOne(ctx context.Context, r report.Report, now time.Time, res *SweepResult) {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.ReportTimeout)
	defer cancel()

	out, err := s.store.Escalate(rctx, store.EscalateParams{
		ReportID:      r.ID,
		ExpectedLevel: r.EscalationLevel,
		MaxLevel:      s.cfg.Policy.MaxLevel,
		NewDeadline:   s.cfg.Policy.Deadline(r.EscalationLevel+1, now),
		Now:           now,
	})
	if err != nil {
		res.Failed++
		s.failed.Add(1)
		metrics.EscalationFailures.Inc()
		s.log.Error(ctx, "escalation failed", err, logging.Fields{"report_id": r.ID, "reference": r.ReferenceNumber})
		return
	}
	if !out.Escalated {
		res.Unchanged++
		return
	}
	res.Escalated++
	s.escalated.Add(1)
	metrics.ReportsEscalated.WithLabelValues(strconv.Itoa(out.Report.EscalationLevel)).Inc()
	s.log.Info(ctx, "report escalated", logging.Fields{
		"report_id":      r.ID,
		"reference":      r.ReferenceNumber,
		"previous_level": out.PreviousLevel,
		"new_level":      out.Report.EscalationLevel,
		"sla_deadline":   out.Report.SLADeadline,
	})
}

func (s *Scheduler) markSkipped(reason string) {
	s.skipped.Add(1)
	metrics.SweepRuns.WithLabelValues("skipped").Inc()
	s.log.Info(context.Background(), "escalation sweep skipped", logging.Fields{"reason": reason})
}

func (s *Scheduler) record(result string, sweep *SweepResult) {
	s.runs.Add(1)
	metrics.SweepRuns.WithLabelValues(result).Inc()
	s.statsMu.Lock()
	s.lastResult = result
	if sweep != nil {
		copied := *sweep
		s.lastSweep = &copied
	}
	s.statsMu.Unlock()
}

func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := Stats{
		Runs:           s.runs.Load(),
		SkippedRuns:    s.skipped.Load(),
		EscalatedTotal: s.escalated.Load(),
		FailedTotal:    s.failed.Load(),
		Running:        s.running.Load(),
		LastResult:     s.lastResult,
	}
	if s.lastSweep != nil {
		copied := *s.lastSweep
		st.LastSweep = &copied
	}
	return st
}
