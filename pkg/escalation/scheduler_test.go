package escalation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"citizen-reporting-system/pkg/escalation"
	"citizen-reporting-system/pkg/report"
	"citizen-reporting-system/pkg/store"
	"citizen-reporting-system/pkg/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 7, 1, 6, 0, 0, 0, time.UTC)

func newScheduler(st escalation.Store, clock *storetest.Clock, opts ...escalation.Option) *escalation.Scheduler {
	cfg := escalation.DefaultConfig()
	cfg.ReportTimeout = time.Second
	return escalation.NewScheduler(st, cfg, append([]escalation.Option{escalation.WithClock(clock.Now)}, opts...)...)
}

func TestSweepEscalatesOnlyOverdueActiveReports(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	clock := storetest.NewClock(t0.Add(80 * time.Hour))

	overdue := storetest.SeedReport(t, st, t0, t0.Add(72*time.Hour))
	fresh := storetest.SeedReport(t, st, t0, t0.Add(100*time.Hour))
	resolved := storetest.SeedReport(t, st, t0, t0.Add(72*time.Hour))
	require.NoError(t, st.DB().Model(&report.Report{}).Where("id = ?", resolved.ID).Update("status", string(report.StatusResolved)).Error)

	s := newScheduler(st, clock)
	res, err := s.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.Escalated)

	got, err := st.FindByID(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.EscalationLevel)
	assert.Equal(t, report.StatusEscalated, got.Status)
	assert.True(t, got.SLADeadline.Equal(clock.Now().Add(48*time.Hour)))

	for _, id := range []string{fresh.ID, resolved.ID} {
		r, err := st.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, r.EscalationLevel)
	}
}

func TestSweepIsIdempotentWithinLevel(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	clock := storetest.NewClock(t0.Add(80 * time.Hour))
	r := storetest.SeedReport(t, st, t0, t0.Add(72*time.Hour))

	s := newScheduler(st, clock)
	_, err := s.RunNow(ctx)
	require.NoError(t, err)
	res, err := s.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Escalated)

	history, err := st.History(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, int64(1), s.Stats().EscalatedTotal)
	assert.Equal(t, int64(2), s.Stats().Runs)
}

func TestSweepStopsAtMaxLevel(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	clock := storetest.NewClock(t0)
	r := storetest.SeedReport(t, st, t0, t0.Add(72*time.Hour))

	s := newScheduler(st, clock)
	for i := 0; i < 6; i++ {
		clock.Advance(100 * time.Hour)
		_, err := s.RunNow(ctx)
		require.NoError(t, err)
	}

	got, err := st.FindByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.EscalationLevel)

	history, err := st.History(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, store.EscalationNote(2, 3), history[2].Notes)
}

type flakyStore struct {
	escalation.Store
	failID string
}

func (f flakyStore) Escalate(ctx context.Context, p store.EscalateParams) (store.EscalationResult, error) {
	if p.ReportID == f.failID {
		return store.EscalationResult{}, errors.New("row locked")
	}
	return f.Store.Escalate(ctx, p)
}

func TestSweepIsolatesPerReportFailures(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	clock := storetest.NewClock(t0.Add(100 * time.Hour))

	a := storetest.SeedReport(t, st, t0, t0.Add(70*time.Hour))
	bad := storetest.SeedReport(t, st, t0, t0.Add(71*time.Hour))
	c := storetest.SeedReport(t, st, t0, t0.Add(72*time.Hour))

	s := newScheduler(flakyStore{Store: st, failID: bad.ID}, clock)
	res, err := s.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 2, res.Escalated)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, int64(1), s.Stats().FailedTotal)

	for _, id := range []string{a.ID, c.ID} {
		r, err := st.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, r.EscalationLevel)
	}
	r, err := st.FindByID(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, r.EscalationLevel)

	// the next sweep picks the failed one up
	s = newScheduler(st, clock)
	res, err = s.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Escalated)
}

type blockingStore struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) ListOverdue(context.Context, time.Time, int, int) ([]report.Report, error) {
	close(b.entered)
	<-b.release
	return nil, nil
}

func (b *blockingStore) Escalate(context.Context, store.EscalateParams) (store.EscalationResult, error) {
	return store.EscalationResult{}, nil
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	bs := &blockingStore{entered: make(chan struct{}), release: make(chan struct{})}
	s := newScheduler(bs, storetest.NewClock(t0))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.RunNow(context.Background())
		assert.NoError(t, err)
	}()
	<-bs.entered

	assert.True(t, s.Stats().Running)
	_, err := s.RunNow(context.Background())
	assert.ErrorIs(t, err, escalation.ErrSweepInProgress)

	close(bs.release)
	wg.Wait()

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Runs)
	assert.Equal(t, int64(1), stats.SkippedRuns)
	assert.False(t, stats.Running)
}

type fakeLocker struct {
	ok       bool
	released int
}

func (f *fakeLocker) TryLock(context.Context, time.Duration) (func(context.Context) error, bool, error) {
	if !f.ok {
		return nil, false, nil
	}
	return func(context.Context) error { f.released++; return nil }, true, nil
}

func TestLockerGatesSweep(t *testing.T) {
	st := storetest.Open(t)
	clock := storetest.NewClock(t0.Add(80 * time.Hour))
	storetest.SeedReport(t, st, t0, t0.Add(72*time.Hour))

	held := &fakeLocker{ok: false}
	_, err := newScheduler(st, clock, escalation.WithLocker(held)).RunNow(context.Background())
	assert.ErrorIs(t, err, escalation.ErrSweepInProgress)

	free := &fakeLocker{ok: true}
	res, err := newScheduler(st, clock, escalation.WithLocker(free)).RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Escalated)
	assert.Equal(t, 1, free.released)
}

func TestSchedulerStartClose(t *testing.T) {
	st := storetest.Open(t)
	clock := storetest.NewClock(t0.Add(80 * time.Hour))
	storetest.SeedReport(t, st, t0, t0.Add(72*time.Hour))

	cfg := escalation.DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	s := escalation.NewScheduler(st, cfg, escalation.WithClock(clock.Now))
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Stats().EscalatedTotal == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Close())
}

type memorySink struct {
	saved []escalation.EscalationReport
}

func (m *memorySink) SaveReport(_ context.Context, r escalation.EscalationReport) error {
	m.saved = append(m.saved, r)
	return nil
}

func TestReporterGenerate(t *testing.T) {
	st := storetest.Open(t)
	now := t0.Add(80 * time.Hour)
	storetest.SeedReport(t, st, t0, t0.Add(72*time.Hour), func(r *report.Report) { r.EscalationLevel = 2 })
	storetest.SeedReport(t, st, t0, now.Add(20*time.Minute))

	sink := &memorySink{}
	rep := escalation.NewReporter(st, sink, time.Hour)
	rep.SetClock(func() time.Time { return now })

	_, ok := rep.Latest()
	assert.False(t, ok)

	got, err := rep.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Active)
	assert.Equal(t, int64(1), got.PendingEscalation)
	assert.Equal(t, int64(1), got.Critical)
	assert.True(t, got.GeneratedAt.Equal(now))

	latest, ok := rep.Latest()
	require.True(t, ok)
	assert.Equal(t, got, latest)
	assert.Len(t, sink.saved, 1)
}
