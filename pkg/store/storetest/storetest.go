// Package storetest opens throwaway SQLite-backed stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"citizen-reporting-system/pkg/database"
	"citizen-reporting-system/pkg/report"
	"citizen-reporting-system/pkg/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Open returns a migrated store on a temp-file database closed at cleanup.
func Open(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	s := store.New(db)
	require.NoError(t, s.AutoMigrate(context.Background()))
	return s
}

// Clock is a settable time source.
type Clock struct {
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time { return c.now }

func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func (c *Clock) Set(t time.Time) { c.now = t.UTC() }

// SeedReport inserts a PENDING report with the given deadline and returns it.
func SeedReport(t *testing.T, s *store.Store, createdAt, deadline time.Time, mutate ...func(*report.Report)) *report.Report {
	t.Helper()
	ctx := context.Background()
	ref, err := s.NextReference(ctx, createdAt.Year())
	require.NoError(t, err)

	reporter := "user-" + uuid.NewString()[:8]
	r := &report.Report{
		ID:              uuid.NewString(),
		ReferenceNumber: ref,
		Title:           "Lampu jalan mati",
		Description:     "Lampu jalan di gang tiga mati sejak minggu lalu",
		Category:        report.CategoryLampuJalan,
		Visibility:      report.VisibilityPublic,
		Status:          report.StatusPending,
		Priority:        3,
		EscalationLevel: 1,
		SLADeadline:     deadline.UTC(),
		ReporterID:      &reporter,
		CreatedAt:       createdAt.UTC(),
		UpdatedAt:       createdAt.UTC(),
	}
	for _, m := range mutate {
		m(r)
	}
	require.NoError(t, s.Create(ctx, r, nil))
	return r
}
