package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tappedai/event-crawler/internal/domain"
	apperr "github.com/tappedai/event-crawler/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sealed(t *testing.T, s *Store, id, scraper string, start time.Time, runErr *string) {
	t.Helper()
	ctx := context.Background()
	r := &domain.RunRecord{ID: id, ScraperID: scraper, StartTime: start}
	require.NoError(t, s.InsertRun(ctx, r))
	end := start.Add(time.Minute)
	r.EndTime = &end
	r.Error = runErr
	require.NoError(t, s.SealRun(ctx, r))
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)

	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected wal, got %s", journalMode)
	}

	var name string
	if err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='runs'").Scan(&name); err != nil {
		t.Errorf("table runs not found: %v", err)
	}
}

func TestInsertAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 6, 1, 10, 0, 0, 123, time.UTC)

	require.NoError(t, s.InsertRun(ctx, &domain.RunRecord{ID: "r1", ScraperID: "ember", StartTime: start, CandidateCount: 3}))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "ember", got.ScraperID)
	assert.True(t, got.StartTime.Equal(start))
	assert.Nil(t, got.EndTime)
	assert.Equal(t, 3, got.CandidateCount)
	assert.Equal(t, domain.RunRunning, got.Status())

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSealRun_OnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	sealed(t, s, "r1", "ember", start, nil)

	end := start.Add(time.Hour)
	msg := "late"
	err := s.SealRun(ctx, &domain.RunRecord{ID: "r1", EndTime: &end, Error: &msg})
	assert.ErrorIs(t, err, ErrRunSealed)

	err = s.SealRun(ctx, &domain.RunRecord{ID: "nope", EndTime: &end})
	assert.True(t, apperr.Is(err, apperr.ErrNotFound))
}

func TestSealRun_RejectsEndBeforeStart(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertRun(ctx, &domain.RunRecord{ID: "r1", ScraperID: "ember", StartTime: start}))

	early := start.Add(-time.Second)
	assert.Error(t, s.SealRun(ctx, &domain.RunRecord{ID: "r1", EndTime: &early}))
}

func TestLatestSucceeded_SkipsFailedAndOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	failure := "sitemap unreachable"

	sealed(t, s, "ok-old", "ember", base, nil)
	sealed(t, s, "ok-new", "ember", base.Add(time.Hour), nil)
	sealed(t, s, "failed", "ember", base.Add(2*time.Hour), &failure)
	require.NoError(t, s.InsertRun(ctx, &domain.RunRecord{ID: "open", ScraperID: "ember", StartTime: base.Add(3 * time.Hour)}))
	sealed(t, s, "other", "songbyrd", base.Add(4*time.Hour), nil)

	got, err := s.LatestSucceeded(ctx, "ember")
	require.NoError(t, err)
	assert.Equal(t, "ok-new", got.ID)
	assert.Equal(t, domain.RunSucceeded, got.Status())

	_, err = s.LatestSucceeded(ctx, "nighthorse")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns_MostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	// Sub-second differences must still order correctly.
	sealed(t, s, "a", "ember", base, nil)
	sealed(t, s, "b", "ember", base.Add(500*time.Millisecond), nil)
	sealed(t, s, "c", "ember", base.Add(time.Second), nil)

	runs, err := s.ListRuns(ctx, "ember", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestSealStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertRun(ctx, &domain.RunRecord{ID: "dangling", ScraperID: "ember", StartTime: base}))
	require.NoError(t, s.InsertRun(ctx, &domain.RunRecord{ID: "beating", ScraperID: "ember", StartTime: base}))
	require.NoError(t, s.Heartbeat(ctx, "beating", base.Add(7*time.Hour)))
	sealed(t, s, "done", "ember", base, nil)

	now := base.Add(8 * time.Hour)
	ids, err := s.SealStale(ctx, now.Add(-6*time.Hour), now, "abandoned: no heartbeat")
	require.NoError(t, err)
	assert.Equal(t, []string{"dangling"}, ids)

	got, err := s.GetRun(ctx, "dangling")
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, got.Status())
	assert.Equal(t, "abandoned: no heartbeat", *got.Error)
	assert.False(t, got.EndTime.Before(got.StartTime))

	beating, err := s.GetRun(ctx, "beating")
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, beating.Status())
}

func TestHeartbeat_SealedRun(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	sealed(t, s, "done", "ember", base, nil)

	assert.ErrorIs(t, s.Heartbeat(context.Background(), "done", base.Add(time.Hour)), ErrRunNotFound)
}
