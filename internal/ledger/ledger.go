// Package ledger brackets crawl runs: it opens and seals run records, keeps
// scraper metadata current, and answers "when did this target last succeed".
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tappedai/event-crawler/internal/domain"
	apperr "github.com/tappedai/event-crawler/internal/errors"
	"github.com/tappedai/event-crawler/internal/id"
)

// AbandonedReason is the error recorded on runs sealed by the stale sweep.
const AbandonedReason = "abandoned: no heartbeat"

// TopPerformerCount is how many performers a venue advertises.
const TopPerformerCount = 5

// RunStore persists run records.
type RunStore interface {
	InsertRun(ctx context.Context, r *domain.RunRecord) error
	SealRun(ctx context.Context, r *domain.RunRecord) error
	UpdateCandidates(ctx context.Context, runID string, count int) error
	Heartbeat(ctx context.Context, runID string, t time.Time) error
	GetRun(ctx context.Context, runID string) (*domain.RunRecord, error)
	LatestSucceeded(ctx context.Context, scraperID string) (*domain.RunRecord, error)
	ListRuns(ctx context.Context, scraperID string, limit int) ([]*domain.RunRecord, error)
	SealStale(ctx context.Context, cutoff, now time.Time, reason string) ([]string, error)
}

// Documents is the slice of the document store the ledger writes to.
type Documents interface {
	UpsertScraper(ctx context.Context, meta *domain.ScraperMetadata) error
	ProcessedLinks(ctx context.Context, scraperID string) (map[string]struct{}, error)
	SetVenueTopPerformers(ctx context.Context, venueID string, performerIDs []string) error
}

// Ranker ranks a venue's performers by booking count.
type Ranker interface {
	TopPerformers(ctx context.Context, venueID string, n int) ([]string, error)
}

// Ledger records run lifecycles.
type Ledger struct {
	runs   RunStore
	docs   Documents
	ranker Ranker
	logger *slog.Logger
	now    func() time.Time
}

// New creates a ledger.
func New(runs RunStore, docs Documents, ranker Ranker, logger *slog.Logger) *Ledger {
	return &Ledger{
		runs:   runs,
		docs:   docs,
		ranker: ranker,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// StartRun opens a run for meta's target and stamps the scraper metadata
// with the start time. Failures are run-fatal.
func (l *Ledger) StartRun(ctx context.Context, meta *domain.ScraperMetadata) (*domain.RunRecord, error) {
	now := l.now()

	meta.LastScrapeStart = &now
	if err := l.docs.UpsertScraper(ctx, meta); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeRunFatal, "record scraper metadata")
	}

	run := &domain.RunRecord{
		ID:        id.NewRunID(),
		ScraperID: meta.ID,
		StartTime: now,
	}
	if err := l.runs.InsertRun(ctx, run); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeRunFatal, "open run")
	}

	l.logger.Info("run started", "run_id", run.ID, "scraper_id", meta.ID)
	return run, nil
}

// RecordCandidates stores the frontier size of an open run.
func (l *Ledger) RecordCandidates(ctx context.Context, runID string, count int) error {
	return l.runs.UpdateCandidates(ctx, runID, count)
}

// EndRun seals runID with runErr (nil means success), stamps the scraper
// metadata with the end time, and refreshes the venue's top performers.
func (l *Ledger) EndRun(ctx context.Context, meta *domain.ScraperMetadata, runID string, runErr error, newEvents int) error {
	run, err := l.runs.GetRun(ctx, runID)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeRunFatal, "load run")
	}
	if err := run.Seal(l.now(), runErr); err != nil {
		return apperr.Wrap(err, apperr.CodeRunFatal, "seal run")
	}
	run.NewEventCount = newEvents
	if err := l.runs.SealRun(ctx, run); err != nil {
		return apperr.Wrap(err, apperr.CodeRunFatal, "seal run")
	}

	meta.LastScrapeEnd = run.EndTime
	if err := l.docs.UpsertScraper(ctx, meta); err != nil {
		return apperr.Wrap(err, apperr.CodeRunFatal, "record scraper metadata")
	}

	l.refreshTopPerformers(ctx, meta.Venue.ID)

	l.logger.Info("run ended",
		"run_id", run.ID,
		"scraper_id", meta.ID,
		"status", run.Status(),
		"new_events", newEvents,
		"duration", run.EndTime.Sub(run.StartTime),
	)
	return nil
}

func (l *Ledger) refreshTopPerformers(ctx context.Context, venueID string) {
	if l.ranker == nil || venueID == "" {
		return
	}
	top, err := l.ranker.TopPerformers(ctx, venueID, TopPerformerCount)
	if err == nil {
		err = l.docs.SetVenueTopPerformers(ctx, venueID, top)
	}
	if err != nil {
		l.logger.Warn("refresh top performers failed", "venue_id", venueID, "error", err)
	}
}

// LatestRun returns the most recent successful run, or nil when the target
// has never completed cleanly.
func (l *Ledger) LatestRun(ctx context.Context, scraperID string) (*domain.RunRecord, error) {
	run, err := l.runs.LatestSucceeded(ctx, scraperID)
	if apperr.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeRunFatal, "load latest run")
	}
	return run, nil
}

// Runs lists a target's runs, most recent first.
func (l *Ledger) Runs(ctx context.Context, scraperID string, limit int) ([]*domain.RunRecord, error) {
	return l.runs.ListRuns(ctx, scraperID, limit)
}

// ProcessedLinks snapshots the encoded links already materialized for a target.
func (l *Ledger) ProcessedLinks(ctx context.Context, scraperID string) (map[string]struct{}, error) {
	links, err := l.docs.ProcessedLinks(ctx, scraperID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeRunFatal, "load processed links")
	}
	return links, nil
}

// Heartbeat marks an open run as alive.
func (l *Ledger) Heartbeat(ctx context.Context, runID string) error {
	return l.runs.Heartbeat(ctx, runID, l.now())
}

// KeepAlive beats for runID every interval until the returned stop is called.
func (l *Ledger) KeepAlive(ctx context.Context, runID string, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Heartbeat(ctx, runID); err != nil && !errors.Is(err, context.Canceled) {
					l.logger.Warn("heartbeat failed", "run_id", runID, "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// SweepStale fails open runs that have shown no sign of life for olderThan.
func (l *Ledger) SweepStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("stale timeout must be positive, got %s", olderThan)
	}
	now := l.now()
	ids, err := l.runs.SealStale(ctx, now.Add(-olderThan), now, AbandonedReason)
	if err != nil {
		return nil, err
	}
	for _, runID := range ids {
		l.logger.Warn("sealed abandoned run", "run_id", runID, "stale_after", olderThan)
	}
	return ids, nil
}
