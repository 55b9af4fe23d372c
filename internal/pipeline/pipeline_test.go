package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tappedai/event-crawler/internal/crawler"
	"github.com/tappedai/event-crawler/internal/domain"
	apperr "github.com/tappedai/event-crawler/internal/errors"
	"github.com/tappedai/event-crawler/internal/extraction"
	"github.com/tappedai/event-crawler/internal/geocode"
	"github.com/tappedai/event-crawler/internal/ledger"
	"github.com/tappedai/event-crawler/internal/ledger/sqlite"
	"github.com/tappedai/event-crawler/internal/materialize"
	"github.com/tappedai/event-crawler/internal/metrics"
	"github.com/tappedai/event-crawler/internal/pipeline"
	"github.com/tappedai/event-crawler/internal/sitemap"
	"github.com/tappedai/event-crawler/internal/store"
)

const venueID = "venue-1"

type recordingNotifier struct {
	mu       sync.Mutex
	starts   []int
	success  []int
	failures []error
}

func (r *recordingNotifier) OnRunStart(_ context.Context, _ string, candidates int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, candidates)
}

func (r *recordingNotifier) OnRunSuccess(_ context.Context, _ string, newEvents int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success = append(r.success, newEvents)
}

func (r *recordingNotifier) OnRunFailure(_ context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

// venueSite serves a homepage, a sitemap listing four event pages and the
// pages themselves.
type venueSite struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newVenueSite(t *testing.T) *venueSite {
	t.Helper()
	site := &venueSite{hits: make(map[string]int)}
	site.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		site.hits[r.URL.Path]++
		site.mu.Unlock()

		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = fmt.Fprint(w, `<html><body><p>Welcome</p></body></html>`)
		case "/sitemap.xml":
			w.Header().Set("Content-Type", "application/xml")
			_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>%[1]s/events/a</loc></url>
<url><loc>%[1]s/events/b</loc></url>
<url><loc>%[1]s/events/c</loc></url>
<url><loc>%[1]s/events/d</loc></url>
</urlset>`, site.URL)
		case "/events/a", "/events/b", "/events/c", "/events/d":
			w.Header().Set("Content-Type", "text/html")
			_, _ = fmt.Fprintf(w, `<html><body><h1>%s</h1></body></html>`, r.URL.Path)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(site.Close)
	return site
}

func (s *venueSite) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

type fixture struct {
	site      *venueSite
	docs      *store.Store
	runs      *sqlite.Store
	ledger    *ledger.Ledger
	extractor *extraction.StaticExtractor
	notifier  *recordingNotifier
	deps      pipeline.Deps
	target    domain.ScraperConfig
}

func strPtr(s string) *string { return &s }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	site := newVenueSite(t)
	u := func(p string) string { return site.URL + p }

	docs, err := store.NewInMemory(logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	runs, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	require.NoError(t, docs.CreateAccount(ctx, &domain.Account{
		ID:        venueID,
		Username:  "songbyrd_music_house",
		VenueInfo: &domain.VenueInfo{Genres: []string{"indie"}},
	}))

	start := time.Date(2026, 11, 1, 20, 0, 0, 0, time.UTC)
	ext := extraction.NewStatic(map[string]*extraction.EventRecord{
		u("/events/a"): {
			Title:        strPtr("Pup with Illuminati Hotties"),
			Performers:   []string{"Pup", "Illuminati Hotties"},
			StartTime:    start,
			EndTime:      start.Add(3 * time.Hour),
			IsMusicEvent: true,
		},
		u("/events/b"): {Performers: []string{"Already Seen"}, IsMusicEvent: true},
		u("/events/c"): {Title: strPtr("Trivia Night"), Performers: []string{"Quizmaster"}},
	})
	ext.Errors[u("/events/d")] = apperr.Extractionf("extraction service unavailable")

	mat := materialize.New(docs, docs, nil, logger)
	led := ledger.New(runs, docs, mat, logger)
	notifier := &recordingNotifier{}

	deps := pipeline.Deps{
		Venues:       docs,
		Events:       docs,
		Ledger:       led,
		Geocoder:     geocode.Static{PlaceID: "place-dc", Geohash: "dqcjq", Lat: 38.9, Lng: -77.03},
		Sitemaps:     sitemap.NewLoader(nil, "", logger),
		Walker:       crawler.NewWalker(ext, nil, nil, crawler.Options{Location: time.UTC, MaxConcurrency: 4}, logger),
		Materializer: mat,
		Notifier:     notifier,
		Metrics:      metrics.New(),
	}

	return &fixture{
		site:      site,
		docs:      docs,
		runs:      runs,
		ledger:    led,
		extractor: ext,
		notifier:  notifier,
		deps:      deps,
		target: domain.ScraperConfig{
			ID:       venueID,
			Name:     "songbyrd",
			Username: "songbyrd_music_house",
			URL:      u("/"),
			Sitemap:  u("/sitemap.xml"),
			City:     "Washington, DC",
		},
	}
}

func (f *fixture) coordinator() *pipeline.Coordinator {
	return pipeline.New(f.deps, pipeline.Options{HeartbeatInterval: time.Hour}, nil)
}

// markProcessed records an earlier event for path so the filter skips it.
func (f *fixture) markProcessed(t *testing.T, path string) {
	t.Helper()
	link := f.site.URL + path
	require.NoError(t, f.docs.SaveEvent(context.Background(), &domain.ScrapedEvent{
		ID:          "evt-old",
		RunID:       "run-old",
		ScraperID:   venueID,
		SourceURL:   link,
		EncodedLink: domain.EncodeLink(link),
	}))
}

func TestRun_SkipsProcessedAndMaterializesMusicEvents(t *testing.T) {
	f := newFixture(t)
	f.markProcessed(t, "/events/b")
	ctx := context.Background()
	u := func(p string) string { return f.site.URL + p }

	report, err := f.coordinator().Run(ctx, f.target, true)
	require.NoError(t, err)

	// B is skipped before fetch; A, C and D are fetched and extracted.
	assert.Zero(t, f.site.hitCount("/events/b"))
	calls := f.extractor.Calls()
	assert.ElementsMatch(t, []string{u("/events/a"), u("/events/c"), u("/events/d")}, calls)

	assert.Equal(t, 4, report.Candidates, "homepage plus three unprocessed sitemap URLs")
	assert.Equal(t, 1, report.NewEvents)
	assert.Equal(t, 1, report.NonMusicEvents)
	assert.Equal(t, 2, report.BookingsCreated)
	assert.Equal(t, 2, report.PerformersCreated)

	bookings, err := f.docs.BookingsByScraper(ctx, venueID)
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	performers := map[string]bool{}
	for _, b := range bookings {
		performers[b.RequesteeID] = true
		assert.Equal(t, domain.EncodeLink(u("/events/a")), b.Provenance.EncodedLink)
		assert.Equal(t, report.RunID, b.Provenance.RunID)
		assert.Equal(t, venueID, b.RequesterID)
		assert.Equal(t, []string{"indie"}, b.Genres)
	}
	assert.Len(t, performers, 2)

	events, err := f.docs.ListEventsByRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Len(t, events, 2, "music and non-music events are both recorded")

	runs, err := f.runs.ListRuns(ctx, venueID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunSucceeded, runs[0].Status())
	assert.Nil(t, runs[0].Error)
	assert.Equal(t, 4, runs[0].CandidateCount)
	assert.Equal(t, 1, runs[0].NewEventCount)
	assert.False(t, runs[0].EndTime.Before(runs[0].StartTime))

	venue, err := f.docs.GetAccount(ctx, venueID)
	require.NoError(t, err)
	assert.Len(t, venue.VenueInfo.TopPerformerIDs, 2)

	meta, err := f.docs.GetScraper(ctx, venueID)
	require.NoError(t, err)
	assert.Equal(t, "place-dc", meta.Location.PlaceID)
	assert.NotNil(t, meta.LastScrapeEnd)

	assert.Equal(t, []int{4}, f.notifier.starts)
	assert.Equal(t, []int{1}, f.notifier.success)
	assert.Empty(t, f.notifier.failures)
}

func TestRun_SecondRunCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.coordinator()

	first, err := c.Run(ctx, f.target, true)
	require.NoError(t, err)
	assert.Equal(t, 3, first.BookingsCreated, "A has two performers, B one")

	second, err := c.Run(ctx, f.target, true)
	require.NoError(t, err)
	assert.Zero(t, second.BookingsCreated)
	assert.Zero(t, second.NewEvents)
	assert.Equal(t, 1, f.site.hitCount("/events/a"))

	bookings, err := f.docs.BookingsByScraper(ctx, venueID)
	require.NoError(t, err)
	assert.Len(t, bookings, 3)

	latest, err := f.ledger.LatestRun(ctx, venueID)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, latest.ID)
	assert.Equal(t, []int{2, 0}, f.notifier.success)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.coordinator().Run(ctx, f.target, false)
	require.NoError(t, err)
	assert.Equal(t, domain.DryRunID, report.RunID)
	assert.Equal(t, 2, report.NewEvents)
	assert.Equal(t, 3, report.BookingsPlanned)
	assert.Zero(t, report.BookingsCreated)

	runs, err := f.runs.ListRuns(ctx, venueID, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	bookings, err := f.docs.BookingsByScraper(ctx, venueID)
	require.NoError(t, err)
	assert.Empty(t, bookings)

	events, err := f.docs.ListEventsByScraper(ctx, venueID)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = f.docs.GetScraper(ctx, venueID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Empty(t, f.notifier.starts)
	assert.Empty(t, f.notifier.success)
}

func TestRun_VenueNotFound(t *testing.T) {
	f := newFixture(t)
	target := f.target
	target.ID, target.Username = "missing", "missing"

	_, err := f.coordinator().Run(context.Background(), target, true)
	require.Error(t, err)
	assert.True(t, apperr.IsRunFatal(err))
	require.Len(t, f.notifier.failures, 1)
	assert.Zero(t, f.site.hitCount("/"))
}

func TestRun_VenueFoundByUsername(t *testing.T) {
	f := newFixture(t)
	target := f.target
	target.ID = "scraper-songbyrd"

	report, err := f.coordinator().Run(context.Background(), target, true)
	require.NoError(t, err)
	assert.Equal(t, 3, report.BookingsCreated)
}

type failingLinks struct {
	*ledger.Ledger
}

func (failingLinks) ProcessedLinks(context.Context, string) (map[string]struct{}, error) {
	return nil, apperr.Wrap(errors.New("disk full"), apperr.CodeRunFatal, "load processed links")
}

func TestRun_FatalErrorSealsRunAsFailed(t *testing.T) {
	f := newFixture(t)
	f.deps.Ledger = failingLinks{f.ledger}
	ctx := context.Background()

	_, err := f.coordinator().Run(ctx, f.target, true)
	require.Error(t, err)

	runs, err := f.runs.ListRuns(ctx, venueID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunFailed, runs[0].Status())
	require.NotNil(t, runs[0].Error)
	assert.Contains(t, *runs[0].Error, "disk full")

	latest, err := f.ledger.LatestRun(ctx, venueID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	assert.Len(t, f.notifier.failures, 1)
	assert.Empty(t, f.notifier.success)
}

func TestRun_SitemapFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.target.Sitemap = f.site.URL + "/missing.xml"

	report, err := f.coordinator().Run(context.Background(), f.target, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Zero(t, report.NewEvents)
}

func TestRun_LeaseHeld(t *testing.T) {
	f := newFixture(t)
	locker := ledger.NewMemoryLocker()
	f.deps.Locker = locker

	lease, err := locker.Acquire(context.Background(), ledger.LeaseKey(venueID), time.Hour)
	require.NoError(t, err)
	defer lease.Release(context.Background()) //nolint:errcheck // test cleanup

	_, err = f.coordinator().Run(context.Background(), f.target, true)
	assert.ErrorIs(t, err, apperr.ErrLeaseHeld)
	assert.Zero(t, f.site.hitCount("/"))
}

// slowWalk makes every navigation wait so the walk outlives short leases.
func (f *fixture) slowWalk() {
	f.deps.Walker = crawler.NewWalker(f.extractor, nil, nil, crawler.Options{
		Location:        time.UTC,
		MaxConcurrency:  1,
		NavigationDelay: 150 * time.Millisecond,
	}, nil)
}

func TestRun_HoldsLeaseThroughLongRun(t *testing.T) {
	f := newFixture(t)
	f.slowWalk()
	locker := ledger.NewMemoryLocker()
	f.deps.Locker = locker
	c := pipeline.New(f.deps, pipeline.Options{LeaseTTL: 100 * time.Millisecond, HeartbeatInterval: 20 * time.Millisecond}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background(), f.target, true)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.site.hitCount("/") > 0 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(250 * time.Millisecond)

	_, err := locker.Acquire(context.Background(), ledger.LeaseKey(venueID), time.Minute)
	assert.ErrorIs(t, err, apperr.ErrLeaseHeld)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}

	lease, err := locker.Acquire(context.Background(), ledger.LeaseKey(venueID), time.Minute)
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))
}

// losingLocker hands out leases that are lost once the walk has started.
type losingLocker struct {
	walking func() bool
}

func (l losingLocker) Acquire(context.Context, string, time.Duration) (ledger.Lease, error) {
	return lostLease(l), nil
}

type lostLease losingLocker

func (l lostLease) Extend(context.Context, time.Duration) error {
	if l.walking() {
		return apperr.ErrLeaseLost
	}
	return nil
}

func (lostLease) Release(context.Context) error { return nil }

func TestRun_LeaseLostFailsRun(t *testing.T) {
	f := newFixture(t)
	f.slowWalk()
	f.deps.Locker = losingLocker{walking: func() bool { return f.site.hitCount("/") > 0 }}
	c := pipeline.New(f.deps, pipeline.Options{LeaseTTL: 60 * time.Millisecond, HeartbeatInterval: 20 * time.Millisecond}, nil)

	_, err := c.Run(context.Background(), f.target, true)
	require.ErrorIs(t, err, apperr.ErrLeaseLost)

	runs, err := f.ledger.Runs(context.Background(), venueID, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunFailed, runs[0].Status())
	require.NotNil(t, runs[0].Error)
	assert.Contains(t, *runs[0].Error, "lease lost")

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Len(t, f.notifier.failures, 1)
}

func TestRunAll_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	missing := f.target
	missing.ID, missing.Username = "missing", "missing"

	reports, err := f.coordinator().RunAll(context.Background(), []domain.ScraperConfig{missing, f.target}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target missing")
	require.Len(t, reports, 2)
	assert.Equal(t, 3, reports[1].BookingsCreated)
}
