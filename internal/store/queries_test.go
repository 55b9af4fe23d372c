package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tappedai/event-crawler/internal/domain"
	"github.com/tappedai/event-crawler/internal/store"
)

func newMemStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAccounts_UsernameIsCaseInsensitive(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, &domain.Account{ID: "prf-1", Username: "the_menzingers"}))

	got, err := s.GetAccountByUsername(ctx, "The_Menzingers")
	require.NoError(t, err)
	assert.Equal(t, "prf-1", got.ID)
	assert.False(t, got.CreatedAt.IsZero())

	err = s.CreateAccount(ctx, &domain.Account{ID: "prf-2", Username: "THE_MENZINGERS"})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	_, err = s.GetAccountByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetVenueTopPerformers(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, &domain.Account{ID: "venue-1", Username: "songbyrd"}))
	require.NoError(t, s.SetVenueTopPerformers(ctx, "venue-1", nil))

	venue, err := s.GetAccount(ctx, "venue-1")
	require.NoError(t, err)
	require.NotNil(t, venue.VenueInfo)
	assert.Equal(t, []string{}, venue.VenueInfo.TopPerformerIDs)

	require.NoError(t, s.SetVenueTopPerformers(ctx, "venue-1", []string{"prf-1"}))
	venue, err = s.GetAccount(ctx, "venue-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"prf-1"}, venue.VenueInfo.TopPerformerIDs)

	assert.Error(t, s.SetVenueTopPerformers(ctx, "missing", nil))
}

func TestUpsertScraper_KeepsTimestamps(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertScraper(ctx, &domain.ScraperMetadata{ID: "ember", LastScrapeStart: &start}))

	// A later write that does not know the start time must not erase it.
	end := start.Add(time.Hour)
	require.NoError(t, s.UpsertScraper(ctx, &domain.ScraperMetadata{ID: "ember", Name: "Ember", LastScrapeEnd: &end}))

	got, err := s.GetScraper(ctx, "ember")
	require.NoError(t, err)
	assert.Equal(t, "Ember", got.Name)
	require.NotNil(t, got.LastScrapeStart)
	require.NotNil(t, got.LastScrapeEnd)
	assert.True(t, got.LastScrapeStart.Equal(start))
	assert.True(t, got.LastScrapeEnd.Equal(end))
}

func TestEvents_ListByRunAndScraper(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveEvent(ctx, &domain.ScrapedEvent{ID: "evt-1", RunID: "r1", ScraperID: "ember", EncodedLink: "a"}))
	require.NoError(t, s.SaveEvent(ctx, &domain.ScrapedEvent{ID: "evt-2", RunID: "r2", ScraperID: "ember", EncodedLink: "b"}))
	require.NoError(t, s.SaveEvent(ctx, &domain.ScrapedEvent{ID: "evt-3", RunID: "r3", ScraperID: "songbyrd", EncodedLink: "c"}))

	byRun, err := s.ListEventsByRun(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, byRun, 1)
	assert.Equal(t, "evt-1", byRun[0].ID)

	byScraper, err := s.ListEventsByScraper(ctx, "ember")
	require.NoError(t, err)
	assert.Len(t, byScraper, 2)
}

func booking(id, link, performer string) *domain.Booking {
	return &domain.Booking{
		ID:          id,
		RequesterID: "venue-1",
		RequesteeID: performer,
		Status:      domain.BookingStatusConfirmed,
		Provenance:  domain.Provenance{ScraperID: "ember", RunID: "r1", EncodedLink: link},
	}
}

func TestUpsertBooking_Dedup(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	created, err := s.UpsertBooking(ctx, booking("bkg-1", "link", "prf-1"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.UpsertBooking(ctx, booking("bkg-2", "link", "prf-1"))
	require.NoError(t, err)
	assert.False(t, created, "same link and performer")

	created, err = s.UpsertBooking(ctx, booking("bkg-3", "link", "prf-2"))
	require.NoError(t, err)
	assert.True(t, created, "same link, different performer")

	all, err := s.BookingsByScraper(ctx, "ember")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byVenue, err := s.BookingsByRequester(ctx, "venue-1")
	require.NoError(t, err)
	assert.Len(t, byVenue, 2)
}

func TestUpsertBooking_ConcurrentWritersCreateOnce(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.UpsertBooking(ctx, booking("bkg-"+string(rune('a'+i)), "link", "prf-1"))
			if err != nil {
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	all, err := s.BookingsByScraper(ctx, "ember")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.LessOrEqual(t, created, 1)
}

func TestProcessedLinks_UnionsEventsAndBookings(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveEvent(ctx, &domain.ScrapedEvent{ID: "evt-1", ScraperID: "ember", EncodedLink: "a"}))
	require.NoError(t, s.SaveEvent(ctx, &domain.ScrapedEvent{ID: "evt-2", ScraperID: "ember", EncodedLink: "b"}))
	_, err := s.UpsertBooking(ctx, booking("bkg-1", "b", "prf-1"))
	require.NoError(t, err)
	_, err = s.UpsertBooking(ctx, booking("bkg-2", "c", "prf-1"))
	require.NoError(t, err)
	require.NoError(t, s.SaveEvent(ctx, &domain.ScrapedEvent{ID: "evt-3", ScraperID: "songbyrd", EncodedLink: "z"}))

	links, err := s.ProcessedLinks(ctx, "ember")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a": {}, "b": {}, "c": {}}, links)
}
