package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/tappedai/event-crawler/internal/domain"
)

// GetAccount returns the account with the given id.
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.Accounts.Get(ctx, id)
}

// GetAccountByUsername looks an account up by username, case-insensitively.
func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return s.Accounts.GetByIndex(ctx, "username", username)
}

// CreateAccount stores a new account.
// Returns ErrAlreadyExists when the id or username is taken.
func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return s.Accounts.Create(ctx, a.ID, a)
}

// SetVenueTopPerformers replaces the venue's top performer list.
func (s *Store) SetVenueTopPerformers(ctx context.Context, venueID string, performerIDs []string) error {
	venue, err := s.Accounts.Get(ctx, venueID)
	if err != nil {
		return fmt.Errorf("load venue %s: %w", venueID, err)
	}
	if venue.VenueInfo == nil {
		venue.VenueInfo = &domain.VenueInfo{}
	}
	if performerIDs == nil {
		performerIDs = []string{}
	}
	venue.VenueInfo.TopPerformerIDs = performerIDs
	return s.Accounts.Update(ctx, venueID, venue)
}

// GetScraper returns stored scraper metadata.
func (s *Store) GetScraper(ctx context.Context, id string) (*domain.ScraperMetadata, error) {
	return s.Scrapers.Get(ctx, id)
}

// UpsertScraper writes scraper metadata, keeping previously recorded scrape
// timestamps the caller left unset.
func (s *Store) UpsertScraper(ctx context.Context, meta *domain.ScraperMetadata) error {
	existing, err := s.Scrapers.Get(ctx, meta.ID)
	switch {
	case err == nil:
		if meta.LastScrapeStart == nil {
			meta.LastScrapeStart = existing.LastScrapeStart
		}
		if meta.LastScrapeEnd == nil {
			meta.LastScrapeEnd = existing.LastScrapeEnd
		}
	case !errors.Is(err, ErrNotFound):
		return err
	}
	return s.Scrapers.Put(ctx, meta.ID, meta)
}

// SaveEvent stores a scraped event under its run.
func (s *Store) SaveEvent(ctx context.Context, e *domain.ScrapedEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return s.Events.Create(ctx, e.ID, e)
}

// ListEventsByRun returns the events recorded by a run.
func (s *Store) ListEventsByRun(ctx context.Context, runID string) ([]*domain.ScrapedEvent, error) {
	return collect(s.Events.ListByIndex(ctx, "run", runID))
}

// ListEventsByScraper returns every event recorded for a target.
func (s *Store) ListEventsByScraper(ctx context.Context, scraperID string) ([]*domain.ScrapedEvent, error) {
	return collect(s.Events.ListByIndex(ctx, "scraper", scraperID))
}

// UpsertBooking stores b unless a booking for the same (source link, performer)
// pair exists. created reports whether b was written.
func (s *Store) UpsertBooking(ctx context.Context, b *domain.Booking) (created bool, err error) {
	if _, err := s.Bookings.GetByIndex(ctx, "dedup", b.DedupKey()); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if err := s.Bookings.Create(ctx, b.ID, b); err != nil {
		// A concurrent writer got the dedup key first.
		if errors.Is(err, ErrAlreadyExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// BookingsByScraper returns bookings discovered by a target's crawls.
func (s *Store) BookingsByScraper(ctx context.Context, scraperID string) ([]*domain.Booking, error) {
	return collect(s.Bookings.ListByIndex(ctx, "scraper", scraperID))
}

// BookingsByRequester returns bookings requested by a venue.
func (s *Store) BookingsByRequester(ctx context.Context, venueID string) ([]*domain.Booking, error) {
	return collect(s.Bookings.ListByIndex(ctx, "requester", venueID))
}

// ProcessedLinks returns the encoded source links already materialized for
// a target: every scraped event link plus every booking provenance link.
func (s *Store) ProcessedLinks(ctx context.Context, scraperID string) (map[string]struct{}, error) {
	links := make(map[string]struct{})

	for e, err := range s.Events.ListByIndex(ctx, "scraper", scraperID) {
		if err != nil {
			return nil, fmt.Errorf("scan events: %w", err)
		}
		links[e.EncodedLink] = struct{}{}
	}
	for b, err := range s.Bookings.ListByIndex(ctx, "scraper", scraperID) {
		if err != nil {
			return nil, fmt.Errorf("scan bookings: %w", err)
		}
		links[b.Provenance.EncodedLink] = struct{}{}
	}
	return links, nil
}

func collect[T any](seq iter.Seq2[*T, error]) ([]*T, error) {
	var out []*T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
