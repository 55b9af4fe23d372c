// Package materialize turns accepted scraped events into bookings and
// performer accounts.
package materialize

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/tappedai/event-crawler/internal/assets"
	"github.com/tappedai/event-crawler/internal/domain"
	apperr "github.com/tappedai/event-crawler/internal/errors"
	"github.com/tappedai/event-crawler/internal/id"
	"github.com/tappedai/event-crawler/internal/store"
)

const (
	performerLabel       = "Independent"
	performerRating      = 5.0
	performerReviewCount = 1
	emailDomain          = "tapped.ai"
)

// Accounts is the slice of the account directory the materializer needs.
type Accounts interface {
	GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
	CreateAccount(ctx context.Context, a *domain.Account) error
}

// Bookings is the slice of the booking store the materializer needs.
type Bookings interface {
	UpsertBooking(ctx context.Context, b *domain.Booking) (bool, error)
	BookingsByRequester(ctx context.Context, venueID string) ([]*domain.Booking, error)
}

// FlierCopier copies a remote flier into durable storage.
type FlierCopier interface {
	Copy(ctx context.Context, url string) (*assets.Asset, error)
}

// PerformerFailure is a performer that could not be booked.
type PerformerFailure struct {
	Name string
	Err  error
}

// Outcome summarizes the records produced for one event. Planned counts
// the bookings a dry run would have written.
type Outcome struct {
	Failed        []PerformerFailure
	BookingIDs    []string
	Created       int
	Skipped       int
	Planned       int
	NewPerformers int
}

// Materializer writes bookings for scraped events.
type Materializer struct {
	accounts Accounts
	bookings Bookings
	fliers   FlierCopier
	logger   *slog.Logger
	emailN   func() int
}

// New creates a materializer. fliers may be nil, in which case events keep
// no flier.
func New(accounts Accounts, bookings Bookings, fliers FlierCopier, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Materializer{
		accounts: accounts,
		bookings: bookings,
		fliers:   fliers,
		logger:   logger,
		emailN:   func() int { return rand.IntN(100) },
	}
}

// Materialize creates one booking per named performer of event. A failure
// for one performer is recorded in the outcome and does not stop the
// others. When rc is not online nothing is written.
func (m *Materializer) Materialize(ctx context.Context, rc *domain.RunContext, event *domain.ScrapedEvent) (Outcome, error) {
	var out Outcome
	if event == nil {
		return out, apperr.Validation("event is required")
	}
	venueID := rc.Metadata.Venue.ID
	if venueID == "" {
		return out, apperr.Validationf("scraper %s has no venue", rc.ScraperID())
	}
	if !event.IsMusicEvent {
		m.logger.Debug("not a music event, nothing to materialize", "url", event.SourceURL)
		return out, nil
	}

	names := performerNames(event.Performers)
	if len(names) == 0 {
		return out, nil
	}

	if !rc.Online {
		for _, name := range names {
			m.logger.Info("would save booking",
				"run_id", rc.RunID,
				"performer", name,
				"title", deref(event.Title),
				"url", event.SourceURL,
			)
			out.Planned++
		}
		return out, nil
	}

	flierURL, blurHash := m.copyFlier(ctx, event)
	genres := venueGenres(&rc.Metadata.Venue)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		performerID, created, err := m.resolvePerformer(ctx, rc, name, genres)
		if err != nil {
			m.logger.Warn("resolve performer failed", "performer", name, "url", event.SourceURL, "error", err)
			out.Failed = append(out.Failed, PerformerFailure{Name: name, Err: err})
			continue
		}
		if created {
			out.NewPerformers++
		}

		bookingID, err := id.Generate(id.PrefixBooking)
		if err != nil {
			out.Failed = append(out.Failed, PerformerFailure{Name: name, Err: apperr.Wrap(err, apperr.CodeMaterialize, "generate booking id")})
			continue
		}

		loc := rc.Metadata.Location
		booking := &domain.Booking{
			ID:            bookingID,
			RequesterID:   venueID,
			RequesteeID:   performerID,
			Status:        domain.BookingStatusConfirmed,
			Name:          deref(event.Title),
			Note:          deref(event.Description),
			StartTime:     event.StartTime,
			EndTime:       event.EndTime,
			FlierURL:      flierURL,
			FlierBlurHash: blurHash,
			EventURL:      event.EventURL,
			SourceURL:     event.SourceURL,
			Location:      &loc,
			Genres:        genres,
			Provenance: domain.Provenance{
				ScraperID:   rc.ScraperID(),
				RunID:       rc.RunID,
				EncodedLink: event.EncodedLink,
			},
		}

		ok, err := m.bookings.UpsertBooking(ctx, booking)
		if err != nil {
			err = apperr.Wrap(err, apperr.CodeMaterialize, "save booking")
			m.logger.Warn("save booking failed", "performer", name, "url", event.SourceURL, "error", err)
			out.Failed = append(out.Failed, PerformerFailure{Name: name, Err: err})
			continue
		}
		if !ok {
			m.logger.Debug("booking exists", "performer_id", performerID, "link", event.EncodedLink)
			out.Skipped++
			continue
		}

		m.logger.Info("created booking", "booking_id", booking.ID, "performer", name, "name", booking.Name)
		out.BookingIDs = append(out.BookingIDs, booking.ID)
		out.Created++
	}

	return out, nil
}

// copyFlier stores the event's flier once for all of its bookings. A failed
// copy leaves the bookings without a flier.
func (m *Materializer) copyFlier(ctx context.Context, event *domain.ScrapedEvent) (*string, *string) {
	if m.fliers == nil || event.FlierURL == nil || *event.FlierURL == "" {
		return nil, nil
	}
	asset, err := m.fliers.Copy(ctx, *event.FlierURL)
	if err != nil {
		m.logger.Warn("flier copy failed, continuing without flier", "flier_url", *event.FlierURL, "error", err)
		return nil, nil
	}
	var hash *string
	if asset.BlurHash != "" {
		hash = &asset.BlurHash
	}
	return &asset.URL, hash
}

// resolvePerformer finds the performer account for name, creating an
// unclaimed one on first sighting.
func (m *Materializer) resolvePerformer(ctx context.Context, rc *domain.RunContext, name string, genres []string) (string, bool, error) {
	username := domain.NormalizeUsername(name)
	if username == "" {
		return "", false, apperr.Wrap(fmt.Errorf("performer %q has no usable username", name), apperr.CodeMaterialize, "resolve performer")
	}

	existing, err := m.accounts.GetAccountByUsername(ctx, username)
	if err == nil {
		return existing.ID, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", false, apperr.Wrap(err, apperr.CodeMaterialize, "look up performer")
	}

	performerID, err := id.Generate(id.PrefixPerformer)
	if err != nil {
		return "", false, apperr.Wrap(err, apperr.CodeMaterialize, "generate performer id")
	}
	loc := rc.Metadata.Location
	account := &domain.Account{
		ID:          performerID,
		Email:       fmt.Sprintf("%s-%d@%s", username, m.emailN(), emailDomain),
		Username:    username,
		ArtistName:  name,
		Occupations: []string{},
		Location:    &loc,
		PerformerInfo: &domain.PerformerInfo{
			Label:       performerLabel,
			Genres:      genres,
			Rating:      performerRating,
			ReviewCount: performerReviewCount,
		},
		Unclaimed: true,
	}

	if err := m.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Another writer created the username between lookup and create.
			existing, lookupErr := m.accounts.GetAccountByUsername(ctx, username)
			if lookupErr == nil {
				return existing.ID, false, nil
			}
		}
		return "", false, apperr.Wrap(err, apperr.CodeMaterialize, "create performer")
	}

	m.logger.Info("created performer", "performer_id", performerID, "username", username, "name", name)
	return performerID, true, nil
}

// TopPerformers ranks a venue's performers by booking count, most booked
// first. Ties are broken by id.
func (m *Materializer) TopPerformers(ctx context.Context, venueID string, n int) ([]string, error) {
	bookings, err := m.bookings.BookingsByRequester(ctx, venueID)
	if err != nil {
		return nil, fmt.Errorf("list venue bookings: %w", err)
	}

	counts := make(map[string]int)
	for _, b := range bookings {
		counts[b.RequesteeID]++
	}

	ids := make([]string, 0, len(counts))
	for performerID := range counts {
		ids = append(ids, performerID)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	if n >= 0 && len(ids) > n {
		ids = ids[:n]
	}
	return ids, nil
}

// performerNames cleans names and drops blanks and duplicate usernames,
// keeping first-seen order.
func performerNames(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	names := make([]string, 0, len(raw))
	for _, r := range raw {
		name := domain.CleanDisplayName(r)
		username := domain.NormalizeUsername(name)
		if name == "" {
			continue
		}
		if _, dup := seen[username]; dup && username != "" {
			continue
		}
		seen[username] = struct{}{}
		names = append(names, name)
	}
	return names
}

func venueGenres(venue *domain.Account) []string {
	genres := venue.Genres()
	if genres == nil {
		return []string{}
	}
	return slices.Clone(genres)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
