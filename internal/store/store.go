// Package store is the crawler's document store: accounts, scraper metadata,
// scraped events and bookings, kept in Badger.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/tappedai/event-crawler/internal/domain"
)

// Key prefixes. No prefix may be a prefix of another.
const (
	accountPrefix = "account:"
	scraperPrefix = "scraper:"
	eventPrefix   = "event:"
	bookingPrefix = "booking:"
)

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	Accounts *Entity[domain.Account]
	Scrapers *Entity[domain.ScraperMetadata]
	Events   *Entity[domain.ScrapedEvent]
	Bookings *Entity[domain.Booking]
}

// New opens (or creates) the Badger database at path.
func New(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = true
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return newStore(db, logger), nil
}

// NewInMemory opens a Badger database that lives only in memory. Used by tests.
func NewInMemory(logger *slog.Logger) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory badger db: %w", err)
	}
	return newStore(db, logger), nil
}

func newStore(db *badger.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Store{db: db, logger: logger}

	s.Accounts = NewEntity[domain.Account](s, accountPrefix).
		WithUniqueIndexTransform("username",
			func(a *domain.Account) []string { return []string{strings.ToLower(a.Username)} },
			strings.ToLower,
		)

	s.Scrapers = NewEntity[domain.ScraperMetadata](s, scraperPrefix)

	s.Events = NewEntity[domain.ScrapedEvent](s, eventPrefix).
		WithIndex("scraper", func(e *domain.ScrapedEvent) []string { return []string{e.ScraperID} }).
		WithIndex("run", func(e *domain.ScrapedEvent) []string { return []string{e.RunID} })

	s.Bookings = NewEntity[domain.Booking](s, bookingPrefix).
		WithIndex("requester", func(b *domain.Booking) []string { return []string{b.RequesterID} }).
		WithIndex("scraper", func(b *domain.Booking) []string { return []string{b.Provenance.ScraperID} }).
		WithUniqueIndex("dedup", func(b *domain.Booking) []string { return []string{b.DedupKey()} })

	logger.Info("document store opened")
	return s
}

// Ping reports whether the database is open.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("document store is closed")
	}
	return nil
}

// Close gracefully closes the database.
func (s *Store) Close() error {
	s.logger.Info("closing document store")
	return s.db.Close()
}
