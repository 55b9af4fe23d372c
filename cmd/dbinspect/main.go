// Package main prints a summary of the document store: record counts per
// kind and the most recent events for each scraper.
//
// Usage:
//
//	BADGER_PATH=~/.event-crawler/documents go run ./cmd/dbinspect
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tappedai/event-crawler/internal/domain"
)

const recentPerScraper = 5

func main() {
	dbPath := os.Getenv("BADGER_PATH")
	if dbPath == "" {
		dbPath = os.ExpandEnv("$HOME/.event-crawler/documents")
	}

	opts := badger.DefaultOptions(dbPath).
		WithReadOnly(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	fmt.Println("=== Document Store Inspection ===")
	fmt.Println()

	for _, prefix := range []string{"account:", "scraper:", "event:", "booking:"} {
		n, err := countRecords(db, prefix)
		if err != nil {
			log.Fatalf("Failed to count %s records: %v", prefix, err)
		}
		fmt.Printf("%-10s %d\n", strings.TrimSuffix(prefix, ":"), n)
	}
	fmt.Println()

	events := make(map[string][]*domain.ScrapedEvent)
	err = eachRecord(db, "event:", func(val []byte) error {
		var e domain.ScrapedEvent
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		events[e.ScraperID] = append(events[e.ScraperID], &e)
		return nil
	})
	if err != nil {
		log.Fatalf("Failed to read events: %v", err)
	}

	scrapers := make([]string, 0, len(events))
	for id := range events {
		scrapers = append(scrapers, id)
	}
	slices.Sort(scrapers)

	for _, id := range scrapers {
		list := events[id]
		slices.SortFunc(list, func(a, b *domain.ScrapedEvent) int { return b.CreatedAt.Compare(a.CreatedAt) })

		fmt.Printf("Scraper: %s (%d events)\n", id, len(list))
		for _, e := range list[:min(recentPerScraper, len(list))] {
			title := "(untitled)"
			if e.Title != nil {
				title = *e.Title
			}
			music := ""
			if !e.IsMusicEvent {
				music = " [not music]"
			}
			fmt.Printf("  %s  %-40.40s %d performers%s\n", e.StartTime.Format(time.DateTime), title, len(e.Performers), music)
		}
		fmt.Println()
	}
}

// eachRecord calls fn for every primary record under prefix, skipping index keys.
func eachRecord(db *badger.DB, prefix string, fn func(val []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if strings.HasPrefix(string(it.Item().Key()), prefix+"idx:") {
				continue
			}
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

func countRecords(db *badger.DB, prefix string) (int, error) {
	n := 0
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if !strings.HasPrefix(string(it.Item().Key()), prefix+"idx:") {
				n++
			}
		}
		return nil
	})
	return n, err
}
