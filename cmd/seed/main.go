// Package main provides a tool to seed the document store with the venue
// accounts named in the targets file.
//
// Every target needs a venue account before it can be crawled. Existing
// accounts are left untouched.
//
// Usage:
//
//	go run ./cmd/seed -targets targets.yaml -data-dir ~/.event-crawler
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tappedai/event-crawler/internal/config"
	"github.com/tappedai/event-crawler/internal/domain"
	"github.com/tappedai/event-crawler/internal/geocode"
	"github.com/tappedai/event-crawler/internal/store"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	targets, err := config.LoadTargets(cfg.Targets.Path)
	if err != nil {
		log.Fatalf("Failed to load targets: %v", err)
	}

	fmt.Printf("Opening document store at: %s\n", cfg.Storage.BadgerPath)
	s, err := store.New(cfg.Storage.BadgerPath, nil)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	var geocoder geocode.Resolver
	if cfg.Geocode.APIKey != "" {
		geocoder = geocode.NewClient(cfg.Geocode.Endpoint, cfg.Geocode.APIKey, nil)
	}

	ctx := context.Background()
	created := 0
	for _, t := range targets {
		if _, err := s.GetAccount(ctx, t.ID); err == nil {
			fmt.Printf("  %-24s exists\n", t.Username)
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			log.Fatalf("Failed to look up %s: %v", t.ID, err)
		}

		venue := &domain.Account{
			ID:          t.ID,
			Username:    t.Username,
			ArtistName:  t.Name,
			Occupations: []string{},
			CreatedAt:   time.Now().UTC(),
			VenueInfo:   &domain.VenueInfo{WebsiteURL: t.URL, Genres: []string{}, TopPerformerIDs: []string{}},
		}

		if geocoder != nil && t.City != "" {
			loc, err := geocoder.Resolve(ctx, t.City)
			if err != nil {
				fmt.Printf("  %-24s geocode failed: %v\n", t.Username, err)
			} else {
				venue.Location = &loc
			}
		}

		if err := s.CreateAccount(ctx, venue); err != nil {
			log.Fatalf("Failed to create %s: %v", t.Username, err)
		}
		fmt.Printf("  %-24s created\n", t.Username)
		created++
	}

	fmt.Printf("\nSeeded %d of %d venues\n", created, len(targets))
}
