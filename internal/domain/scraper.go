// Package domain contains the core entities of the venue event crawler.
package domain

import "time"

// ScraperConfig is one crawl target as listed in the targets file.
type ScraperConfig struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Username string `json:"username" yaml:"username"`
	URL      string `json:"url" yaml:"url"`
	Sitemap  string `json:"sitemap,omitempty" yaml:"sitemap"`
	City     string `json:"city" yaml:"city"`
}

// Location is a resolved place.
type Location struct {
	PlaceID string  `json:"place_id"`
	Geohash string  `json:"geohash"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// ScraperMetadata identifies a crawl target for the duration of a run.
// It is built from the venue's account record plus a geocoding lookup.
type ScraperMetadata struct {
	LastScrapeStart *time.Time `json:"last_scrape_start,omitempty"`
	LastScrapeEnd   *time.Time `json:"last_scrape_end,omitempty"`
	Venue           Account    `json:"venue"`
	Location        Location   `json:"location"`
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Sitemap         string     `json:"sitemap"`
}

// NewScraperMetadata combines a target with its venue and resolved location.
func NewScraperMetadata(cfg ScraperConfig, venue Account, loc Location) ScraperMetadata {
	return ScraperMetadata{
		ID:       cfg.ID,
		Name:     cfg.Name,
		URL:      cfg.URL,
		Sitemap:  cfg.Sitemap,
		Venue:    venue,
		Location: loc,
	}
}
