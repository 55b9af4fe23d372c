// Package main fetches one event page and prints what the site parsers
// find on it, without calling the extraction service.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tappedai/event-crawler/internal/extraction"
	"github.com/tappedai/event-crawler/internal/page"
	"github.com/tappedai/event-crawler/internal/sites"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: parse-test <event-url>")
		os.Exit(1)
	}
	rawURL := os.Args[1]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		log.Fatalf("Bad url: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Read failed: %v", err)
	}

	doc, err := page.Parse(rawURL, body)
	if err != nil {
		log.Fatalf("Parse failed: %v", err)
	}
	p, err := sites.NewPage(doc, time.Local)
	if err != nil {
		log.Fatalf("Build page failed: %v", err)
	}

	parser := sites.Default().Lookup(rawURL)
	var rec extraction.EventRecord
	sites.Apply(parser, p, &rec)

	fmt.Printf("Fetched %s (%d, %d bytes) in %v\n", rawURL, resp.StatusCode, len(body), time.Since(start))
	fmt.Printf("Parser:      %s\n", parser.Name())
	fmt.Printf("Page title:  %s\n", doc.Title)
	fmt.Printf("Title:       %s\n", deref(rec.Title))
	fmt.Printf("Start:       %s\n", formatTime(rec.StartTime))
	fmt.Printf("End:         %s\n", formatTime(rec.EndTime))
	fmt.Printf("Flier:       %s\n", deref(rec.FlierURL))
	fmt.Printf("Performers:  %q\n", rec.Performers)
	fmt.Printf("Links:       %d\n", len(doc.Links))
	fmt.Printf("JSON-LD:     %d blocks\n", len(doc.JSONLD))
	fmt.Printf("Text:        %s\n", page.Truncate(doc.Text, 400))
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC1123)
}
