package extraction

import (
	"context"
	"sync"

	apperr "github.com/tappedai/event-crawler/internal/errors"
)

// StaticExtractor answers from fixed per-URL records or errors.
// URLs with neither fail with an EXTRACTION error.
type StaticExtractor struct {
	Records map[string]*EventRecord
	Errors  map[string]error

	mu    sync.Mutex
	calls []string
}

// NewStatic creates a StaticExtractor.
func NewStatic(records map[string]*EventRecord) *StaticExtractor {
	return &StaticExtractor{Records: records, Errors: make(map[string]error)}
}

// Extract implements Extractor.
func (s *StaticExtractor) Extract(ctx context.Context, req Request) Result {
	s.mu.Lock()
	s.calls = append(s.calls, req.URL)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Failed(err)
	}
	if err, ok := s.Errors[req.URL]; ok {
		return Failed(err)
	}
	if rec, ok := s.Records[req.URL]; ok {
		return Succeeded(rec)
	}
	return Failed(apperr.Extractionf("no record for %s", req.URL))
}

// Calls returns the URLs extracted so far, in call order.
func (s *StaticExtractor) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}
