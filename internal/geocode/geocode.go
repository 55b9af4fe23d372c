// Package geocode resolves a venue's free-text location through the
// Places text search API.
package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/tappedai/event-crawler/internal/domain"
	apperr "github.com/tappedai/event-crawler/internal/errors"
)

const (
	defaultEndpoint = "https://places.googleapis.com/v1/places:searchText"
	fieldMask       = "places.id,places.displayName,places.formattedAddress,places.location"
	geohashChars    = 9
	maxResponseSize = 1 << 20
	defaultTimeout  = 15 * time.Second
)

// Sentinel errors for place search calls.
var (
	ErrNoPlaces    = errors.New("no places found")
	ErrRateLimited = errors.New("geocode: rate limited by server")
	ErrAuth        = errors.New("geocode: unauthorized")
	ErrServer      = errors.New("geocode: server error")
)

// Error wraps an underlying error with the operation and query.
type Error struct {
	Op    string
	Query string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("geocode %s [%s]: %v", e.Op, e.Query, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Place is one search hit.
type Place struct {
	ID               string
	Name             string
	FormattedAddress string
	Geohash          string
	Lat              float64
	Lng              float64
}

// Location converts the place to the domain form.
func (p Place) Location() domain.Location {
	return domain.Location{PlaceID: p.ID, Geohash: p.Geohash, Lat: p.Lat, Lng: p.Lng}
}

// Client calls the Places text search endpoint.
type Client struct {
	http     *http.Client
	logger   *slog.Logger
	endpoint string
	apiKey   string
}

// NewClient creates a client. An empty endpoint uses the public API.
func NewClient(endpoint, apiKey string, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   logger,
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

type searchRequest struct {
	TextQuery string `json:"textQuery"`
}

type searchResponse struct {
	Error *struct {
		Message string `json:"message"`
		Status  string `json:"status"`
		Code    int    `json:"code"`
	} `json:"error"`
	Places []struct {
		ID          string `json:"id"`
		DisplayName struct {
			Text string `json:"text"`
		} `json:"displayName"`
		FormattedAddress string `json:"formattedAddress"`
		Location         struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"location"`
	} `json:"places"`
}

// SearchPlaces returns the places matching query in ranking order.
func (c *Client) SearchPlaces(ctx context.Context, query string) ([]Place, error) {
	body, err := json.Marshal(searchRequest{TextQuery: query})
	if err != nil {
		return nil, &Error{Op: "search", Query: query, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Op: "search", Query: query, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: "search", Query: query, Err: fmt.Errorf("execute request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &Error{Op: "search", Query: query, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Op: "search", Query: query, Err: ErrRateLimited}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Op: "search", Query: query, Err: ErrAuth}
	case resp.StatusCode >= 500:
		return nil, &Error{Op: "search", Query: query, Err: ErrServer}
	}

	var parsed searchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Op: "decode", Query: query, Err: err}
	}
	if parsed.Error != nil {
		return nil, &Error{Op: "search", Query: query, Err: fmt.Errorf("%s: %s", parsed.Error.Status, parsed.Error.Message)}
	}

	places := make([]Place, 0, len(parsed.Places))
	for _, p := range parsed.Places {
		lat, lng := p.Location.Latitude, p.Location.Longitude
		places = append(places, Place{
			ID:               p.ID,
			Name:             p.DisplayName.Text,
			FormattedAddress: p.FormattedAddress,
			Lat:              lat,
			Lng:              lng,
			Geohash:          geohash.EncodeWithPrecision(lat, lng, geohashChars),
		})
	}
	return places, nil
}

// Resolve returns the best match for query. Any failure, including an
// empty result, is run-fatal for the caller.
func (c *Client) Resolve(ctx context.Context, query string) (domain.Location, error) {
	places, err := c.SearchPlaces(ctx, query)
	if err != nil {
		return domain.Location{}, apperr.Wrap(err, apperr.CodeRunFatal, "resolve venue location")
	}
	if len(places) == 0 {
		return domain.Location{}, apperr.Wrap(&Error{Op: "resolve", Query: query, Err: ErrNoPlaces}, apperr.CodeRunFatal, "resolve venue location")
	}
	c.logger.Debug("resolved location", "query", query, "place_id", places[0].ID, "name", places[0].Name)
	return places[0].Location(), nil
}

// Resolver resolves a location query.
type Resolver interface {
	Resolve(ctx context.Context, query string) (domain.Location, error)
}

// Static resolves every query to the same location.
type Static domain.Location

// Resolve implements Resolver.
func (s Static) Resolve(context.Context, string) (domain.Location, error) {
	return domain.Location(s), nil
}
