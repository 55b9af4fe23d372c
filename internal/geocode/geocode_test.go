package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmcloughlin/geohash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tappedai/event-crawler/internal/domain"
	apperr "github.com/tappedai/event-crawler/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := NewClient(server.URL, "places-key", nil)
	c.http = server.Client()
	return c
}

func TestClient_SearchPlaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "places-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Equal(t, fieldMask, r.Header.Get("X-Goog-FieldMask"))

		var req searchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Ember Music Hall, Richmond VA", req.TextQuery)

		_, _ = w.Write([]byte(`{"places":[
			{"id":"place-1","displayName":{"text":"Ember Music Hall"},"formattedAddress":"309 E Broad St","location":{"latitude":37.5446,"longitude":-77.4386}},
			{"id":"place-2","displayName":{"text":"Other"},"formattedAddress":"x","location":{"latitude":1,"longitude":2}}
		]}`))
	})

	places, err := c.SearchPlaces(context.Background(), "Ember Music Hall, Richmond VA")
	require.NoError(t, err)
	require.Len(t, places, 2)

	p := places[0]
	assert.Equal(t, "place-1", p.ID)
	assert.Equal(t, "Ember Music Hall", p.Name)
	assert.Equal(t, "309 E Broad St", p.FormattedAddress)
	assert.Len(t, p.Geohash, geohashChars)
	assert.Equal(t, geohash.EncodeWithPrecision(37.5446, -77.4386, 9), p.Geohash)
}

func TestClient_Resolve(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"places":[{"id":"place-1","displayName":{"text":"Venue"},"location":{"latitude":40.7,"longitude":-73.9}}]}`))
	})

	loc, err := c.Resolve(context.Background(), "Venue, NYC")
	require.NoError(t, err)
	assert.Equal(t, "place-1", loc.PlaceID)
	assert.Equal(t, 40.7, loc.Lat)
	assert.Equal(t, -73.9, loc.Lng)
	assert.NotEmpty(t, loc.Geohash)
}

func TestClient_ResolveFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "no places", status: http.StatusOK, body: `{}`, wantErr: ErrNoPlaces},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: ErrRateLimited},
		{name: "forbidden", status: http.StatusForbidden, wantErr: ErrAuth},
		{name: "server error", status: http.StatusInternalServerError, wantErr: ErrServer},
		{name: "api error body", status: http.StatusBadRequest, body: `{"error":{"code":400,"message":"bad field mask","status":"INVALID_ARGUMENT"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Resolve(context.Background(), "Nowhere")
			require.Error(t, err)
			assert.True(t, apperr.IsRunFatal(err))
			assert.Equal(t, apperr.CodeRunFatal, apperr.CodeOf(err))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}

			var gErr *Error
			require.ErrorAs(t, err, &gErr)
			assert.Equal(t, "Nowhere", gErr.Query)
		})
	}
}

func TestStatic(t *testing.T) {
	want := domain.Location{PlaceID: "p", Geohash: "dq8vtf"}
	got, err := Static(want).Resolve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
