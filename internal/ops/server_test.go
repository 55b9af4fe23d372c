package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tappedai/event-crawler/internal/assets"
	"github.com/tappedai/event-crawler/internal/auth"
	"github.com/tappedai/event-crawler/internal/domain"
	"github.com/tappedai/event-crawler/internal/metrics"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fakeRuns struct {
	scraperID string
	limit     int
	runs      []*domain.RunRecord
	err       error
}

func (f *fakeRuns) Runs(_ context.Context, scraperID string, limit int) ([]*domain.RunRecord, error) {
	f.scraperID, f.limit = scraperID, limit
	return f.runs, f.err
}

type staticTargets []domain.ScraperConfig

func (s staticTargets) Targets() []domain.ScraperConfig { return s }

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Success bool            `json:"success"`
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))

	var env envelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestHealth_Healthy(t *testing.T) {
	s := NewServer(Deps{Checks: map[string]Pinger{
		"documents": pingFunc(func(context.Context) error { return nil }),
		"ledger":    pingFunc(func(context.Context) error { return nil }),
	}}, nil)

	w, env := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Len(t, health.Components, 2)
}

func TestHealth_Unhealthy(t *testing.T) {
	s := NewServer(Deps{Checks: map[string]Pinger{
		"documents": pingFunc(func(context.Context) error { return nil }),
		"ledger":    pingFunc(func(context.Context) error { return errors.New("database is locked") }),
	}}, nil)

	w, env := get(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "healthy", health.Components["documents"].Status)
	assert.Equal(t, "database is locked", health.Components["ledger"].Message)
}

func TestRuns(t *testing.T) {
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	runs := &fakeRuns{runs: []*domain.RunRecord{{ID: "run-1", ScraperID: "venue-1", StartTime: start, NewEventCount: 3}}}
	s := NewServer(Deps{Runs: runs}, nil)

	w, env := get(t, s, "/runs/venue-1?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "venue-1", runs.scraperID)
	assert.Equal(t, 5, runs.limit)

	var got []domain.RunRecord
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "run-1", got[0].ID)
	assert.Equal(t, 3, got[0].NewEventCount)
}

func TestRuns_DefaultAndCappedLimit(t *testing.T) {
	runs := &fakeRuns{}
	s := NewServer(Deps{Runs: runs}, nil)

	w, env := get(t, s, "/runs/venue-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultRunLimit, runs.limit)
	assert.JSONEq(t, "[]", string(env.Data))

	get(t, s, "/runs/venue-1?limit=100000")
	assert.Equal(t, maxRunLimit, runs.limit)
}

func TestRuns_BadLimit(t *testing.T) {
	s := NewServer(Deps{Runs: &fakeRuns{}}, nil)

	w, env := get(t, s, "/runs/venue-1?limit=-2")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION", env.Code)
}

func TestRuns_StoreError(t *testing.T) {
	s := NewServer(Deps{Runs: &fakeRuns{err: errors.New("disk I/O error")}}, nil)

	w, env := get(t, s, "/runs/venue-1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", env.Error)
}

func TestTargets(t *testing.T) {
	s := NewServer(Deps{Targets: staticTargets{{ID: "venue-1", Username: "ember_music_hall"}}}, nil)

	w, env := get(t, s, "/targets")
	require.Equal(t, http.StatusOK, w.Code)

	var got []domain.ScraperConfig
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "ember_music_hall", got[0].Username)
}

func TestMetrics(t *testing.T) {
	m := metrics.New()
	m.Pages("venue-1", metrics.PageVisited, 4)
	s := NewServer(Deps{Metrics: m.Handler()}, nil)

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `scraper="venue-1"`)
}

func TestAssets(t *testing.T) {
	tokens, err := auth.NewTokenService("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f", time.Hour)
	require.NoError(t, err)
	storage, err := assets.NewFileStorage(t.TempDir(), "http://localhost:9090/assets", tokens)
	require.NoError(t, err)

	signed, err := storage.Put(context.Background(), "fliers/abc.png", []byte("png bytes"), "image/png")
	require.NoError(t, err)
	u, err := url.Parse(signed)
	require.NoError(t, err)

	s := NewServer(Deps{Assets: storage.ServeAsset}, nil)

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, _ := io.ReadAll(w.Body)
	assert.Equal(t, "png bytes", string(body))

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/assets/fliers/abc.png", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDisabledRoutes(t *testing.T) {
	s := NewServer(Deps{}, nil)

	for _, path := range []string{"/metrics", "/runs/venue-1", "/targets", "/assets/a.png"} {
		w := httptest.NewRecorder()
		s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}
