package response

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/tappedai/event-crawler/internal/errors"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var result Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	return result
}

func TestJSON_Success(t *testing.T) {
	w := httptest.NewRecorder()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	Success(w, map[string]string{"status": "ok"}, logger)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	result := decode(t, w)
	assert.True(t, result.Success)
	assert.NotNil(t, result.Data)
	assert.Empty(t, result.Error)
}

func TestJSON_NilLogger(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, []string{"a"}, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode(t, w).Success)
}

func TestNotFound(t *testing.T) {
	w := httptest.NewRecorder()
	NotFound(w, "run not found", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	result := decode(t, w)
	assert.False(t, result.Success)
	assert.Equal(t, "run not found", result.Error)
}

func TestHandleError_Coded(t *testing.T) {
	w := httptest.NewRecorder()
	HandleError(w, apperr.Validation("limit must be positive"), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	result := decode(t, w)
	assert.Equal(t, "limit must be positive", result.Error)
	assert.Equal(t, "VALIDATION", result.Code)
}

func TestHandleError_Wrapped(t *testing.T) {
	w := httptest.NewRecorder()
	err := apperr.Wrap(errors.New("open db"), apperr.CodeNotFound, "scraper not found")
	HandleError(w, err, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "scraper not found", decode(t, w).Error)
}

func TestHandleError_Uncoded(t *testing.T) {
	w := httptest.NewRecorder()
	HandleError(w, errors.New("sqlite: database is locked"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	result := decode(t, w)
	assert.Equal(t, "internal server error", result.Error)
	assert.Empty(t, result.Code)
}

func TestStatusCodeBoundary(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		expectedSuccess bool
	}{
		{"200 OK", 200, true},
		{"399 Custom Success", 399, true},
		{"400 Bad Request", 400, false},
		{"500 Internal Server Error", 500, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			JSON(w, tt.status, nil, nil)
			assert.Equal(t, tt.expectedSuccess, decode(t, w).Success)
		})
	}
}
