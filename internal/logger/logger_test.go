package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_FormatFollowsEnvironment(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		format      string
		wantJSON    bool
	}{
		{"production uses json", "production", "", true},
		{"development uses pretty", "development", "", false},
		{"explicit json wins", "development", "json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(Config{Writer: &buf, Environment: tt.environment, Format: tt.format})
			log.Info("crawl started")

			if tt.wantJSON {
				assert.Contains(t, buf.String(), `"msg":"crawl started"`)
			} else {
				assert.Contains(t, buf.String(), "INF")
				assert.Contains(t, buf.String(), "crawl started")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestLogger_WithRun(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Writer: &buf, Format: "json"})

	log.WithRun("run-1", "ember", true).Info("walk finished")

	out := buf.String()
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.Contains(t, out, `"scraper_id":"ember"`)
	assert.Contains(t, out, `"online":true`)
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Writer: &buf, Format: "json"})

	log.WithError(errors.New("timeout")).Warn("page skipped", "url", "https://venue.test/events/a")

	out := buf.String()
	assert.Contains(t, out, `"error":"timeout"`)
	assert.Contains(t, out, `"url":"https://venue.test/events/a"`)
}

func TestPrettyHandler_Enabled(t *testing.T) {
	handler := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo})

	assert.False(t, handler.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, handler.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, handler.Enabled(context.Background(), slog.LevelError))
}

func TestPrettyHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	handler := NewPrettyHandler(&buf, nil)

	log := slog.New(handler.WithAttrs([]slog.Attr{slog.String("scraper_id", "songbyrd")}).WithGroup("page"))
	log.Info("visited", "status", 200)

	out := buf.String()
	assert.Contains(t, out, "visited")
	assert.Contains(t, out, "page.scraper_id=songbyrd")
	assert.Contains(t, out, "page.status=200")
}

func TestFormatLevel(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, "DBG"},
		{slog.LevelInfo, "INF"},
		{slog.LevelWarn, "WRN"},
		{slog.LevelError, "ERR"},
	}

	for _, tt := range tests {
		got, _ := formatLevel(tt.level)
		assert.Equal(t, tt.want, got)
	}
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, "2026-03-01T20:00:00Z", formatValue(slog.TimeValue(ts)))
	assert.Equal(t, "1.5s", formatValue(slog.DurationValue(1500*time.Millisecond)))
	assert.Equal(t, "hello", formatValue(slog.StringValue("hello")))
}
