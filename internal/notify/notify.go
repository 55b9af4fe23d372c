// Package notify reports run boundaries to an operations channel.
// Delivery is best effort: failures are logged and never reach the caller.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Notifier observes run boundaries.
type Notifier interface {
	OnRunStart(ctx context.Context, runID string, candidates int)
	OnRunSuccess(ctx context.Context, runID string, newEvents int)
	OnRunFailure(ctx context.Context, runErr error)
}

// Sender delivers one plain-text message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Messages formats run notifications as plain text.
type Messages struct {
	now func() time.Time
}

func (m Messages) stamp() string {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	return now().UTC().Format(time.RFC1123)
}

// Start is sent when a run begins.
func (m Messages) Start(runID string, candidates int) string {
	return fmt.Sprintf("scrape run %s started with %d events - %s", runID, candidates, m.stamp())
}

// Success returns the messages for a successful run. A run with nothing new
// gets an extra line so quiet runs stand out.
func (m Messages) Success(runID string, newEvents int) []string {
	var out []string
	if newEvents == 0 {
		out = append(out, fmt.Sprintf("no new events in scrape run %s - %s", runID, m.stamp()))
	}
	return append(out, fmt.Sprintf("scrape run %s succeeded with %d new events - %s", runID, newEvents, m.stamp()))
}

// Failure is sent when a run fails.
func (m Messages) Failure(runErr error) string {
	msg := "unknown error"
	if runErr != nil {
		msg = runErr.Error()
	}
	return fmt.Sprintf("most recent scrape failed with error: %s - %s", msg, m.stamp())
}

// Channel is a Notifier that formats messages and hands them to a Sender.
type Channel struct {
	sender   Sender
	logger   *slog.Logger
	messages Messages
}

// NewChannel creates a notifier that delivers through sender.
func NewChannel(sender Sender, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Channel{sender: sender, logger: logger}
}

func (c *Channel) send(ctx context.Context, text string) {
	if err := c.sender.Send(ctx, text); err != nil {
		c.logger.Error("notification failed to send", "error", err)
		return
	}
	c.logger.Debug("notification sent")
}

// OnRunStart implements Notifier.
func (c *Channel) OnRunStart(ctx context.Context, runID string, candidates int) {
	c.send(ctx, c.messages.Start(runID, candidates))
}

// OnRunSuccess implements Notifier.
func (c *Channel) OnRunSuccess(ctx context.Context, runID string, newEvents int) {
	for _, text := range c.messages.Success(runID, newEvents) {
		c.send(ctx, text)
	}
}

// OnRunFailure implements Notifier.
func (c *Channel) OnRunFailure(ctx context.Context, runErr error) {
	c.send(ctx, c.messages.Failure(runErr))
}

// Log writes notifications to the logger only.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log-only sender.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Log{logger: logger}
}

// Send implements Sender.
func (l *Log) Send(_ context.Context, text string) error {
	l.logger.Info("notification", "text", text)
	return nil
}
