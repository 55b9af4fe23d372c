package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const asyncSendTimeout = 30 * time.Second

// Async dispatches every notification on its own goroutine so the run never
// waits on the channel. Flush blocks until pending deliveries finish.
type Async struct {
	next   Notifier
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewAsync wraps next.
func NewAsync(next Notifier, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Async{next: next, logger: logger}
}

func (a *Async) dispatch(ctx context.Context, name string, fn func(ctx context.Context)) {
	// Delivery outlives the run's context but not forever.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), asyncSendTimeout)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("notifier panicked", "notification", name, "panic", r)
			}
		}()
		fn(sendCtx)
	}()
}

// OnRunStart implements Notifier.
func (a *Async) OnRunStart(ctx context.Context, runID string, candidates int) {
	a.dispatch(ctx, "run_start", func(ctx context.Context) { a.next.OnRunStart(ctx, runID, candidates) })
}

// OnRunSuccess implements Notifier.
func (a *Async) OnRunSuccess(ctx context.Context, runID string, newEvents int) {
	a.dispatch(ctx, "run_success", func(ctx context.Context) { a.next.OnRunSuccess(ctx, runID, newEvents) })
}

// OnRunFailure implements Notifier.
func (a *Async) OnRunFailure(ctx context.Context, runErr error) {
	a.dispatch(ctx, "run_failure", func(ctx context.Context) { a.next.OnRunFailure(ctx, runErr) })
}

// Flush waits for pending notifications or for ctx to end.
func (a *Async) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
