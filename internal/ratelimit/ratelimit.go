// Package ratelimit provides per-host politeness limiting for outbound fetches.
package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// HostLimiter keeps one token bucket per host. Buckets unused for longer
// than the idle window are evicted by a background sweep.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a host limiter.
// rps: requests per second allowed per host; zero or less disables limiting.
// burst: maximum burst size per host.
func New(rps float64, burst int) *HostLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}

	hl := &HostLimiter{
		limiters: make(map[string]*entry),
		limit:    limit,
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
		done:     make(chan struct{}),
	}

	go hl.sweep(time.Minute)

	return hl
}

// Allow reports whether a request to rawURL's host may proceed now.
func (hl *HostLimiter) Allow(rawURL string) bool {
	return hl.get(HostKey(rawURL)).Allow()
}

// Wait blocks until a request to rawURL's host is allowed or ctx is done.
func (hl *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	return hl.get(HostKey(rawURL)).Wait(ctx)
}

// Len returns the number of tracked hosts.
func (hl *HostLimiter) Len() int {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	return len(hl.limiters)
}

func (hl *HostLimiter) get(host string) *rate.Limiter {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	e, ok := hl.limiters[host]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(hl.limit, hl.burst)}
		hl.limiters[host] = e
	}
	e.lastUsed = hl.now()
	return e.limiter
}

// evictIdle drops buckets not used within the idle window.
func (hl *HostLimiter) evictIdle() {
	cutoff := hl.now().Add(-hl.idle)

	hl.mu.Lock()
	defer hl.mu.Unlock()
	for host, e := range hl.limiters {
		if e.lastUsed.Before(cutoff) {
			delete(hl.limiters, host)
		}
	}
}

// Stop shuts down the sweep goroutine.
func (hl *HostLimiter) Stop() {
	hl.stopOnce.Do(func() {
		close(hl.done)
	})
}

// Done is closed once Stop has been called.
func (hl *HostLimiter) Done() <-chan struct{} {
	return hl.done
}

func (hl *HostLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-hl.done:
			return
		case <-ticker.C:
			hl.evictIdle()
		}
	}
}

// HostKey returns the lowercased host of rawURL, or rawURL itself when it
// does not parse.
func HostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Host)
}
