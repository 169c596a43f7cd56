package analysis

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const rateWindow = time.Minute

// RateLimiter bounds the outbound call rate over a trailing one-minute
// window. Every external call must pass through Throttle before dispatch.
type RateLimiter struct {
	mu        sync.Mutex
	perMinute int
	calls     []time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewRateLimiter creates a limiter allowing perMinute calls per trailing
// minute.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 45
	}
	return &RateLimiter{
		perMinute: perMinute,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Throttle blocks until a call slot is free, then records the call. When
// the window is full it waits until the oldest recorded call leaves the
// window and re-evaluates, since several waiters may drain at once.
func (l *RateLimiter) Throttle(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.calls) < l.perMinute {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return nil
		}
		wait := rateWindow - now.Sub(l.calls[0])
		l.mu.Unlock()

		slog.Info("Rate limit reached, waiting", "wait", wait)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// prune drops timestamps that have left the trailing window. Callers must
// hold mu.
func (l *RateLimiter) prune(now time.Time) {
	cut := 0
	for cut < len(l.calls) && now.Sub(l.calls[cut]) >= rateWindow {
		cut++
	}
	if cut > 0 {
		l.calls = append(l.calls[:0], l.calls[cut:]...)
	}
}

// LimiterStats describes the limiter's current window occupancy.
type LimiterStats struct {
	PerMinute int       `json:"requests_per_minute"`
	InWindow  int       `json:"current_requests"`
	Available int       `json:"available_requests"`
	NextReset time.Time `json:"next_reset"`
}

// Stats returns a snapshot of the trailing window.
func (l *RateLimiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	stats := LimiterStats{
		PerMinute: l.perMinute,
		InWindow:  len(l.calls),
		Available: l.perMinute - len(l.calls),
		NextReset: now,
	}
	if len(l.calls) > 0 {
		stats.NextReset = l.calls[0].Add(rateWindow)
	}
	return stats
}
