package streetview

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Clock abstracts time for the limiter and the crawler's backoff sleeps so
// tests can drive them deterministically.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock implements Clock with the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Limiter spaces request starts at least one interval apart, process-wide.
// Concurrent waiters reserve slots under a mutex, so N goroutines sharing
// one limiter never exceed the configured QPS in any one-second window.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	clock    Clock
}

// NewLimiter builds a limiter allowing qps request starts per second. A nil
// clock defaults to the wall clock.
func NewLimiter(qps int, clock Clock) (*Limiter, error) {
	if qps <= 0 {
		return nil, fmt.Errorf("qps must be positive, got %d", qps)
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Limiter{
		interval: time.Second / time.Duration(qps),
		clock:    clock,
	}, nil
}

// Wait blocks until the caller's reserved slot arrives or the context is
// cancelled. A cancelled wait does not consume the slot's interval for
// subsequent callers beyond the reservation already made.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	now := l.clock.Now()
	slot := l.next
	if slot.Before(now) {
		slot = now
	}
	l.next = slot.Add(l.interval)
	l.mu.Unlock()

	return l.clock.Sleep(ctx, slot.Sub(now))
}

// Interval reports the minimum spacing between request starts.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
