// Package ratelimit enforces a minimum spacing between calls to the profile
// update endpoint.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter allows one operation per minInterval. The mutex only guards the
// last-call time and is never held while sleeping.
type Limiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        time.Time // zero: never used

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }

// WithSleep replaces the context-aware sleep used while waiting.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

func New(minInterval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{minInterval: max(0, minInterval), now: time.Now, sleep: Sleep}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// remainingLocked is how long until the next call is allowed.
func (l *Limiter) remainingLocked(now time.Time) time.Duration {
	if l.last.IsZero() {
		return 0
	}
	if rem := l.minInterval - now.Sub(l.last); rem > 0 {
		return rem
	}
	return 0
}

// WaitAndAcquire blocks until a call is allowed, then records it. It returns
// how long it waited. On ctx cancellation nothing is recorded.
func (l *Limiter) WaitAndAcquire(ctx context.Context) (time.Duration, error) {
	var waited time.Duration
	for {
		l.mu.Lock()
		now := l.now()
		wait := l.remainingLocked(now)
		if wait == 0 {
			l.last = now
			l.mu.Unlock()
			return waited, nil
		}
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}
}

func (l *Limiter) IsAllowed() bool { return l.TimeUntilAllowed() == 0 }

func (l *Limiter) TimeUntilAllowed() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remainingLocked(l.now())
}

// MarkUsed records a call now without waiting.
func (l *Limiter) MarkUsed() {
	l.mu.Lock()
	l.last = l.now()
	l.mu.Unlock()
}

// HandleExternalBackoff honours a server-imposed wait: it sleeps for
// seconds, then marks the limiter used so the next call is spaced again.
func (l *Limiter) HandleExternalBackoff(ctx context.Context, seconds int) error {
	if err := l.sleep(ctx, time.Duration(max(0, seconds))*time.Second); err != nil {
		return err
	}
	l.MarkUsed()
	return nil
}

// Reset forgets the last call so the next one is allowed immediately.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.last = time.Time{}
	l.mu.Unlock()
}

// SetMinInterval changes the spacing; used on config reload.
func (l *Limiter) SetMinInterval(d time.Duration) {
	l.mu.Lock()
	l.minInterval = max(0, d)
	l.mu.Unlock()
}

func (l *Limiter) MinInterval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.minInterval
}
