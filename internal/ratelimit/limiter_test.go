package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the limiter sleeps.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func newFake(interval time.Duration) (*Limiter, *fakeClock) {
	c := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(interval, WithClock(c.Now), WithSleep(c.Sleep)), c
}

func TestFirstAcquireDoesNotWait(t *testing.T) {
	t.Parallel()
	l, _ := newFake(time.Minute)
	assert.True(t, l.IsAllowed())
	waited, err := l.WaitAndAcquire(context.Background())
	require.NoError(t, err)
	assert.Zero(t, waited)
	assert.False(t, l.IsAllowed())
}

func TestSecondAcquireWaitsRemainder(t *testing.T) {
	t.Parallel()
	l, c := newFake(time.Minute)
	_, err := l.WaitAndAcquire(context.Background())
	require.NoError(t, err)
	c.Advance(20 * time.Second)
	assert.Equal(t, 40*time.Second, l.TimeUntilAllowed())

	waited, err := l.WaitAndAcquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, waited)
	assert.Equal(t, []time.Duration{40 * time.Second}, c.slept)
}

func TestBackToBackRealClock(t *testing.T) {
	t.Parallel()
	l := New(100 * time.Millisecond)
	_, err := l.WaitAndAcquire(context.Background())
	require.NoError(t, err)
	assert.False(t, l.IsAllowed())
	assert.Greater(t, l.TimeUntilAllowed(), time.Duration(0))

	start := time.Now()
	waited, err := l.WaitAndAcquire(context.Background())
	require.NoError(t, err)
	assert.Greater(t, waited, time.Duration(0))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestCancelledWaitRecordsNothing(t *testing.T) {
	t.Parallel()
	l := New(time.Hour)
	l.MarkUsed()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.WaitAndAcquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandleExternalBackoff(t *testing.T) {
	t.Parallel()
	l, c := newFake(time.Minute)
	require.NoError(t, l.HandleExternalBackoff(context.Background(), 30))
	assert.Equal(t, []time.Duration{30 * time.Second}, c.slept)
	// Marked used after the sleep, so a full interval is owed again.
	assert.Equal(t, time.Minute, l.TimeUntilAllowed())
}

func TestReset(t *testing.T) {
	t.Parallel()
	l, _ := newFake(time.Minute)
	l.MarkUsed()
	assert.False(t, l.IsAllowed())
	l.Reset()
	assert.True(t, l.IsAllowed())
}

func TestSetMinInterval(t *testing.T) {
	t.Parallel()
	l, c := newFake(time.Minute)
	l.MarkUsed()
	c.Advance(10 * time.Second)
	l.SetMinInterval(15 * time.Second)
	assert.Equal(t, 15*time.Second, l.MinInterval())
	assert.Equal(t, 5*time.Second, l.TimeUntilAllowed())
}
