package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"descbot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in    string
		kind  SpecKind
		out   string
		every time.Duration
	}{
		{"0 23 * * *", SpecCron, "0 23 * * *", 0},
		{"@daily", SpecCron, "@daily", 0},
		{"cron: 30 7 * * 1-5", SpecCron, "30 7 * * 1-5", 0},
		{"CRON:@hourly", SpecCron, "@hourly", 0},
		{"6h", SpecInterval, "@every 6h0m0s", 6 * time.Hour},
		{"02:30", SpecInterval, "@every 2h30m0s", 150 * time.Minute},
		{"every: 90m", SpecInterval, "@every 1h30m0s", 90 * time.Minute},
		{"interval:00:05", SpecInterval, "@every 5m0s", 5 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParseSchedule(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, p.Kind)
			assert.Equal(t, tt.out, p.String())
			assert.Equal(t, tt.every, p.Every)
		})
	}
}

func TestParseScheduleErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "cron:", "every:", "nonsense", "01:75", "-5m", "0s", "every: soon"} {
		_, err := ParseSchedule(in)
		assert.Error(t, err, in)
	}
}

func TestValidate(t *testing.T) {
	s := New(func(context.Context, string, string) error { return nil }, time.UTC, logx.Nop())

	assert.NoError(t, s.Validate([]Entry{
		{Name: "night", Spec: "0 23 * * *", Command: "pause"},
		{Name: "morning", Spec: "0 0 7 * * *", Command: "resume"},
	}))

	err := s.Validate([]Entry{
		{Name: "bad-cron", Spec: "61 * * * *", Command: "pause"},
		{Name: "", Spec: "1h", Command: "skip"},
		{Name: "no-cmd", Spec: "1h", Command: " "},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad-cron")
	assert.Contains(t, err.Error(), "name required")
	assert.Contains(t, err.Error(), "command required")
}

func TestApplyRejectsWholeSetOnError(t *testing.T) {
	s := New(func(context.Context, string, string) error { return nil }, time.UTC, logx.Nop())
	require.NoError(t, s.Apply([]Entry{{Name: "a", Spec: "1h", Command: "skip"}}))

	err := s.Apply([]Entry{
		{Name: "b", Spec: "2h", Command: "skip"},
		{Name: "c", Spec: "bogus", Command: "skip"},
	})
	require.Error(t, err)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "a", snap[0].Name)
}

func TestSnapshotBeforeAndAfterStart(t *testing.T) {
	s := New(func(context.Context, string, string) error { return nil }, time.UTC, logx.Nop())
	require.NoError(t, s.Apply([]Entry{
		{Name: "z", Spec: "0 23 * * *", Command: "pause"},
		{Name: "a", Spec: "6h", Command: "skip"},
	}))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Name)
	assert.Equal(t, "@every 6h0m0s", snap[0].Spec)
	assert.True(t, snap[0].Next.IsZero())

	s.Start(context.Background())
	defer s.Stop(context.Background())

	snap = s.Snapshot()
	for _, it := range snap {
		assert.False(t, it.Next.IsZero(), it.Name)
	}

	// Hot reload while running keeps the new set registered.
	require.NoError(t, s.Apply([]Entry{{Name: "only", Spec: "@hourly", Command: "resume"}}))
	snap = s.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, snap[0].Next.IsZero())
}

func TestJobsRunAndRecordErrors(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	done := make(chan struct{}, 4)
	run := func(_ context.Context, name, command string) error {
		mu.Lock()
		calls = append(calls, name+":"+command)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return errors.New("boom")
	}
	s := New(run, time.UTC, logx.Nop())
	require.NoError(t, s.Apply([]Entry{{Name: "tick", Spec: "@every 1s", Command: "skip"}}))
	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not run")
	}

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return len(snap) == 1 && snap[0].LastErr == "boom"
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "tick:skip", calls[0])
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(func(context.Context, string, string) error { return nil }, nil, logx.Nop())
	s.Stop(context.Background())
	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop(context.Background())
	s.Stop(context.Background())
}
