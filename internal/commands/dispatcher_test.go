package commands

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"descbot/internal/eventbus"
	"descbot/internal/transport"
	"descbot/pkg/logx"
)

type sentMsg struct {
	to   transport.ChatTarget
	text string
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMsg
	menus [][]transport.BotCommand
}

func (s *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMsg{to: to, text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(s.sent)}, nil
}

func (s *fakeSender) UpdateMenuCommands(_ context.Context, cmds []transport.BotCommand) error {
	s.mu.Lock()
	s.menus = append(s.menus, cmds)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.text)
	}
	return out
}

const owner = int64(42)

func newDispatcher(t *testing.T, perMin int) (*Dispatcher, *fixture, *fakeSender, *Metrics) {
	t.Helper()
	f := newFixture(t)
	sender := &fakeSender{}
	m := NewMetrics("test", prometheus.NewRegistry())
	d := NewDispatcher(f.h, sender, f.store, eventbus.New(), m, logx.Nop(), DispatcherConfig{
		Prefix:      "/",
		BotUsername: "descbot",
		Owners:      []int64{owner},
		RatePerMin:  perMin,
	})
	return d, f, sender, m
}

func startLoop(t *testing.T, d *Dispatcher) chan<- transport.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan transport.Update, 16)
	done := make(chan struct{})
	go func() {
		_ = d.DispatchLoop(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func msg(from int64, text string) transport.Update {
	return transport.Update{Message: &transport.Message{ChatID: 100, FromID: from, FromUsername: "boss", Text: text}}
}

func TestDispatchOwnerCommand(t *testing.T) {
	t.Parallel()
	d, f, sender, m := newDispatcher(t, 0)
	updates := startLoop(t, d)

	updates <- msg(owner, "/pause@descbot")
	require.Eventually(t, func() bool { return len(sender.texts()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "⏸ Description rotation paused.", sender.texts()[0])
	assert.True(t, f.sched.Snapshot().Paused)

	require.Eventually(t, func() bool {
		entries, _ := f.store.RecentAudit(context.Background(), 10)
		return len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)
	entries, _ := f.store.RecentAudit(context.Background(), 10)
	e := entries[0]
	assert.Equal(t, "pause", e.Command)
	assert.Equal(t, owner, e.ActorID)
	assert.Equal(t, "boss", e.ActorUsername)
	assert.Equal(t, int64(100), e.ChatID)
	assert.True(t, e.OK)
	assert.NotEmpty(t, e.RequestID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.total.WithLabelValues("ok")))
}

func TestDispatchIgnoresNonOwnersAndChatter(t *testing.T) {
	t.Parallel()
	d, f, sender, m := newDispatcher(t, 0)
	updates := startLoop(t, d)

	updates <- msg(7, "/pause")
	updates <- msg(owner, "just chatting")
	updates <- msg(owner, "/status@someoneelse")
	updates <- msg(owner, "/status")
	require.Eventually(t, func() bool { return len(sender.texts()) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Contains(t, sender.texts()[0], "Status:")
	assert.False(t, f.sched.Snapshot().Paused)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.total.WithLabelValues("unauthorized")))
}

func TestDispatchUnknownAndUsage(t *testing.T) {
	t.Parallel()
	d, _, sender, _ := newDispatcher(t, 0)
	updates := startLoop(t, d)

	updates <- msg(owner, "/frobnicate")
	updates <- msg(owner, "/goto")
	require.Eventually(t, func() bool { return len(sender.texts()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"Unknown command. Use '/help'.", "Usage: /goto <id|n>"}, sender.texts())
}

func TestDispatchThrottlesPerUser(t *testing.T) {
	t.Parallel()
	d, _, sender, m := newDispatcher(t, 1)
	updates := startLoop(t, d)

	updates <- msg(owner, "/status")
	updates <- msg(owner, "/status")
	require.Eventually(t, func() bool { return len(sender.texts()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, sender.texts(), "Slow down, try again in a moment.")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.total.WithLabelValues("throttled")))

	d.SetRate(0)
	updates <- msg(owner, "/status")
	require.Eventually(t, func() bool { return len(sender.texts()) == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestDispatchUpdatesMenu(t *testing.T) {
	t.Parallel()
	d, _, sender, _ := newDispatcher(t, 0)
	startLoop(t, d)
	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.menus) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSetOwners(t *testing.T) {
	t.Parallel()
	d, _, _, _ := newDispatcher(t, 0)
	assert.True(t, d.isOwner(owner))
	d.SetOwners([]int64{1})
	assert.False(t, d.isOwner(owner))
	assert.True(t, d.isOwner(1))
}

func TestRunText(t *testing.T) {
	t.Parallel()
	d, f, sender, _ := newDispatcher(t, 0)

	res, err := d.RunText(context.Background(), "schedule:night", "pause")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, f.sched.Snapshot().Paused)

	res, err = d.RunText(context.Background(), "schedule:morning", "/resume")
	require.NoError(t, err)
	assert.True(t, res.OK)

	_, err = d.RunText(context.Background(), "schedule:bad", "explode")
	assert.ErrorIs(t, err, ErrUnknown)

	assert.Empty(t, sender.texts(), "scheduled commands do not reply in chat")
	entries, _ := f.store.RecentAudit(context.Background(), 10)
	require.Len(t, entries, 2)
	assert.Equal(t, "resume", entries[0].Command)
	assert.Equal(t, "schedule:morning", entries[0].ActorUsername)
}
