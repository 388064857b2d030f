package rotation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"descbot/internal/storage"
	"descbot/pkg/logx"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestAdvanceWrapsAround(t *testing.T) {
	t.Parallel()
	tests := []struct {
		index, count, want int
	}{
		{0, 3, 1},
		{1, 3, 2},
		{2, 3, 0},
		{0, 1, 0},
		{4, 0, 4}, // no-op on empty
	}
	for _, tt := range tests {
		override := "keep"
		st := State{Index: tt.index, Paused: true, Override: &override}
		st.Advance(tt.count)
		assert.Equal(t, tt.want, st.Index, "Advance(%d) from %d", tt.count, tt.index)
		assert.True(t, st.Paused)
		require.NotNil(t, st.Override)
	}
}

func TestAdvanceFullCycleReturnsToStart(t *testing.T) {
	t.Parallel()
	for count := 1; count <= 7; count++ {
		st := State{Index: count / 2}
		for i := 0; i < count; i++ {
			st.Advance(count)
		}
		assert.Equal(t, count/2, st.Index)
	}
}

func TestIsExpired(t *testing.T) {
	t.Parallel()
	var st State
	assert.True(t, st.IsExpired(t0), "no deadline means expired")
	assert.False(t, st.HasDeadline())

	st.SetDeadline(t0, time.Minute)
	assert.False(t, st.IsExpired(t0.Add(59*time.Second)))
	assert.True(t, st.IsExpired(t0.Add(time.Minute)))
	assert.True(t, st.IsExpired(t0.Add(time.Hour)))
}

func TestTimeRemaining(t *testing.T) {
	t.Parallel()
	var st State
	_, ok := st.TimeRemaining(t0)
	assert.False(t, ok)

	st.SetDeadline(t0, time.Minute)
	rem, ok := st.TimeRemaining(t0.Add(20 * time.Second))
	assert.True(t, ok)
	assert.Equal(t, 40*time.Second, rem)

	rem, _ = st.TimeRemaining(t0.Add(2 * time.Minute))
	assert.Zero(t, rem)
}

func TestSetIndexClearsDeadline(t *testing.T) {
	t.Parallel()
	var st State
	st.SetDeadline(t0, time.Hour)
	st.SetIndex(3)
	assert.Equal(t, 3, st.Index)
	assert.False(t, st.HasDeadline())
}

func TestConsumeOverride(t *testing.T) {
	t.Parallel()
	var st State
	_, ok := st.ConsumeOverride()
	assert.False(t, ok)

	st.SetOverride("Back in 5")
	v, ok := st.ConsumeOverride()
	assert.True(t, ok)
	assert.Equal(t, "Back in 5", v)
	assert.Nil(t, st.Override)
}

func TestPersistentRoundTrip(t *testing.T) {
	t.Parallel()
	st := State{Index: 2, Paused: true}
	st.SetOverride("hello")
	st.SetDeadline(t0.Add(750*time.Millisecond), time.Hour)

	p := st.ToPersistent()
	require.NotNil(t, p.DeadlineUnix)
	assert.Equal(t, t0.Add(time.Hour).Unix(), *p.DeadlineUnix)

	back := FromPersistent(p)
	assert.Equal(t, 2, back.Index)
	assert.True(t, back.Paused)
	require.NotNil(t, back.Override)
	assert.Equal(t, "hello", *back.Override)
	require.NotNil(t, back.Deadline)
	assert.True(t, back.Deadline.Equal(t0.Add(time.Hour)), "deadline kept to the second")

	assert.Equal(t, State{}, FromPersistent(storage.State{}))
	assert.Equal(t, 0, FromPersistent(storage.State{CurrentIndex: -4}).Index)
}

func TestCloneSharesNothing(t *testing.T) {
	t.Parallel()
	st := State{}
	st.SetOverride("a")
	st.SetDeadline(t0, time.Second)
	cp := st.clone()
	*st.Override = "b"
	*st.Deadline = t0.Add(time.Hour)
	assert.Equal(t, "a", *cp.Override)
	assert.True(t, cp.Deadline.Equal(t0.Add(time.Second)))
}

type brokenStore struct{ storage.Store }

func (brokenStore) LoadState(context.Context) (storage.State, bool, error) {
	return storage.State{}, false, errors.New("disk on fire")
}

func TestLoadDefaultsOnFailure(t *testing.T) {
	t.Parallel()
	assert.Equal(t, State{}, Load(context.Background(), brokenStore{}, logx.Nop()))
	assert.Equal(t, State{}, Load(context.Background(), storage.NewMemory(), logx.Nop()))
	assert.Equal(t, State{}, Load(context.Background(), nil, logx.Nop()))

	mem := storage.NewMemory()
	require.NoError(t, mem.SaveState(context.Background(), storage.State{CurrentIndex: 1, IsPaused: true}))
	assert.Equal(t, State{Index: 1, Paused: true}, Load(context.Background(), mem, logx.Nop()))
}
