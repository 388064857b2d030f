package commands

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"descbot/internal/descriptions"
	"descbot/internal/rotation"
	"descbot/internal/storage"
	"descbot/pkg/logx"
)

const testCatalog = `{"descriptions": [
  {"id": "morning", "text": "Good morning", "duration_secs": 3600},
  {"id": "noon", "text": "Lunch time", "duration_secs": 1800},
  {"id": "night", "text": "Sleeping", "duration_secs": 28800}
]}`

const catalogPath = "/cfg/descriptions.json"

type nopUpdater struct {
	mu    sync.Mutex
	texts []string
}

func (u *nopUpdater) Apply(_ context.Context, text string) error {
	u.mu.Lock()
	u.texts = append(u.texts, text)
	u.mu.Unlock()
	return nil
}

type fixture struct {
	h     *Handler
	sched *rotation.Scheduler
	cat   *descriptions.Catalog
	fs    afero.Fs
	store *storage.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, catalogPath, []byte(testCatalog), 0o644))
	cat, err := descriptions.Open(fsys, catalogPath, descriptions.MaxShortDescription)
	require.NoError(t, err)
	store := storage.NewMemory()
	sched := rotation.New(context.Background(), cat, store, &nopUpdater{}, rotation.Options{Log: logx.Nop()})
	h := NewHandler(sched, cat, HandlerConfig{Prefix: "/", Field: "short_description", Version: "1.2.3"})
	return &fixture{h: h, sched: sched, cat: cat, fs: fsys, store: store}
}

func (f *fixture) exec(t *testing.T, line string) Result {
	t.Helper()
	cmd, err := Parse(line, "/", "")
	require.NoError(t, err, line)
	return f.h.Execute(context.Background(), cmd)
}

func TestStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res := f.exec(t, "/status")
	require.True(t, res.OK)
	assert.Contains(t, res.Text, "Status: ▶ Running")
	assert.Contains(t, res.Text, `Current: [morning] "Good morning"`)
	assert.Contains(t, res.Text, "Index: 1/3")
	assert.Contains(t, res.Text, "Time: update due now")

	require.True(t, f.exec(t, "/pause").OK)
	require.True(t, f.exec(t, "/set brb").OK)
	res = f.exec(t, "/s")
	assert.Contains(t, res.Text, "Status: ⏸ Paused")
	assert.Contains(t, res.Text, "Time: N/A")
	assert.Contains(t, res.Text, `One-off text pending: "brb"`)
}

func TestStatusShowsLimiterWait(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.h.cfg.LimiterWait = func() time.Duration { return 90 * time.Second }
	assert.Contains(t, f.exec(t, "/status").Text, "Rate limit: next update allowed in 1m")
}

func TestPauseResumeReplies(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	assert.Equal(t, Result{Text: "Already running."}, f.exec(t, "/resume"))
	assert.Equal(t, Result{OK: true, Text: "⏸ Description rotation paused."}, f.exec(t, "/pause"))
	assert.Equal(t, Result{Text: "Already paused."}, f.exec(t, "/stop"))

	res := f.exec(t, "/skip")
	assert.False(t, res.OK)
	assert.Equal(t, "Cannot skip while paused. Use '/resume' first.", res.Text)

	assert.True(t, f.exec(t, "/start").OK)
	assert.True(t, f.exec(t, "/skip").OK)
}

func TestGotoNextAndList(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.exec(t, "/goto night")
	require.True(t, res.OK)
	assert.Equal(t, `✓ Jumping to [night]: "Sleeping"`, res.Text)
	assert.Equal(t, 2, f.sched.Snapshot().Index)

	res = f.exec(t, "/next")
	assert.Equal(t, `✓ Moving on to [morning]: "Good morning"`, res.Text)

	res = f.exec(t, "/goto 2")
	require.True(t, res.OK)
	assert.Equal(t, 1, f.sched.Snapshot().Index)

	res = f.exec(t, "/goto nowhere")
	assert.False(t, res.OK)
	assert.Equal(t, "Description not found: 'nowhere'. Use '/list' to see available descriptions.", res.Text)

	res = f.exec(t, "/list")
	require.True(t, res.OK)
	lines := strings.Split(res.Text, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "  1. [morning] Good morning (1h)", lines[1])
	assert.Equal(t, "→ 2. [noon] Lunch time (30m)", lines[2])
	assert.Equal(t, "  3. [night] Sleeping (8h)", lines[3])
}

func TestView(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res := f.exec(t, "/view noon")
	require.True(t, res.OK)
	assert.Equal(t, "Description [noon]:\nText: \"Lunch time\"\nDuration: 30m\nLength: 10/120 chars", res.Text)
}

func TestSetValidatesText(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res := f.exec(t, "/set "+strings.Repeat("x", 121))
	assert.False(t, res.OK)
	assert.Contains(t, res.Text, "too long")
	assert.Nil(t, f.sched.Snapshot().Override)

	res = f.exec(t, "/set Back in 5")
	require.True(t, res.OK)
	require.NotNil(t, f.sched.Snapshot().Override)

	assert.True(t, f.exec(t, "/clear").OK)
	assert.Equal(t, Result{Text: "No one-off text pending."}, f.exec(t, "/clear"))
}

func TestEditCommandsPersistCatalog(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.exec(t, "/add lunch 45m Out for lunch")
	require.True(t, res.OK, res.Text)
	assert.Equal(t, `✓ Added description [lunch]: "Out for lunch" (45m)`, res.Text)
	assert.Equal(t, 4, f.cat.Count())

	res = f.exec(t, "/add lunch 60 again")
	assert.False(t, res.OK)
	assert.Contains(t, res.Text, "already exists")

	res = f.exec(t, "/edit lunch Back at 2")
	assert.Equal(t, `✓ Updated [lunch]: "Back at 2"`, res.Text)

	res = f.exec(t, "/duration lunch 5400")
	assert.Equal(t, "✓ Updated [lunch] duration: 45m → 1h 30m", res.Text)

	res = f.exec(t, "/duration lunch 0")
	assert.False(t, res.OK)

	reloaded, err := descriptions.Load(f.fs, catalogPath)
	require.NoError(t, err)
	require.Len(t, reloaded.Descriptions, 4)
	assert.Equal(t, descriptions.Description{ID: "lunch", Text: "Back at 2", DurationSecs: 5400}, reloaded.Descriptions[3])
}

func TestDeleteKeepsCurrentSelected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.True(t, f.exec(t, "/goto night").OK)

	res := f.exec(t, "/delete morning")
	require.True(t, res.OK)
	assert.Equal(t, `✓ Deleted [morning]: "Good morning"`, res.Text)

	st := f.sched.Status()
	assert.Equal(t, 1, st.Index)
	assert.Equal(t, "night", st.Current.ID)
}

func TestReload(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.True(t, f.exec(t, "/goto night").OK)

	assert.Equal(t, "✓ Description file unchanged (3 descriptions).", f.exec(t, "/reload").Text)

	require.NoError(t, afero.WriteFile(f.fs, catalogPath, []byte(`{"descriptions":[{"id":"only","text":"Only one","duration_secs":60}]}`), 0o644))
	res := f.exec(t, "/refresh")
	require.True(t, res.OK)
	assert.Equal(t, "✓ Reloaded descriptions. 3 → 1 descriptions.", res.Text)
	assert.Equal(t, 0, f.sched.Snapshot().Index, "index clamped after shrink")

	require.NoError(t, afero.WriteFile(f.fs, catalogPath, []byte(`{"descriptions":[{"id":"bad id","text":"x","duration_secs":60}]}`), 0o644))
	res = f.exec(t, "/reload")
	assert.False(t, res.OK)
	assert.Equal(t, 1, f.cat.Count(), "invalid file leaves the list untouched")
}

func TestHelpAndInfo(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res := f.exec(t, "/help")
	require.True(t, res.OK)
	assert.True(t, strings.HasPrefix(res.Text, "Commands (prefix: /)"))
	assert.Contains(t, res.Text, "goto <id|n> (go, jump) - Jump to a description")

	res = f.exec(t, "/info")
	assert.Contains(t, res.Text, "descbot 1.2.3")
	assert.Contains(t, res.Text, "short description")
}
