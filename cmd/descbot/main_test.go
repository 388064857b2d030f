package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"descbot/internal/config"
	"descbot/internal/storage"
	"descbot/pkg/logx"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	body := `{
  "telegram": {"owner_user_ids": [42]},
  "rotation": {"descriptions_path": "` + filepath.ToSlash(filepath.Join(dir, "descriptions.json")) + `"},
  "storage": {"driver": "file", "path": "` + filepath.ToSlash(filepath.Join(dir, "descbot")) + `"}
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestExampleAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "descriptions.yaml")

	out, err := execute(t, "", "example", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	_, err = execute(t, "", "example", path)
	require.Error(t, err)

	_, err = execute(t, "", "example", path, "--force")
	require.NoError(t, err)

	out, err = execute(t, "", "validate", path, "--verbose", "--field", "short_description")
	require.NoError(t, err)
	assert.Contains(t, out, "[morning]")
	assert.Contains(t, out, "3 descriptions valid")
}

func TestValidateReportsBadEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "descriptions.json")
	body := `{"descriptions": [
  {"id": "a", "text": "one", "duration_secs": 60},
  {"id": "a", "text": "two", "duration_secs": 60},
  {"id": "b", "text": "three", "duration_secs": 0}
]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	out, err := execute(t, "", "validate", path, "--field", "description")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 descriptions invalid")
	assert.Contains(t, out, `duplicate id "a"`)
	assert.Contains(t, out, "invalid duration")
}

func TestValidateUsesConfigPath(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	_, err := execute(t, "", "--config", cfg, "example")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "descriptions.json"))
	require.NoError(t, err)

	out, err := execute(t, "", "--config", cfg, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "descriptions valid")
}

func TestStateShowAndReset(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	out, err := execute(t, "", "--config", cfg, "state", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "no stored state")

	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "descbot")}, nil, logx.Nop())
	require.NoError(t, err)
	text := "be right back"
	require.NoError(t, store.SaveState(context.Background(), storage.State{CurrentIndex: 1, IsPaused: true, PendingOverride: &text}))
	require.NoError(t, store.AppendAudit(context.Background(), storage.AuditEntry{ActorUsername: "alice", Command: "pause", OK: true}))
	require.NoError(t, store.Close())

	out, err = execute(t, "", "--config", cfg, "state", "show", "--audit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "paused")
	assert.Contains(t, out, `"be right back"`)
	assert.Contains(t, out, "alice pause")

	_, err = execute(t, "", "--config", cfg, "state", "reset")
	require.NoError(t, err)

	out, err = execute(t, "", "--config", cfg, "state", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "running")
	assert.NotContains(t, out, "no stored state")
}

func TestTokenSetAndDelete(t *testing.T) {
	keyring.MockInit()
	t.Setenv(config.TokenEnv, "")

	_, err := execute(t, "123:abc\n", "token", "set")
	require.NoError(t, err)

	tok, src, err := config.ResolveToken(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "123:abc", tok)
	assert.Equal(t, config.TokenFromKeyring, src)

	_, err = execute(t, "", "token", "delete")
	require.NoError(t, err)
	_, _, err = config.ResolveToken(&config.Config{})
	assert.ErrorIs(t, err, config.ErrNoToken)

	_, err = execute(t, "  \n", "token", "set")
	assert.Error(t, err)
}
