package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/davsync/internal/config"
)

func newTestCLIContext(t *testing.T, cfgFile string, flags Flags) *CLIContext {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.LoadOrDefault(cfgFile, logger)
	require.NoError(t, err)

	return &CLIContext{Cfg: cfg, CfgPath: cfgFile, Logger: logger, Flags: flags}
}

func TestNewResumeCmd_Structure(t *testing.T) {
	t.Parallel()

	cmd := newResumeCmd()
	assert.Equal(t, "resume", cmd.Use)
	assert.Equal(t, "true", cmd.Annotations[skipConfigAnnotation])
	assert.NotNil(t, cmd.RunE)
}

func TestRunResume_SingleRoot_ClearsPausedFlag(t *testing.T) {
	tmpDir := t.TempDir()
	cfgFile := filepath.Join(tmpDir, "config.toml")

	require.NoError(t, os.WriteFile(cfgFile, []byte(`[root.work]
server_url = "https://dav.example.com"
sync_dir = "`+tmpDir+`/work"
paused = true
`), 0o600))

	cc := newTestCLIContext(t, cfgFile, Flags{Root: "work"})

	cmd := newResumeCmd()
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	require.NoError(t, runResume(cmd, nil))

	reloaded, err := config.LoadOrDefault(cfgFile, cc.Logger)
	require.NoError(t, err)
	assert.False(t, reloaded.Roots["work"].Paused)
}

func TestRunResume_SingleRoot_NotPaused_NoError(t *testing.T) {
	tmpDir := t.TempDir()
	cfgFile := filepath.Join(tmpDir, "config.toml")

	require.NoError(t, os.WriteFile(cfgFile, []byte(`[root.work]
server_url = "https://dav.example.com"
sync_dir = "`+tmpDir+`/work"
`), 0o600))

	cc := newTestCLIContext(t, cfgFile, Flags{Root: "work"})

	cmd := newResumeCmd()
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	require.NoError(t, runResume(cmd, nil))
}

func TestRunResume_SingleRoot_UnknownSelector(t *testing.T) {
	tmpDir := t.TempDir()
	cfgFile := filepath.Join(tmpDir, "config.toml")

	require.NoError(t, os.WriteFile(cfgFile, []byte(`[root.work]
server_url = "https://dav.example.com"
sync_dir = "`+tmpDir+`/work"
`), 0o600))

	cc := newTestCLIContext(t, cfgFile, Flags{Root: "nonexistent"})

	cmd := newResumeCmd()
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	assert.Error(t, runResume(cmd, nil))
}

func TestRunResume_AllRoots_ClearsEveryPausedRoot(t *testing.T) {
	tmpDir := t.TempDir()
	cfgFile := filepath.Join(tmpDir, "config.toml")

	require.NoError(t, os.WriteFile(cfgFile, []byte(`[root.work]
server_url = "https://dav.example.com"
sync_dir = "`+tmpDir+`/work"
paused = true

[root.home]
server_url = "https://dav.example.com"
sync_dir = "`+tmpDir+`/home"
paused = true
`), 0o600))

	cc := newTestCLIContext(t, cfgFile, Flags{})

	cmd := newResumeCmd()
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	require.NoError(t, runResume(cmd, nil))

	reloaded, err := config.LoadOrDefault(cfgFile, cc.Logger)
	require.NoError(t, err)
	assert.False(t, reloaded.Roots["work"].Paused)
	assert.False(t, reloaded.Roots["home"].Paused)
}

func TestRunResume_NoRootsConfigured(t *testing.T) {
	tmpDir := t.TempDir()
	cfgFile := filepath.Join(tmpDir, "config.toml")

	require.NoError(t, os.WriteFile(cfgFile, []byte("# empty\n"), 0o600))

	cc := newTestCLIContext(t, cfgFile, Flags{})

	cmd := newResumeCmd()
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	assert.Error(t, runResume(cmd, nil))
}
