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

func TestNewPauseCmd_Structure(t *testing.T) {
	t.Parallel()

	cmd := newPauseCmd()
	assert.Equal(t, "pause", cmd.Use)
	assert.Equal(t, "true", cmd.Annotations[skipConfigAnnotation])
	assert.NotNil(t, cmd.RunE)
}

func TestRunPause_SetsPausedFlag(t *testing.T) {
	tmpDir := t.TempDir()
	cfgFile := filepath.Join(tmpDir, "config.toml")

	require.NoError(t, os.WriteFile(cfgFile, []byte(`[root.work]
server_url = "https://dav.example.com"
sync_dir = "`+tmpDir+`/work"
`), 0o600))

	cfg, err := config.LoadOrDefault(cfgFile, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)

	cc := &CLIContext{
		Cfg:     cfg,
		CfgPath: cfgFile,
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, nil)),
		Flags:   Flags{Root: "work"},
	}

	cmd := newPauseCmd()
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	require.NoError(t, runPause(cmd, nil))

	reloaded, err := config.LoadOrDefault(cfgFile, cc.Logger)
	require.NoError(t, err)
	assert.True(t, reloaded.Roots["work"].Paused)
}

func TestRunPause_UnknownRootSelector(t *testing.T) {
	tmpDir := t.TempDir()
	cfgFile := filepath.Join(tmpDir, "config.toml")

	require.NoError(t, os.WriteFile(cfgFile, []byte(`[root.work]
server_url = "https://dav.example.com"
sync_dir = "`+tmpDir+`/work"
`), 0o600))

	cfg, err := config.LoadOrDefault(cfgFile, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)

	cc := &CLIContext{
		Cfg:     cfg,
		CfgPath: cfgFile,
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, nil)),
		Flags:   Flags{Root: "nonexistent"},
	}

	cmd := newPauseCmd()
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	assert.Error(t, runPause(cmd, nil))
}

func TestNotifyDaemon_NoDaemonRunning(t *testing.T) {
	t.Parallel()

	cc := &CLIContext{Flags: Flags{Quiet: true}}
	// No PID file exists for this root name; must not panic.
	notifyDaemon(cc, "nonexistent-root-for-test")
}
