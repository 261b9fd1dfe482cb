package config

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolvedHomeRoot(cfg *Config) *ResolvedRoot {
	cfg.Roots = map[string]Root{
		"home": {
			ServerURL: "https://dav.example.com",
			SyncDir:   "/home/user/davsync/home",
		},
	}
	name, root := "home", cfg.Roots["home"]

	return buildResolvedRoot(cfg, name, &root)
}

func TestRenderEffective_DefaultRoot(t *testing.T) {
	cfg := DefaultConfig()
	resolved := resolvedHomeRoot(cfg)

	var buf bytes.Buffer
	err := RenderEffective(resolved, &buf)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, `root "home"`)
	assert.Contains(t, output, "server_url")
	assert.Contains(t, output, "sync_dir")
	assert.Contains(t, output, "[filter]")
	assert.Contains(t, output, "[transfers]")
	assert.Contains(t, output, "[safety]")
	assert.Contains(t, output, "[sync]")
	assert.Contains(t, output, "[logging]")
	assert.Contains(t, output, "[network]")
}

func TestRenderEffective_StateDirShown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Roots = map[string]Root{
		"work": {
			ServerURL: "https://dav.contoso.com",
			SyncDir:   "/home/user/davsync/work",
			StateDir:  "/home/user/.local/share/davsync",
		},
	}
	name, root := "work", cfg.Roots["work"]
	resolved := buildResolvedRoot(cfg, name, &root)

	var buf bytes.Buffer
	err := RenderEffective(resolved, &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "state_dir")
}

func TestRenderEffective_FilterListsShown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Filter.SkipFiles = []string{"*.tmp", "*.swp"}
	cfg.Filter.SkipDirs = []string{"node_modules"}
	cfg.Filter.SyncPaths = []string{"/Documents"}
	resolved := resolvedHomeRoot(cfg)

	var buf bytes.Buffer
	err := RenderEffective(resolved, &buf)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "skip_files")
	assert.Contains(t, output, "*.tmp")
	assert.Contains(t, output, "skip_dirs")
	assert.Contains(t, output, "node_modules")
	assert.Contains(t, output, "sync_paths")
}

func TestRenderEffective_LogFileShown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogFile = "/var/log/davsync.log"
	resolved := resolvedHomeRoot(cfg)

	var buf bytes.Buffer
	err := RenderEffective(resolved, &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "log_file")
}

func TestRenderEffective_UserAgentShown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.UserAgent = "davsync/test"
	resolved := resolvedHomeRoot(cfg)

	var buf bytes.Buffer
	err := RenderEffective(resolved, &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "user_agent")
}

func TestRenderEffective_BandwidthScheduleShown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transfers.BandwidthSchedule = []BandwidthScheduleEntry{
		{Time: "08:00", Limit: "5MB/s"},
	}
	resolved := resolvedHomeRoot(cfg)

	var buf bytes.Buffer
	err := RenderEffective(resolved, &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "bandwidth_schedule")
	assert.Contains(t, buf.String(), "08:00")
}

// failWriter is a writer that always fails, used to exercise error paths
// in the errWriter pattern.
type failWriter struct{}

var errWriteFailed = errors.New("write failed")

func (failWriter) Write([]byte) (int, error) {
	return 0, errWriteFailed
}

func TestRenderEffective_WriteError(t *testing.T) {
	cfg := DefaultConfig()
	resolved := resolvedHomeRoot(cfg)

	err := RenderEffective(resolved, failWriter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errWriteFailed)
}

func TestJoinQuoted(t *testing.T) {
	assert.Equal(t, `"a", "b", "c"`, joinQuoted([]string{"a", "b", "c"}))
	assert.Equal(t, `"single"`, joinQuoted([]string{"single"}))
	assert.Equal(t, "", joinQuoted(nil))
}
