package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a debug-level logger that writes to stderr, ensuring all
// config debug output appears in test output for CI visibility.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	tomlContent := `
skip_files = ["*.tmp", "*.swp"]
skip_dirs = ["node_modules", ".git"]
skip_dotfiles = true
skip_symlinks = true
max_file_size = "1GB"
sync_paths = ["/Documents", "/Photos"]
ignore_marker = ".syncignore"

parallelism = 4
chunk_size = "20MiB"
chunk_threshold = "20MiB"
bandwidth_limit_up = "5MB/s"
bandwidth_limit_down = "5MB/s"

big_folder_threshold_bytes = 500
big_delete_percentage = 25
big_delete_min_items = 5
min_free_space = "2GB"
disable_checksum_verify = true

remote_poll_interval = "10m"
full_local_discovery_interval = "6h"
vfs_mode = "off"
conflict_reminder_interval = "2h"
dry_run = true
shutdown_timeout = "60s"

log_level = "debug"
log_file = "/tmp/davsync.log"
log_format = "json"
log_retention_days = 7

connect_timeout = "30s"
data_timeout = "120s"
user_agent = "davsync/test"
force_http_11 = true
`

	path := writeTestConfig(t, tomlContent)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"*.tmp", "*.swp"}, cfg.Filter.SkipFiles)
	assert.Equal(t, []string{"node_modules", ".git"}, cfg.Filter.SkipDirs)
	assert.True(t, cfg.Filter.SkipDotfiles)
	assert.True(t, cfg.Filter.SkipSymlinks)
	assert.Equal(t, "1GB", cfg.Filter.MaxFileSize)
	assert.Equal(t, []string{"/Documents", "/Photos"}, cfg.Filter.SyncPaths)
	assert.Equal(t, ".syncignore", cfg.Filter.IgnoreMarker)

	assert.Equal(t, 4, cfg.Transfers.Parallelism)
	assert.Equal(t, "20MiB", cfg.Transfers.ChunkSize)
	assert.Equal(t, "20MiB", cfg.Transfers.ChunkThreshold)
	assert.Equal(t, "5MB/s", cfg.Transfers.BandwidthLimitUp)
	assert.Equal(t, "5MB/s", cfg.Transfers.BandwidthLimitDown)

	assert.Equal(t, int64(500), cfg.Safety.BigFolderThresholdBytes)
	assert.Equal(t, 25, cfg.Safety.BigDeletePercentage)
	assert.Equal(t, 5, cfg.Safety.BigDeleteMinItems)
	assert.Equal(t, "2GB", cfg.Safety.MinFreeSpace)
	assert.True(t, cfg.Safety.DisableChecksumVerify)

	assert.Equal(t, "10m", cfg.Sync.RemotePollInterval)
	assert.Equal(t, "6h", cfg.Sync.FullLocalDiscoveryInterval)
	assert.Equal(t, "off", cfg.Sync.VFSMode)
	assert.Equal(t, "2h", cfg.Sync.ConflictReminderInterval)
	assert.True(t, cfg.Sync.DryRun)
	assert.Equal(t, "60s", cfg.Sync.ShutdownTimeout)

	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "/tmp/davsync.log", cfg.Logging.LogFile)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
	assert.Equal(t, 7, cfg.Logging.LogRetentionDays)

	assert.Equal(t, "30s", cfg.Network.ConnectTimeout)
	assert.Equal(t, "120s", cfg.Network.DataTimeout)
	assert.Equal(t, "davsync/test", cfg.Network.UserAgent)
	assert.True(t, cfg.Network.ForceHTTP11)
}

func TestLoad_MinimalConfig_UsesDefaults(t *testing.T) {
	path := writeTestConfig(t, "")
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Transfers.Parallelism)
	assert.Equal(t, "10MiB", cfg.Transfers.ChunkSize)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "30s", cfg.Sync.RemotePollInterval)
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeTestConfig(t, `[filter
not valid toml`)
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml", testLogger(t))
	require.Error(t, err)
}

func TestLoad_ValidationError(t *testing.T) {
	path := writeTestConfig(t, `parallelism = 0`)
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoadOrDefault_FileExists(t *testing.T) {
	path := writeTestConfig(t, `log_level = "debug"`)
	cfg, err := LoadOrDefault(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
}

func TestLoadOrDefault_FileNotFound(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.toml", testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, 6, cfg.Transfers.Parallelism)
}

func TestLoad_PartialConfig_UsesDefaults(t *testing.T) {
	path := writeTestConfig(t, `log_level = "warn"`)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.LogLevel)
	assert.Equal(t, 6, cfg.Transfers.Parallelism)
	assert.Equal(t, "30s", cfg.Sync.RemotePollInterval)
	assert.Equal(t, ".davignore", cfg.Filter.IgnoreMarker)
}

func TestLoad_BandwidthSchedule(t *testing.T) {
	path := writeTestConfig(t, `
bandwidth_schedule = [
    { time = "08:00", limit = "5MB/s" },
    { time = "18:00", limit = "50MB/s" },
    { time = "23:00", limit = "0" },
]
`)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	require.Len(t, cfg.Transfers.BandwidthSchedule, 3)
	assert.Equal(t, "08:00", cfg.Transfers.BandwidthSchedule[0].Time)
	assert.Equal(t, "5MB/s", cfg.Transfers.BandwidthSchedule[0].Limit)
	assert.Equal(t, "18:00", cfg.Transfers.BandwidthSchedule[1].Time)
	assert.Equal(t, "23:00", cfg.Transfers.BandwidthSchedule[2].Time)
}

func TestLoad_BandwidthScheduleSubField_NotFlagged(t *testing.T) {
	// bandwidth_schedule entries have "time" and "limit" sub-fields. These
	// appear as undecoded keys but the parent is known, so they're skipped.
	path := writeTestConfig(t, `
bandwidth_schedule = [
    { time = "08:00", limit = "5MB/s" },
]
`)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	require.Len(t, cfg.Transfers.BandwidthSchedule, 1)
}

// --- Root section tests ---

func TestLoad_SingleRootSection(t *testing.T) {
	path := writeTestConfig(t, `
log_level = "debug"

[root.home]
server_url = "https://dav.example.com"
sync_dir = "~/davsync/home"
`)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	require.Len(t, cfg.Roots, 1)

	r := cfg.Roots["home"]
	assert.Equal(t, "https://dav.example.com", r.ServerURL)
	assert.Equal(t, "~/davsync/home", r.SyncDir)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
}

func TestLoad_MultipleRootSections(t *testing.T) {
	path := writeTestConfig(t, `
skip_dotfiles = true

[root.home]
server_url = "https://dav.example.com"
sync_dir = "~/davsync/home"

[root.work]
server_url = "https://dav.contoso.com"
sync_dir = "~/davsync/work"
remote_path = "/shared"
`)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	require.Len(t, cfg.Roots, 2)

	home := cfg.Roots["home"]
	assert.Equal(t, "https://dav.example.com", home.ServerURL)

	work := cfg.Roots["work"]
	assert.Equal(t, "https://dav.contoso.com", work.ServerURL)
	assert.Equal(t, "/shared", work.RemotePath)
}

func TestLoad_RootWithAllFields(t *testing.T) {
	path := writeTestConfig(t, `
[root.home]
server_url = "https://dav.example.com"
remote_path = "/Documents"
sync_dir = "~/davsync/home"
credential_file = "~/.config/davsync/home.cred"
state_dir = "~/.local/share/davsync"
paused = true
`)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	r := cfg.Roots["home"]
	assert.Equal(t, "https://dav.example.com", r.ServerURL)
	assert.Equal(t, "/Documents", r.RemotePath)
	assert.Equal(t, "~/davsync/home", r.SyncDir)
	assert.Equal(t, "~/.config/davsync/home.cred", r.CredentialFile)
	assert.True(t, r.Paused)
}

func TestLoad_RootWithSectionOverrides(t *testing.T) {
	path := writeTestConfig(t, `
skip_dotfiles = false

[root.home]
server_url = "https://dav.example.com"
sync_dir = "~/davsync/home"

[root.home.filter]
skip_dotfiles = true
skip_dirs = ["vendor"]
`)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	r := cfg.Roots["home"]
	require.NotNil(t, r.Filter)
	assert.True(t, r.Filter.SkipDotfiles)
	assert.Equal(t, []string{"vendor"}, r.Filter.SkipDirs)
}

// --- ResolveRoot tests ---

func TestResolveRoot_SingleRoot_AutoSelect(t *testing.T) {
	path := writeTestConfig(t, `
[root.home]
server_url = "https://dav.example.com"
sync_dir = "~/davsync/home"
`)
	resolved, _, err := ResolveRoot(
		EnvOverrides{ConfigPath: path},
		CLIOverrides{},
		testLogger(t),
	)
	require.NoError(t, err)
	assert.Equal(t, "home", resolved.Name)
	assert.Contains(t, resolved.SyncDir, "davsync")
}

func TestResolveRoot_NoRoots_Error(t *testing.T) {
	path := writeTestConfig(t, `log_level = "debug"`)
	_, _, err := ResolveRoot(
		EnvOverrides{ConfigPath: path},
		CLIOverrides{},
		testLogger(t),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sync roots")
}

func TestResolveRoot_MultipleRoots_NoSelector_Error(t *testing.T) {
	path := writeTestConfig(t, `
[root.home]
server_url = "https://dav.example.com"
sync_dir = "~/davsync/home"

[root.work]
server_url = "https://dav.contoso.com"
sync_dir = "~/davsync/work"
`)
	_, _, err := ResolveRoot(
		EnvOverrides{ConfigPath: path},
		CLIOverrides{},
		testLogger(t),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple roots")
}

func TestResolveRoot_CLISelector(t *testing.T) {
	path := writeTestConfig(t, `
[root.home]
server_url = "https://dav.example.com"
sync_dir = "~/davsync/home"

[root.work]
server_url = "https://dav.contoso.com"
sync_dir = "~/davsync/work"
`)
	resolved, _, err := ResolveRoot(
		EnvOverrides{ConfigPath: path},
		CLIOverrides{Root: "work"},
		testLogger(t),
	)
	require.NoError(t, err)
	assert.Equal(t, "work", resolved.Name)
}

func TestResolveRoot_EnvSelector(t *testing.T) {
	path := writeTestConfig(t, `
[root.home]
server_url = "https://dav.example.com"
sync_dir = "~/davsync/home"

[root.work]
server_url = "https://dav.contoso.com"
sync_dir = "~/davsync/work"
`)
	resolved, _, err := ResolveRoot(
		EnvOverrides{ConfigPath: path, Root: "home"},
		CLIOverrides{},
		testLogger(t),
	)
	require.NoError(t, err)
	assert.Equal(t, "home", resolved.Name)
}

func TestResolveRoot_CLISelectorOverridesEnv(t *testing.T) {
	path := writeTestConfig(t, `
[root.home]
server_url = "https://dav.example.com"
sync_dir = "~/davsync/home"

[root.work]
server_url = "https://dav.contoso.com"
sync_dir = "~/davsync/work"
`)
	resolved, _, err := ResolveRoot(
		EnvOverrides{ConfigPath: path, Root: "home"},
		CLIOverrides{Root: "work"},
		testLogger(t),
	)
	require.NoError(t, err)
	assert.Equal(t, "work", resolved.Name)
}

func TestResolveRoot_CLIConfigPathOverridesEnv(t *testing.T) {
	path := writeTestConfig(t, `
[root.home]
server_url = "https://dav.example.com"
sync_dir = "~/davsync/home"
`)
	resolved, _, err := ResolveRoot(
		EnvOverrides{ConfigPath: "/wrong/path"},
		CLIOverrides{ConfigPath: path},
		testLogger(t),
	)
	require.NoError(t, err)
	assert.Equal(t, "home", resolved.Name)
}

func TestResolveRoot_CLIDryRunOverride(t *testing.T) {
	path := writeTestConfig(t, `
[root.home]
server_url = "https://dav.example.com"
sync_dir = "~/davsync/home"
`)
	dryRun := true
	resolved, _, err := ResolveRoot(
		EnvOverrides{ConfigPath: path},
		CLIOverrides{DryRun: &dryRun},
		testLogger(t),
	)
	require.NoError(t, err)
	assert.True(t, resolved.DryRun)
}

func TestResolveRoot_InvalidConfigFile(t *testing.T) {
	path := writeTestConfig(t, `[invalid toml`)
	_, _, err := ResolveRoot(
		EnvOverrides{ConfigPath: path},
		CLIOverrides{},
		testLogger(t),
	)
	require.Error(t, err)
}

func TestResolveRoot_NoConfigFile(t *testing.T) {
	_, _, err := ResolveRoot(
		EnvOverrides{ConfigPath: "/nonexistent/config.toml"},
		CLIOverrides{},
		testLogger(t),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sync roots")
}

func TestResolveRoot_PerRootOverridesApplied(t *testing.T) {
	path := writeTestConfig(t, `
skip_dotfiles = false
remote_poll_interval = "5m"

[root.home]
server_url = "https://dav.example.com"
sync_dir = "~/davsync/home"

[root.home.filter]
skip_dotfiles = true
skip_dirs = ["vendor"]
skip_files = ["*.log"]

[root.home.sync]
remote_poll_interval = "10m"
`)
	resolved, _, err := ResolveRoot(
		EnvOverrides{ConfigPath: path},
		CLIOverrides{},
		testLogger(t),
	)
	require.NoError(t, err)

	assert.True(t, resolved.FilterConfig.SkipDotfiles)
	assert.Equal(t, []string{"vendor"}, resolved.FilterConfig.SkipDirs)
	assert.Equal(t, []string{"*.log"}, resolved.FilterConfig.SkipFiles)
	assert.Equal(t, "10m", resolved.SyncConfig.RemotePollInterval)
}

func TestResolveRoot_GlobalSettingsUsedWhenNoRootOverride(t *testing.T) {
	path := writeTestConfig(t, `
skip_dotfiles = true
log_level = "debug"

[root.home]
server_url = "https://dav.example.com"
sync_dir = "~/davsync/home"
`)
	resolved, _, err := ResolveRoot(
		EnvOverrides{ConfigPath: path},
		CLIOverrides{},
		testLogger(t),
	)
	require.NoError(t, err)

	assert.True(t, resolved.FilterConfig.SkipDotfiles)
	assert.Equal(t, "debug", resolved.LoggingConfig.LogLevel)
}
