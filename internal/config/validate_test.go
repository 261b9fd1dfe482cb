package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	invalidSizeStr = "not-a-size"
	invalidEnumStr = "invalid-value"
)

func validConfig() *Config {
	return DefaultConfig()
}

func TestValidate_ValidDefaults(t *testing.T) {
	err := Validate(validConfig())
	assert.NoError(t, err)
}

func TestValidate_Parallelism_BelowMin(t *testing.T) {
	cfg := validConfig()
	cfg.Transfers.Parallelism = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallelism")
}

func TestValidate_Parallelism_AboveMax(t *testing.T) {
	cfg := validConfig()
	cfg.Transfers.Parallelism = 65
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallelism")
}

func TestValidate_ChunkSize_TooSmall(t *testing.T) {
	cfg := validConfig()
	cfg.Transfers.ChunkSize = "320KiB"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_size")
}

func TestValidate_ChunkSize_TooLarge(t *testing.T) {
	cfg := validConfig()
	cfg.Transfers.ChunkSize = "200MiB"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_size")
}

func TestValidate_ChunkSize_NotAligned(t *testing.T) {
	cfg := validConfig()
	// 11 MiB = 11,534,336 bytes. 11,534,336 / 327,680 = 35.2 -- not aligned.
	cfg.Transfers.ChunkSize = "11MiB"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple of 320 KiB")
}

func TestValidate_ChunkSize_Valid(t *testing.T) {
	for _, size := range []string{"10MiB", "20MiB", "40MiB", "60MiB"} {
		cfg := validConfig()
		cfg.Transfers.ChunkSize = size
		err := Validate(cfg)
		assert.NoError(t, err, "expected %s to be valid", size)
	}
}

func TestValidate_BandwidthAutoPct_OutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Transfers.BandwidthAutoPct = -1
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bandwidth_auto_percent")

	cfg.Transfers.BandwidthAutoPct = 101
	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bandwidth_auto_percent")
}

func TestValidate_BigDeletePercentage_OutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Safety.BigDeletePercentage = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "big_delete_percentage")

	cfg.Safety.BigDeletePercentage = 101
	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "big_delete_percentage")
}

func TestValidate_BigFolderThresholdBytes_Negative(t *testing.T) {
	cfg := validConfig()
	cfg.Safety.BigFolderThresholdBytes = -1
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "big_folder_threshold_bytes")
}

func TestValidate_BigDeleteMinItems_BelowMin(t *testing.T) {
	cfg := validConfig()
	cfg.Safety.BigDeleteMinItems = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "big_delete_min_items")
}

func TestValidate_RemotePollInterval_TooShort(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.RemotePollInterval = "1s"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote_poll_interval")
}

func TestValidate_RemotePollInterval_InvalidFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.RemotePollInterval = "not-a-duration"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote_poll_interval")
}

func TestValidate_ShutdownTimeout_TooShort(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.ShutdownTimeout = "1s"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown_timeout")
}

func TestValidate_ConnectTimeout_TooShort(t *testing.T) {
	cfg := validConfig()
	cfg.Network.ConnectTimeout = "500ms"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect_timeout")
}

func TestValidate_DataTimeout_TooShort(t *testing.T) {
	cfg := validConfig()
	cfg.Network.DataTimeout = "2s"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_timeout")
}

func TestValidate_VFSMode_Invalid(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.VFSMode = "ghost"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vfs_mode")
}

func TestValidate_VFSMode_AllValid(t *testing.T) {
	for _, mode := range []string{"off", "suffix_placeholder"} {
		cfg := validConfig()
		cfg.Sync.VFSMode = mode
		err := Validate(cfg)
		assert.NoError(t, err, "expected %s to be valid", mode)
	}
}

func TestValidate_LogLevel_Invalid(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.LogLevel = "verbose"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestValidate_LogLevel_AllValid(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := validConfig()
		cfg.Logging.LogLevel = level
		err := Validate(cfg)
		assert.NoError(t, err, "expected %s to be valid", level)
	}
}

func TestValidate_LogFormat_Invalid(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.LogFormat = "xml"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_format")
}

func TestValidate_LogFormat_AllValid(t *testing.T) {
	for _, format := range []string{"auto", "text", "json"} {
		cfg := validConfig()
		cfg.Logging.LogFormat = format
		err := Validate(cfg)
		assert.NoError(t, err, "expected %s to be valid", format)
	}
}

func TestValidate_LogRetentionDays_BelowMin(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.LogRetentionDays = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_retention_days")
}

func TestValidate_SyncPaths_MustStartWithSlash(t *testing.T) {
	cfg := validConfig()
	cfg.Filter.SyncPaths = []string{"/Documents", "Photos"}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync_paths")
	assert.Contains(t, err.Error(), "Photos")
}

func TestValidate_IgnoreMarker_Empty(t *testing.T) {
	cfg := validConfig()
	cfg.Filter.IgnoreMarker = ""
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ignore_marker")
}

func TestValidate_MaxFileSize_Invalid(t *testing.T) {
	cfg := validConfig()
	cfg.Filter.MaxFileSize = invalidSizeStr
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_file_size")
}

func TestValidate_MinFreeSpace_Invalid(t *testing.T) {
	cfg := validConfig()
	cfg.Safety.MinFreeSpace = invalidSizeStr
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_free_space")
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Transfers.Parallelism = 0
	cfg.Logging.LogLevel = invalidEnumStr
	cfg.Sync.VFSMode = invalidEnumStr

	err := Validate(cfg)
	require.Error(t, err)

	errStr := err.Error()
	assert.Contains(t, errStr, "parallelism")
	assert.Contains(t, errStr, "log_level")
	assert.Contains(t, errStr, "vfs_mode")
}

func TestValidate_BandwidthSchedule_InvalidTime(t *testing.T) {
	cfg := validConfig()
	cfg.Transfers.BandwidthSchedule = []BandwidthScheduleEntry{
		{Time: "25:00", Limit: "5MB/s"},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bandwidth_schedule")
}

func TestValidate_BandwidthSchedule_NotSorted(t *testing.T) {
	cfg := validConfig()
	cfg.Transfers.BandwidthSchedule = []BandwidthScheduleEntry{
		{Time: "18:00", Limit: "50MB/s"},
		{Time: "08:00", Limit: "5MB/s"},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sorted")
}

func TestValidate_BandwidthSchedule_Valid(t *testing.T) {
	cfg := validConfig()
	cfg.Transfers.BandwidthSchedule = []BandwidthScheduleEntry{
		{Time: "08:00", Limit: "5MB/s"},
		{Time: "18:00", Limit: "50MB/s"},
		{Time: "23:00", Limit: "0"},
	}
	err := Validate(cfg)
	assert.NoError(t, err)
}

func TestValidate_FullLocalDiscoveryInterval_Zero(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.FullLocalDiscoveryInterval = "0s"
	err := Validate(cfg)
	assert.NoError(t, err)
}

func TestValidate_ConflictReminderInterval_Zero(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.ConflictReminderInterval = "0s"
	err := Validate(cfg)
	assert.NoError(t, err)
}

func TestParseScheduleTime_Valid(t *testing.T) {
	minutes, err := parseScheduleTime("08:30")
	require.NoError(t, err)
	assert.Equal(t, 8*60+30, minutes)

	minutes, err = parseScheduleTime("23:59")
	require.NoError(t, err)
	assert.Equal(t, 23*60+59, minutes)

	minutes, err = parseScheduleTime("00:00")
	require.NoError(t, err)
	assert.Equal(t, 0, minutes)
}

func TestParseScheduleTime_Invalid(t *testing.T) {
	for _, input := range []string{"25:00", "08:60", "abc", "8:30:00", ""} {
		t.Run(input, func(t *testing.T) {
			_, err := parseScheduleTime(input)
			assert.Error(t, err)
		})
	}
}

func TestValidate_BandwidthSchedule_BadTimeFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Transfers.BandwidthSchedule = []BandwidthScheduleEntry{
		{Time: "noon", Limit: "5MB/s"},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "time")
}

// --- validateRoots tests ---

func TestValidate_Root_MissingServerURL(t *testing.T) {
	cfg := validConfig()
	cfg.Roots = map[string]Root{
		"home": {SyncDir: "~/davsync/home"},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root.home.server_url")
}

func TestValidate_Root_DuplicateSyncDir(t *testing.T) {
	cfg := validConfig()
	cfg.Roots = map[string]Root{
		"home": {ServerURL: "https://dav.example.com", SyncDir: "~/davsync/shared"},
		"work": {ServerURL: "https://dav.contoso.com", SyncDir: "~/davsync/shared"},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same sync_dir")
}

func TestValidate_Root_NestedSyncDir(t *testing.T) {
	cfg := validConfig()
	cfg.Roots = map[string]Root{
		"home":   {ServerURL: "https://dav.example.com", SyncDir: "~/davsync/home"},
		"nested": {ServerURL: "https://dav.example.com", SyncDir: "~/davsync/home/sub"},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlap")
}

func TestValidate_Root_ValidMultiple(t *testing.T) {
	cfg := validConfig()
	cfg.Roots = map[string]Root{
		"home": {ServerURL: "https://dav.example.com", SyncDir: "~/davsync/home"},
		"work": {ServerURL: "https://dav.contoso.com", SyncDir: "~/davsync/work"},
	}
	err := Validate(cfg)
	assert.NoError(t, err)
}

func TestValidate_Root_OverrideSection_Invalid(t *testing.T) {
	cfg := validConfig()
	badFilter := FilterConfig{IgnoreMarker: ""}
	cfg.Roots = map[string]Root{
		"home": {
			ServerURL: "https://dav.example.com",
			SyncDir:   "~/davsync/home",
			Filter:    &badFilter,
		},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root.home")
	assert.Contains(t, err.Error(), "ignore_marker")
}

// --- ValidateResolved tests ---

func TestValidateResolved_AbsoluteSyncDir(t *testing.T) {
	rr := &ResolvedRoot{ServerURL: "https://dav.example.com", SyncDir: "/absolute/path"}
	err := ValidateResolved(rr)
	assert.NoError(t, err)
}

func TestValidateResolved_RelativeSyncDir(t *testing.T) {
	rr := &ResolvedRoot{ServerURL: "https://dav.example.com", SyncDir: "relative/path"}
	err := ValidateResolved(rr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync_dir")
	assert.Contains(t, err.Error(), "absolute")
}

func TestValidateResolved_EmptySyncDir(t *testing.T) {
	rr := &ResolvedRoot{ServerURL: "https://dav.example.com", SyncDir: ""}
	err := ValidateResolved(rr)
	assert.NoError(t, err)
}

func TestValidateResolved_EmptyServerURL(t *testing.T) {
	rr := &ResolvedRoot{ServerURL: "", SyncDir: "/absolute/path"}
	err := ValidateResolved(rr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server_url")
}
