// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for davsync.
package config

// Config is the top-level configuration structure.
// It contains sync roots and all global configuration sections.
// Per-root section overrides completely replace the corresponding global
// section (no field-by-field merge).
type Config struct {
	Roots     map[string]Root `toml:"root"`
	Filter    FilterConfig    `toml:"filter"`
	Transfers TransfersConfig `toml:"transfers"`
	Safety    SafetyConfig    `toml:"safety"`
	Sync      SyncConfig      `toml:"sync"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
}

// FilterConfig controls which files and directories are included in sync
// (spec §4.2's exclude engine).
type FilterConfig struct {
	SkipFiles      []string `toml:"skip_files"`
	SkipDirs       []string `toml:"skip_dirs"`
	SkipDotfiles   bool     `toml:"skip_dotfiles"`
	SkipSymlinks   bool     `toml:"skip_symlinks"`
	MaxFileSize    string   `toml:"max_file_size"`
	SyncPaths      []string `toml:"sync_paths"`
	IgnoreMarker   string   `toml:"ignore_marker"`
	CaseInsensitive bool    `toml:"case_insensitive_local_fs"`
}

// TransfersConfig controls parallel workers, chunking and bandwidth (spec
// §4.6, §4.7, §4.8).
type TransfersConfig struct {
	Parallelism       int                      `toml:"parallelism"`
	ChunkSize         string                   `toml:"chunk_size"`
	ChunkThreshold    string                   `toml:"chunk_threshold"`
	BandwidthLimitUp  string                   `toml:"bandwidth_limit_up"`
	BandwidthLimitDown string                  `toml:"bandwidth_limit_down"`
	BandwidthAutoPct  int                      `toml:"bandwidth_auto_percent"`
	BandwidthSchedule []BandwidthScheduleEntry `toml:"bandwidth_schedule"`
}

// BandwidthScheduleEntry defines a time-of-day bandwidth limit.
type BandwidthScheduleEntry struct {
	Time  string `toml:"time"`
	Limit string `toml:"limit"`
}

// SafetyConfig controls protective defaults and thresholds (spec §4.5's
// big-folder guard, §4.1's journal lock).
type SafetyConfig struct {
	BigFolderThresholdBytes int64  `toml:"big_folder_threshold_bytes"`
	BigDeletePercentage     int    `toml:"big_delete_percentage"`
	BigDeleteMinItems       int    `toml:"big_delete_min_items"`
	MinFreeSpace            string `toml:"min_free_space"`
	DisableChecksumVerify   bool   `toml:"disable_checksum_verify"`
}

// SyncConfig controls sync engine behavior (spec §4.10's folder loop).
type SyncConfig struct {
	RemotePollInterval         string `toml:"remote_poll_interval"`
	FullLocalDiscoveryInterval string `toml:"full_local_discovery_interval"`
	VFSMode                    string `toml:"vfs_mode"` // "off" or "suffix_placeholder"
	ConflictReminderInterval   string `toml:"conflict_reminder_interval"`
	DryRun                     bool   `toml:"dry_run"`
	ShutdownTimeout            string `toml:"shutdown_timeout"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
	ForceHTTP11    bool   `toml:"force_http_11"`
}
