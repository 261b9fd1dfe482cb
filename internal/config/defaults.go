package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and are chosen to be safe, reasonable
// starting points that work for most users without any config file.
const (
	defaultIgnoreMarker        = ".davignore"
	defaultMaxFileSize         = "50GB"
	defaultParallelism         = 6 // spec §4.6: 6, or 20 once HTTP/2 is negotiated
	defaultChunkSize           = "10MiB"
	defaultChunkThreshold      = "10MiB"
	defaultBandwidthLimit      = "0"
	defaultBigFolderThreshold  = 500_000_000 // 500 MB, spec §4.5 "big-folder guard"
	defaultBigDeletePercentage = 50
	defaultBigDeleteMinItems   = 10
	defaultMinFreeSpace        = "1GB"
	defaultRemotePollInterval  = "30s"
	defaultFullDiscoveryInterval = "1h"
	defaultVFSMode             = "off"
	defaultConflictReminder    = "1h"
	defaultShutdownTimeout     = "30s"
	defaultLogLevel            = "info"
	defaultLogFormat           = "auto"
	defaultLogRetentionDays    = 30
	defaultConnectTimeout      = "10s"
	defaultDataTimeout         = "60s"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Filter:    defaultFilterConfig(),
		Transfers: defaultTransfersConfig(),
		Safety:    defaultSafetyConfig(),
		Sync:      defaultSyncConfig(),
		Logging:   defaultLoggingConfig(),
		Network:   defaultNetworkConfig(),
		Roots:     make(map[string]Root),
	}
}

func defaultFilterConfig() FilterConfig {
	return FilterConfig{
		SkipDotfiles: false,
		SkipSymlinks: false,
		MaxFileSize:  defaultMaxFileSize,
		IgnoreMarker: defaultIgnoreMarker,
	}
}

func defaultTransfersConfig() TransfersConfig {
	return TransfersConfig{
		Parallelism:    defaultParallelism,
		ChunkSize:      defaultChunkSize,
		ChunkThreshold: defaultChunkThreshold,
		BandwidthLimitUp:   defaultBandwidthLimit,
		BandwidthLimitDown: defaultBandwidthLimit,
	}
}

func defaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		BigFolderThresholdBytes: defaultBigFolderThreshold,
		BigDeletePercentage:     defaultBigDeletePercentage,
		BigDeleteMinItems:       defaultBigDeleteMinItems,
		MinFreeSpace:            defaultMinFreeSpace,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		RemotePollInterval:         defaultRemotePollInterval,
		FullLocalDiscoveryInterval: defaultFullDiscoveryInterval,
		VFSMode:                    defaultVFSMode,
		ConflictReminderInterval:   defaultConflictReminder,
		ShutdownTimeout:            defaultShutdownTimeout,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
		LogRetentionDays: defaultLogRetentionDays,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
	}
}
