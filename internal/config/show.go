package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all four override layers
// (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(rr *ResolvedRoot, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration for root %q\n\n", rr.Name)

	renderRootSection(ew, rr)
	renderFilterSection(ew, &rr.FilterConfig)
	renderTransfersSection(ew, &rr.TransfersConfig)
	renderSafetySection(ew, &rr.SafetyConfig)
	renderSyncSection(ew, &rr.SyncConfig)
	renderLoggingSection(ew, &rr.LoggingConfig)
	renderNetworkSection(ew, &rr.NetworkConfig)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderRootSection(ew *errWriter, rr *ResolvedRoot) {
	ew.printf("[root]\n")
	ew.printf("  name        = %q\n", rr.Name)
	ew.printf("  server_url  = %q\n", rr.ServerURL)
	ew.printf("  remote_path = %q\n", rr.RemotePath)
	ew.printf("  sync_dir    = %q\n", rr.SyncDir)
	ew.printf("  root_id     = %q\n", rr.RootID.String())
	ew.printf("  paused      = %t\n", rr.Paused)

	if rr.StateDir != "" {
		ew.printf("  state_dir   = %q\n", rr.StateDir)
	}

	ew.printf("\n")
}

func renderFilterSection(ew *errWriter, f *FilterConfig) {
	ew.printf("[filter]\n")
	ew.printf("  skip_dotfiles  = %t\n", f.SkipDotfiles)
	ew.printf("  skip_symlinks  = %t\n", f.SkipSymlinks)
	ew.printf("  max_file_size  = %q\n", f.MaxFileSize)
	ew.printf("  ignore_marker  = %q\n", f.IgnoreMarker)

	if len(f.SkipFiles) > 0 {
		ew.printf("  skip_files     = [%s]\n", joinQuoted(f.SkipFiles))
	}

	if len(f.SkipDirs) > 0 {
		ew.printf("  skip_dirs      = [%s]\n", joinQuoted(f.SkipDirs))
	}

	if len(f.SyncPaths) > 0 {
		ew.printf("  sync_paths     = [%s]\n", joinQuoted(f.SyncPaths))
	}

	ew.printf("\n")
}

func renderTransfersSection(ew *errWriter, t *TransfersConfig) {
	ew.printf("[transfers]\n")
	ew.printf("  parallelism          = %d\n", t.Parallelism)
	ew.printf("  chunk_size           = %q\n", t.ChunkSize)
	ew.printf("  chunk_threshold      = %q\n", t.ChunkThreshold)
	ew.printf("  bandwidth_limit_up   = %q\n", t.BandwidthLimitUp)
	ew.printf("  bandwidth_limit_down = %q\n", t.BandwidthLimitDown)

	if t.BandwidthAutoPct > 0 {
		ew.printf("  bandwidth_auto_percent = %d\n", t.BandwidthAutoPct)
	}

	if len(t.BandwidthSchedule) > 0 {
		ew.printf("  bandwidth_schedule:\n")

		for _, e := range t.BandwidthSchedule {
			ew.printf("    - time = %q, limit = %q\n", e.Time, e.Limit)
		}
	}

	ew.printf("\n")
}

func renderSafetySection(ew *errWriter, s *SafetyConfig) {
	ew.printf("[safety]\n")
	ew.printf("  big_folder_threshold_bytes = %d\n", s.BigFolderThresholdBytes)
	ew.printf("  big_delete_percentage      = %d\n", s.BigDeletePercentage)
	ew.printf("  big_delete_min_items       = %d\n", s.BigDeleteMinItems)
	ew.printf("  min_free_space             = %q\n", s.MinFreeSpace)
	ew.printf("  disable_checksum_verify    = %t\n", s.DisableChecksumVerify)
	ew.printf("\n")
}

func renderSyncSection(ew *errWriter, s *SyncConfig) {
	ew.printf("[sync]\n")
	ew.printf("  remote_poll_interval           = %q\n", s.RemotePollInterval)
	ew.printf("  full_local_discovery_interval  = %q\n", s.FullLocalDiscoveryInterval)
	ew.printf("  vfs_mode                       = %q\n", s.VFSMode)
	ew.printf("  conflict_reminder_interval     = %q\n", s.ConflictReminderInterval)
	ew.printf("  dry_run                        = %t\n", s.DryRun)
	ew.printf("  shutdown_timeout               = %q\n", s.ShutdownTimeout)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level          = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file           = %q\n", l.LogFile)
	}

	ew.printf("  log_format         = %q\n", l.LogFormat)
	ew.printf("  log_retention_days = %d\n", l.LogRetentionDays)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", n.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", n.UserAgent)
	}

	ew.printf("  force_http_11   = %t\n", n.ForceHTTP11)
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
