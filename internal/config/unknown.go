package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownGlobalKeys are the valid flat top-level keys in the config file.
// These correspond to fields in the embedded sub-config structs. "root" is
// deliberately absent — its sub-keys are validated separately by
// checkRootUnknownKeys, since BurntSushi's decoder already resolves
// "[root.NAME]" as a map entry rather than leaving it fully undecoded.
var knownGlobalKeys = map[string]bool{
	// Filter settings
	"skip_files": true, "skip_dirs": true, "skip_dotfiles": true,
	"skip_symlinks": true, "max_file_size": true, "sync_paths": true, "ignore_marker": true,
	"case_insensitive_local_fs": true,
	// Transfer settings
	"parallelism": true, "chunk_size": true, "chunk_threshold": true,
	"bandwidth_limit_up": true, "bandwidth_limit_down": true, "bandwidth_auto_percent": true,
	"bandwidth_schedule": true,
	// Safety settings
	"big_folder_threshold_bytes": true, "big_delete_percentage": true, "big_delete_min_items": true,
	"min_free_space": true, "disable_checksum_verify": true,
	// Sync settings
	"remote_poll_interval": true, "full_local_discovery_interval": true, "vfs_mode": true,
	"conflict_reminder_interval": true, "dry_run": true, "shutdown_timeout": true,
	// Logging settings
	"log_level": true, "log_file": true, "log_format": true, "log_retention_days": true,
	// Network settings
	"connect_timeout": true, "data_timeout": true, "user_agent": true, "force_http_11": true,
}

// knownGlobalKeysList is the sorted slice form of knownGlobalKeys for
// Levenshtein matching. Sorted for deterministic suggestions when two
// candidates have the same edit distance.
var knownGlobalKeysList = sortedKeys(knownGlobalKeys)

// knownRootKeys are the valid keys inside a "[root.NAME]" table, including
// the per-root section-override names (whose own sub-fields reuse
// knownGlobalKeys' validation via the decoder's own struct tags).
var knownRootKeys = map[string]bool{
	"server_url": true, "remote_path": true, "sync_dir": true, "credential_file": true,
	"state_dir": true, "paused": true,
	"filter": true, "transfers": true, "safety": true, "sync": true, "logging": true, "network": true,
}

var knownRootKeysList = sortedKeys(knownRootKeys)

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with "did you mean?" suggestions for each unknown key. Keys under
// "root.NAME...." are delegated to checkRootUnknownKeys's naming scheme.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		keyStr := key.String()

		parts := strings.SplitN(keyStr, ".", 3)
		if parts[0] == "root" {
			if err := buildRootKeyError(parts); err != nil {
				errs = append(errs, err)
			}

			continue
		}

		if err := buildGlobalKeyError(keyStr); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// buildGlobalKeyError creates a descriptive error for an unknown top-level key,
// optionally suggesting the closest known key. Returns nil if the key is a
// valid sub-field of a known key (e.g., bandwidth_schedule entries).
func buildGlobalKeyError(keyStr string) error {
	parts := strings.SplitN(keyStr, ".", 2)
	fieldName := parts[0]

	if len(parts) > 1 && knownGlobalKeys[fieldName] {
		return nil // parent is known, sub-field is expected (e.g. array-of-tables)
	}

	suggestion := closestMatch(fieldName, knownGlobalKeysList)
	if suggestion != "" {
		return fmt.Errorf("unknown config key %q — did you mean %q?", fieldName, suggestion)
	}

	return fmt.Errorf("unknown config key %q", fieldName)
}

// buildRootKeyError validates "root.NAME.field..." keys. parts[0] is always
// "root"; parts[1] is the root name; parts[2], if present, is the field (or
// a nested section.field path, e.g. "filter.skip_files").
func buildRootKeyError(parts []string) error {
	if len(parts) < 3 {
		return nil // "root.NAME" itself — a known table
	}

	fieldName := strings.SplitN(parts[2], ".", 2)[0]
	if knownRootKeys[fieldName] {
		return nil
	}

	suggestion := closestMatch(fieldName, knownRootKeysList)
	if suggestion != "" {
		return fmt.Errorf("unknown key %q in root %q — did you mean %q?", fieldName, parts[1], suggestion)
	}

	return fmt.Errorf("unknown key %q in root %q", fieldName, parts[1])
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
