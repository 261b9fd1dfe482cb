package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// validateSingleRoot validates one root's fields and records its expanded
// sync_dir for the cross-root uniqueness/overlap checks.
//
// Grounded on the teacher's validateSingleDrive (sync_dir uniqueness) merged
// with validateSingleProfile (required-field checks, per-section override
// validation), since davsync collapses the teacher's two-level
// account/drive model into one Root.
func validateSingleRoot(name string, root *Root, syncDirs map[string]string) []error {
	var errs []error

	if root.ServerURL == "" {
		errs = append(errs, fmt.Errorf("root.%s.server_url: must not be empty", name))
	}

	errs = append(errs, checkRootSyncDirUniqueness(name, root, syncDirs)...)
	errs = append(errs, validateRootOverrides(name, root)...)

	return errs
}

func checkRootSyncDirUniqueness(name string, root *Root, seen map[string]string) []error {
	if root.SyncDir == "" {
		return nil
	}

	expanded := expandTilde(root.SyncDir)

	if other, exists := seen[expanded]; exists {
		return []error{fmt.Errorf("roots %q and %q have the same sync_dir %q", other, name, root.SyncDir)}
	}

	seen[expanded] = name

	for existing, otherName := range seen {
		if otherName == name {
			continue
		}

		if isAncestorOrDescendant(expanded, existing) {
			return []error{fmt.Errorf(
				"sync_dir overlap: roots %q and %q have nested directories (%s, %s)",
				name, otherName, expanded, existing)}
		}
	}

	return nil
}

// isAncestorOrDescendant returns true if a is an ancestor of b or b is an
// ancestor of a. Uses filepath.Separator suffix to avoid false positives
// from path prefixes (e.g. "/dav" vs "/davBackup").
func isAncestorOrDescendant(a, b string) bool {
	aSlash := a + string(filepath.Separator)
	bSlash := b + string(filepath.Separator)

	return strings.HasPrefix(bSlash, aSlash) || strings.HasPrefix(aSlash, bSlash)
}

func validateRootOverrides(name string, root *Root) []error {
	var errs []error

	wrap := func(field string, sub []error) []error {
		out := make([]error, 0, len(sub))
		for _, e := range sub {
			out = append(out, fmt.Errorf("root.%s.%s", name, e.Error()))
		}

		return out
	}

	if root.Filter != nil {
		errs = append(errs, wrap("filter", validateFilter(root.Filter))...)
	}

	if root.Transfers != nil {
		errs = append(errs, wrap("transfers", validateTransfers(root.Transfers))...)
	}

	if root.Safety != nil {
		errs = append(errs, wrap("safety", validateSafety(root.Safety))...)
	}

	if root.Sync != nil {
		errs = append(errs, wrap("sync", validateSync(root.Sync))...)
	}

	if root.Logging != nil {
		errs = append(errs, wrap("logging", validateLogging(root.Logging))...)
	}

	if root.Network != nil {
		errs = append(errs, wrap("network", validateNetwork(root.Network))...)
	}

	return errs
}
