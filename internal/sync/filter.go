package sync

import (
	"path"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

// davIllegalChars are characters a WebDAV server is known to reject in a
// resource name (Windows' reserved set minus the path separators, since the local peer
// may be any OS but the server is the strict side). Mirrors the teacher's
// oneDriveIllegalChars in internal/sync/filter.go, generalized from
// OneDrive's specific set to the WebDAV-safe common subset.
const davIllegalChars = `*:<>?|"`

// HiddenPolicy controls whether dotfiles/dot-directories participate in
// sync, a per-root policy per spec §4.2 ("Hidden-file handling is
// policy-driven per root").
type HiddenPolicy int

const (
	HiddenExcluded HiddenPolicy = iota
	HiddenIncluded
)

// FilterConfig configures one root's ExcludeEngine.
type FilterConfig struct {
	// Patterns are doublestar `**`-glob exclude patterns (spec §4.2), merged
	// from system defaults and user config, evaluated relative to the root.
	Patterns []string
	Hidden   HiddenPolicy
}

// ExcludeEngine classifies a path the way spec §4.2 describes: a compiled
// matcher over merged system/user exclude patterns, consulted by
// discovery and cached per sync run.
//
// Grounded on the teacher's FilterEngine (internal/sync/filter.go), which
// combined an .odignore gitignore-style file with hardcoded OneDrive name
// validation; generalized to use doublestar for `**` patterns (spec §4.2
// explicitly requires `**` glob support, which the teacher's simple
// strings.HasSuffix matching did not provide) and sabhiram/go-gitignore for
// the per-root ".davignore" file, both libraries already in the pack via
// OpenMined-syftbox.
type ExcludeEngine struct {
	patterns []string
	hidden   HiddenPolicy

	mu      sync.Mutex
	ignoreFile *ignore.GitIgnore
	cache   map[string]IgnoreReason
}

// NewExcludeEngine compiles cfg into a ready matcher. ignoreFileContent is
// the parsed content of a root-level ".davignore" file, or empty.
func NewExcludeEngine(cfg FilterConfig, ignoreFileContent string) *ExcludeEngine {
	e := &ExcludeEngine{
		patterns: append([]string(nil), cfg.Patterns...),
		hidden:   cfg.Hidden,
		cache:    make(map[string]IgnoreReason),
	}

	if strings.TrimSpace(ignoreFileContent) != "" {
		if gi := ignore.CompileIgnoreLines(strings.Split(ignoreFileContent, "\n")...); gi != nil {
			e.ignoreFile = gi
		}
	}

	return e
}

// reservedSuffixes are name suffixes auto-excluded regardless of user
// config: the journal database's WAL/SHM companions (spec §6 "these
// paths are auto-excluded"); the .sync_*.db file itself is matched in classify.
var reservedSuffixes = []string{"-wal", "-shm"}

// Classify reports path's exclude status per spec §4.2's taxonomy. Results
// are cached for the lifetime of the ExcludeEngine (one sync run).
func (e *ExcludeEngine) Classify(relPath string, isDir bool) IgnoreReason {
	e.mu.Lock()
	if r, ok := e.cache[relPath]; ok {
		e.mu.Unlock()
		return r
	}
	e.mu.Unlock()

	r := e.classify(relPath, isDir)

	e.mu.Lock()
	e.cache[relPath] = r
	e.mu.Unlock()

	return r
}

func (e *ExcludeEngine) classify(relPath string, isDir bool) IgnoreReason {
	base := path.Base(relPath)

	if isConflictCopyName(base) {
		return IgnoreConflictFile
	}

	if reason, invalid := invalidName(base); invalid {
		_ = reason
		return IgnoreInvalidName
	}

	if strings.Contains(relPath, "..") {
		return IgnoreTraversalDenied
	}

	for _, suf := range reservedSuffixes {
		if strings.HasSuffix(base, suf) {
			return IgnoreTransient
		}
	}

	if strings.HasPrefix(base, ".sync_") && strings.HasSuffix(base, ".db") {
		return IgnoreTransient
	}

	if isTransientName(base) {
		return IgnoreTransient
	}

	if e.hidden == HiddenExcluded && strings.HasPrefix(base, ".") {
		return IgnoreHidden
	}

	for _, pat := range e.patterns {
		if matched, _ := doublestar.Match(pat, relPath); matched {
			return IgnoreTransient
		}

		// A pattern that names a directory also covers every path under it.
		if matched, _ := doublestar.Match(strings.TrimSuffix(pat, "/")+"/**", relPath); matched {
			return IgnoreTransient
		}
	}

	if e.ignoreFile != nil && e.ignoreFile.MatchesPath(relPath) {
		return IgnoreTransient
	}

	return IgnoreNone
}

// isTransientName reports whether base looks like a partial-download or
// editor scratch file (spec §4.2 "excluded_transient (e.g. temp files;
// sync may retry later)").
func isTransientName(base string) bool {
	switch {
	case strings.HasSuffix(base, ".tmp"), strings.HasSuffix(base, ".part"):
		return true
	case strings.HasPrefix(base, "~$"):
		return true
	case strings.Contains(base, ".~") && strings.Contains(base, "~"):
		// partial-download scratch pattern "<name>.~<rand>" (spec §6).
		idx := strings.LastIndex(base, ".~")
		return idx >= 0
	default:
		return false
	}
}

// invalidName reports whether base is an OS-reserved or otherwise
// server-illegal resource name.
func invalidName(base string) (string, bool) {
	if base == "" || base == "." || base == ".." {
		return "reserved name", true
	}

	if strings.ContainsAny(base, davIllegalChars) {
		return "illegal character", true
	}

	if strings.HasSuffix(base, " ") || strings.HasSuffix(base, ".") {
		return "trailing space or dot", true
	}

	return "", false
}

// isConflictCopyName matches the conflict-file naming spec §6 mandates:
// "<name> (conflicted copy <ISO-date> <hhmmss>).<ext>".
func isConflictCopyName(base string) bool {
	return strings.Contains(base, " (conflicted copy ")
}
