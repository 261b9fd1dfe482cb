package sync

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// maxConflictSuffix bounds the " 2", " 3", ... disambiguation suffix
// search (the number goes inside the "(conflicted copy ...)" marker) so a pathological directory full of same-second conflicts can't
// loop forever. Mirrors the teacher's conflict.go constant of the same name.
const maxConflictSuffix = 1000

// conflictTimeFormat matches spec §6's conflict-file naming:
// "<name> (conflicted copy <ISO-date> <hhmmss>).<ext>".
const conflictTimeFormat = "2006-01-02 150405"

// ConflictPath builds the renamed-local-copy path for a conflicting file
// (spec §4.5 change rule "Lc && Rc"), disambiguating with a numeric suffix
// if the target already exists per exists.
//
// Grounded on the teacher's generateConflictPath/conflictStemExt
// (internal/sync/conflict.go), generalized from a single call site (the
// executor) to a pure function the reconciler can call while building the
// plan, since spec §4.5 classifies conflicts during discovery rather than
// propagation.
func ConflictPath(originalPath string, at time.Time, exists func(string) bool) string {
	stem, ext := conflictStemExt(originalPath)
	base := fmt.Sprintf("%s (conflicted copy %s)%s", stem, at.UTC().Format(conflictTimeFormat), ext)

	if exists == nil || !exists(base) {
		return base
	}

	for n := 2; n <= maxConflictSuffix; n++ {
		candidate := fmt.Sprintf("%s (conflicted copy %s %d)%s", stem, at.UTC().Format(conflictTimeFormat), n, ext)
		if !exists(candidate) {
			return candidate
		}
	}

	// Exhausted the suffix space; return the last candidate and let the
	// propagator surface an error rather than silently overwrite.
	return fmt.Sprintf("%s (conflicted copy %s %d)%s", stem, at.UTC().Format(conflictTimeFormat), maxConflictSuffix, ext)
}

// conflictStemExt splits relPath into directory+basename-without-extension
// and the extension (including the leading dot), so the conflict marker is
// inserted before the extension rather than appended after it.
func conflictStemExt(relPath string) (stem, ext string) {
	dir, base := path.Split(relPath)

	ext = path.Ext(base)
	stem = strings.TrimSuffix(base, ext)

	return dir + stem, ext
}
