package sync

import (
	"sort"
	"strings"
	"time"

	"github.com/tonimelisma/davsync/internal/checksum"
	"github.com/tonimelisma/davsync/internal/journal"
	"github.com/tonimelisma/davsync/internal/webdav"
)

// SelectiveSync answers the blacklist/whitelist/undecided membership
// questions discovery needs (spec §4.1, §4.5 "Selective sync").
type SelectiveSync interface {
	IsBlacklisted(relPath string) bool
	IsUndecided(relPath string) bool
}

// BigFolderGuard decides whether a newly discovered remote directory's
// recursive size trips the "undecided, demote to ignore" rule (spec §4.5
// "Big-folder guard"). recursiveSize is 0 when unknown (e.g. an empty new
// directory), which never trips the guard.
type BigFolderGuard struct {
	ThresholdBytes int64
	RecursiveSize  func(dirPath string) int64
	// OnNewBigFolder is invoked once per directory that trips the guard so
	// the caller can raise the spec §6 `new_big_folder` event and persist
	// the undecided-list entry.
	OnNewBigFolder func(dirPath string)
}

// ReconcileInput bundles the three snapshots plus policy collaborators
// discovery needs to classify every path (spec §4.5).
type ReconcileInput struct {
	Local           map[string]LocalEntry
	Remote          map[string]RemoteEntry
	Journal         map[string]*journal.Record
	JournalByFileID map[string]*journal.Record
	Exclude         *ExcludeEngine
	Selective       SelectiveSync
	BigFolders      *BigFolderGuard
	Now             time.Time
	ConflictExists  func(candidatePath string) bool
	// ErrorBlacklist looks up a path's persisted error-blacklist entry, or
	// nil if none exists (spec §4.1's error_blacklist table). A path still
	// inside its ignore_until backoff window is demoted to ignore rather
	// than redispatched every run (spec §4.1 "normal expires with
	// exponential backoff").
	ErrorBlacklist func(path string) *journal.BlacklistEntry
}

// Reconcile joins the three input streams into the ordered SyncItem plan
// spec §4.5 describes: exactly one SyncItem per distinct path, classified
// by the L/R/J presence matrix, with move detection, the big-folder guard,
// selective-sync suppression and type-change handling applied before the
// final ordering pass.
//
// Grounded on the teacher's reconciler.go/planner.go (the pack's own
// history shows two overlapping discovery implementations — see DESIGN.md
// — synthesized here into the one path spec §4.5 names), generalized from
// OneDrive delta-cursor classification to the (local, remote, journal)
// three-way matrix spec §3 enumerates verbatim.
func Reconcile(in ReconcileInput) ([]*SyncItem, error) {
	paths := unionPaths(in.Local, in.Remote, in.Journal)

	byPath := make(map[string]*SyncItem, len(paths))

	for _, p := range paths {
		item := classifyPath(p, in)
		byPath[p] = item
	}

	applyMoveDetection(byPath, in)
	applySelectiveSync(byPath, in)
	applyBigFolderGuard(byPath, in)
	applyErrorBlacklist(byPath, in)

	items := make([]*SyncItem, 0, len(byPath))
	for _, item := range byPath {
		if item != nil {
			items = append(items, item)
		}
	}

	orderPlan(items)

	return items, nil
}

func unionPaths(local map[string]LocalEntry, remote map[string]RemoteEntry, jr map[string]*journal.Record) []string {
	seen := make(map[string]bool, len(local)+len(remote)+len(jr))

	for p := range local {
		seen[p] = true
	}

	for p := range remote {
		seen[p] = true
	}

	for p := range jr {
		seen[p] = true
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}

	return out
}

// classifyPath applies spec §4.5's classification matrix to one path.
func classifyPath(p string, in ReconcileInput) *SyncItem {
	l, hasL := in.Local[p]
	r, hasR := in.Remote[p]
	j := in.Journal[p]

	if in.Exclude != nil {
		isDir := (hasL && l.Kind == ItemKindDirectory) || (hasR && r.Kind == ItemKindDirectory)
		if reason := in.Exclude.Classify(p, isDir); reason != IgnoreNone {
			return &SyncItem{Path: p, Instruction: InstrIgnore, IgnoreReason: reason, Kind: kindOf(hasL, l, hasR, r)}
		}
	}

	switch {
	case !hasL && !hasR && j == nil:
		return nil // "ignore": nothing to say about a path nobody mentions
	case hasL && !hasR && j == nil:
		return newItem(p, l, DirUp, InstrNew)
	case !hasL && hasR && j == nil:
		return downloadItem(p, r, InstrNew)
	case hasL && hasR && j == nil:
		return classifyBothNew(p, l, r, in)
	case hasL && !hasR && j != nil:
		return classifyRemoteRemoved(p, l, j)
	case !hasL && hasR && j != nil:
		return classifyLocalRemoved(p, r, j)
	case hasL && hasR && j != nil:
		return classifyChange(p, l, r, j, in)
	case !hasL && !hasR && j != nil:
		return &SyncItem{Path: p, Instruction: InstrRemove, Direction: DirNone, Status: StatusSuccess} // purge
	default:
		return nil
	}
}

func kindOf(hasL bool, l LocalEntry, hasR bool, r RemoteEntry) ItemKind {
	if hasL {
		return l.Kind
	}

	if hasR {
		return r.Kind
	}

	return ItemKindFile
}

func newItem(p string, l LocalEntry, dir Direction, instr Instruction) *SyncItem {
	return &SyncItem{
		Path: p, Kind: l.Kind, Direction: dir, Instruction: instr,
		Size: l.Size, Mtime: l.Mtime, Status: StatusNoStatus,
	}
}

func downloadItem(p string, r RemoteEntry, instr Instruction) *SyncItem {
	return &SyncItem{
		Path: p, Kind: r.Kind, Direction: DirDown, Instruction: instr,
		Size: r.Size, Mtime: r.Mtime, ETag: r.ETag, FileID: r.FileID,
		RemotePerms: r.Perms, Checksum: r.Checksum, Status: StatusNoStatus,
	}
}

// classifyBothNew handles "both sides new at same path" (spec §4.5: L=✓
// R=✓ J=∅): a conflict unless the content is provably identical.
func classifyBothNew(p string, l LocalEntry, r RemoteEntry, in ReconcileInput) *SyncItem {
	if l.Kind == ItemKindDirectory && r.Kind == ItemKindDirectory {
		return &SyncItem{Path: p, Kind: ItemKindDirectory, Instruction: InstrNone, Status: StatusSuccess}
	}

	if l.Size == r.Size && l.Checksum.Algorithm != checksum.None && l.Checksum.Equal(r.Checksum) {
		return &SyncItem{Path: p, Kind: l.Kind, Instruction: InstrNone, Status: StatusSuccess}
	}

	return makeConflict(p, l, r, in, ConflictCreateCreate)
}

// classifyRemoteRemoved handles L=✓ R=∅ J=✓: the remote side deleted a
// path the journal last saw. If local is unchanged since, propagate the
// deletion downward; otherwise the local edit survives as a conflict.
func classifyRemoteRemoved(p string, l LocalEntry, j *journal.Record) *SyncItem {
	if !localChanged(l, j) {
		return &SyncItem{Path: p, Kind: l.Kind, Direction: DirDown, Instruction: InstrRemove, Status: StatusNoStatus}
	}

	return &SyncItem{
		Path: p, Kind: l.Kind, Instruction: InstrConflict, Status: StatusConflict,
		ErrorString: "remote removed but local copy was modified",
	}
}

// classifyLocalRemoved handles L=∅ R=✓ J=✓: the local side deleted a path
// the journal last saw.
func classifyLocalRemoved(p string, r RemoteEntry, j *journal.Record) *SyncItem {
	if !remoteChanged(r, j) {
		return &SyncItem{Path: p, Kind: r.Kind, Direction: DirUp, Instruction: InstrRemove, Status: StatusNoStatus}
	}

	return &SyncItem{
		Path: p, Kind: r.Kind, Instruction: InstrConflict, Status: StatusConflict,
		ETag: r.ETag, FileID: r.FileID, RemotePerms: r.Perms,
		ErrorString: "local removed but remote copy was modified",
	}
}

// localChanged mirrors spec §4.5's Lc: "mtime or size differs (for
// hydrated files) or checksum differs when both are available".
func localChanged(l LocalEntry, j *journal.Record) bool {
	if l.IsPlaceholder {
		return false
	}

	if l.Size != j.Size {
		return true
	}

	if !l.Mtime.Equal(time.Unix(0, j.Mtime)) {
		return true
	}

	comparable := l.Checksum.Algorithm != checksum.None && l.Checksum.Algorithm == j.Checksum.Algorithm

	return comparable && !l.Checksum.Equal(j.Checksum)
}

// remoteChanged mirrors spec §4.5's Rc: "etag differs".
func remoteChanged(r RemoteEntry, j *journal.Record) bool {
	return r.ETag != j.ETag
}

// classifyChange applies spec §4.5's "Change rules (L,R,J all present)".
func classifyChange(p string, l LocalEntry, r RemoteEntry, j *journal.Record, in ReconcileInput) *SyncItem {
	if l.Kind != r.Kind && !(l.Kind == ItemKindVirtualFile && r.Kind == ItemKindFile) {
		return &SyncItem{Path: p, Kind: l.Kind, Instruction: InstrTypeChange, Direction: DirDown, Status: StatusNoStatus}
	}

	lc := localChanged(l, j)
	rc := remoteChanged(r, j)

	switch {
	case !lc && !rc:
		if j.RemotePerms != uint16(r.Perms) {
			return &SyncItem{Path: p, Kind: l.Kind, Instruction: InstrUpdateMetadata, RemotePerms: r.Perms, Status: StatusNoStatus}
		}

		return &SyncItem{Path: p, Kind: l.Kind, Instruction: InstrNone, Status: StatusSuccess}
	case lc && !rc:
		return &SyncItem{
			Path: p, Kind: l.Kind, Direction: DirUp, Instruction: InstrNew,
			Size: l.Size, Mtime: l.Mtime, ETag: r.ETag, RemotePerms: r.Perms, Status: StatusNoStatus,
		}
	case !lc && rc:
		return &SyncItem{
			Path: p, Kind: r.Kind, Direction: DirDown, Instruction: InstrNew,
			Size: r.Size, Mtime: r.Mtime, ETag: r.ETag, FileID: r.FileID,
			RemotePerms: r.Perms, Checksum: r.Checksum, Status: StatusNoStatus,
		}
	default:
		return makeConflict(p, l, r, in, ConflictEditEdit)
	}
}

// makeConflict implements spec §4.5's "Lc && Rc" rule: keep the server
// version at the original path, rename the local copy to a conflict-copy
// name, and queue both halves as new on their respective sides.
func makeConflict(p string, l LocalEntry, r RemoteEntry, in ReconcileInput, kind ConflictType) *SyncItem {
	conflictPath := ConflictPath(p, in.Now, in.ConflictExists)

	return &SyncItem{
		Path: p, RenameTarget: conflictPath, Kind: l.Kind,
		Direction: DirDown, Instruction: InstrConflict, Status: StatusConflict,
		Size: r.Size, Mtime: r.Mtime, ETag: r.ETag, FileID: r.FileID,
		RemotePerms: r.Perms, Checksum: r.Checksum,
		ConflictBase: p,
	}
}

// applyMoveDetection collapses a remote-removed/local-removed pair into a
// single InstrRename when file_id or inode evidence proves it's the same
// object at a new path (spec §4.5 "Move detection").
func applyMoveDetection(byPath map[string]*SyncItem, in ReconcileInput) {
	detectRemoteMoves(byPath, in)
	detectLocalMoves(byPath, in)
}

// detectRemoteMoves finds a remote-side rename: the journal's old path is
// now locally-removed-and-remote-gone (pruned from this run's remote
// listing), while a *different* path newly appeared on the remote side
// carrying the same file_id.
func detectRemoteMoves(byPath map[string]*SyncItem, in ReconcileInput) {
	for newPath, r := range in.Remote {
		if r.FileID == "" {
			continue
		}

		oldRec, ok := in.JournalByFileID[r.FileID]
		if !ok || oldRec.Path == newPath {
			continue
		}

		oldItem, hasOld := byPath[oldRec.Path]
		if !hasOld || oldItem.Instruction != InstrRemove {
			continue // old path wasn't classified as a remote-side disappearance
		}

		if _, stillLocal := in.Local[oldRec.Path]; stillLocal {
			continue // local still has the old name; not a clean rename
		}

		srcOK := webdav.Permissions(oldRec.RemotePerms).Has(webdav.PermRename) || webdav.Permissions(oldRec.RemotePerms).Has(webdav.PermMove)
		dstOK := r.Perms.Has(webdav.PermAddFile) || r.Perms.Has(webdav.PermAddSubdirs)

		if !srcOK || !dstOK {
			continue // forbidden: remains remove+new (spec §4.5)
		}

		newItemAtNew, hasNew := byPath[newPath]
		if hasNew && newItemAtNew.Instruction != InstrNew && newItemAtNew.Instruction != InstrIgnore {
			continue
		}

		delete(byPath, newPath)
		byPath[oldRec.Path] = &SyncItem{
			Path: oldRec.Path, RenameTarget: newPath, Kind: oldItem.Kind,
			Direction: DirDown, Instruction: InstrRename, Status: StatusNoStatus,
			ETag: r.ETag, FileID: r.FileID, RemotePerms: r.Perms,
		}
	}
}

// detectLocalMoves finds a local-side rename using inode equality between
// a vanished journal path and a newly-appeared local path, corroborated by
// size equality (spec §4.5, applied symmetrically to the local side since
// the local filesystem carries no file_id).
func detectLocalMoves(byPath map[string]*SyncItem, in ReconcileInput) {
	vanishedByInode := make(map[uint64]*journal.Record)

	for p, rec := range in.Journal {
		if rec.Inode == 0 {
			continue
		}

		if _, stillPresent := in.Local[p]; stillPresent {
			continue
		}

		item, ok := byPath[p]
		if !ok || item.Instruction != InstrRemove {
			continue
		}

		vanishedByInode[rec.Inode] = rec
	}

	for newPath, l := range in.Local {
		if l.Inode == 0 {
			continue
		}

		oldRec, ok := vanishedByInode[l.Inode]
		if !ok || oldRec.Path == newPath {
			continue
		}

		if oldRec.Size != l.Size {
			continue
		}

		newItemAtNew, hasNew := byPath[newPath]
		if hasNew && newItemAtNew.Instruction != InstrNew {
			continue
		}

		perms := webdav.Permissions(oldRec.RemotePerms)
		if !perms.Has(webdav.PermRename) && !perms.Has(webdav.PermMove) {
			continue // forbidden: remains remove+new (spec §4.5)
		}

		delete(byPath, newPath)
		byPath[oldRec.Path] = &SyncItem{
			Path: oldRec.Path, RenameTarget: newPath, Kind: l.Kind,
			Direction: DirUp, Instruction: InstrRename, Status: StatusNoStatus,
		}
	}
}

// applySelectiveSync demotes blacklisted paths to InstrIgnore and queues
// any existing local copy for removal (spec §4.5 "Selective sync").
func applySelectiveSync(byPath map[string]*SyncItem, in ReconcileInput) {
	if in.Selective == nil {
		return
	}

	for p, item := range byPath {
		if item == nil || !in.Selective.IsBlacklisted(p) {
			continue
		}

		hasLocalCopy := false
		if l, ok := in.Local[p]; ok {
			hasLocalCopy = !l.IsPlaceholder
		}

		if hasLocalCopy {
			byPath[p] = &SyncItem{Path: p, Kind: item.Kind, Direction: DirDown, Instruction: InstrRemove, Status: StatusFileIgnored}
		} else {
			byPath[p] = &SyncItem{Path: p, Kind: item.Kind, Instruction: InstrIgnore, IgnoreReason: IgnoreSelectiveSync, Status: StatusFileIgnored}
		}
	}
}

// applyBigFolderGuard demotes a newly-discovered remote directory (and
// everything under it) to undecided/ignore when its recursive size trips
// the configured threshold (spec §4.5 "Big-folder guard").
func applyBigFolderGuard(byPath map[string]*SyncItem, in ReconcileInput) {
	if in.BigFolders == nil || in.BigFolders.RecursiveSize == nil {
		return
	}

	for p, item := range byPath {
		if item == nil || item.Instruction != InstrNew || item.Kind != ItemKindDirectory || item.Direction != DirDown {
			continue
		}

		size := in.BigFolders.RecursiveSize(p)
		if size < in.BigFolders.ThresholdBytes {
			continue
		}

		for q, qi := range byPath {
			if q == p || isDescendant(p, q) {
				if qi == nil {
					continue
				}

				byPath[q] = &SyncItem{Path: q, Kind: qi.Kind, Instruction: InstrIgnore, IgnoreReason: IgnoreSelectiveSync, Status: StatusFileIgnored}
			}
		}

		if in.BigFolders.OnNewBigFolder != nil {
			in.BigFolders.OnNewBigFolder(p)
		}
	}
}

// applyErrorBlacklist demotes any item still inside its persisted
// error-blacklist backoff window to ignore, so a path that failed on a
// prior run isn't redispatched on every subsequent run before its
// ignore_until has elapsed (spec §4.1).
func applyErrorBlacklist(byPath map[string]*SyncItem, in ReconcileInput) {
	if in.ErrorBlacklist == nil {
		return
	}

	for p, item := range byPath {
		if item == nil || item.Instruction == InstrIgnore || item.Instruction == InstrNone {
			continue
		}

		entry := in.ErrorBlacklist(p)
		if entry == nil {
			continue
		}

		if in.Now.Before(time.Unix(0, entry.IgnoreUntil)) {
			byPath[p] = &SyncItem{
				Path: p, Kind: item.Kind, Instruction: InstrIgnore, Status: StatusBlacklisted,
				ErrorString: entry.ErrorString,
			}
		}
	}
}

// orderPlan sorts items so that (spec §4.5 "Ordering"): every item's
// directory-creating ancestors precede it, every descendant removal
// precedes its own removal, and within a directory, deletes precede
// creates. Emitting all InstrRemove items (deepest path first) ahead of
// every other instruction (shallowest path first) satisfies all three
// simultaneously — a stronger guarantee than required, which the
// propagator's own per-item barriers (spec §4.6) rely on as a starting
// order, not a substitute for them.
func orderPlan(items []*SyncItem) {
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := items[i].Instruction == InstrRemove, items[j].Instruction == InstrRemove

		if ri != rj {
			return ri // removals first
		}

		if ri {
			return depth(items[i].Path) > depth(items[j].Path) // deepest removal first
		}

		return depth(items[i].Path) < depth(items[j].Path) // shallowest creation first
	})
}

func depth(p string) int {
	if p == "" {
		return 0
	}

	return strings.Count(p, "/")
}
