// Package sync implements the engine core: the exclude engine, local
// scanner, remote lister, discovery/reconciler, propagator, bandwidth
// manager, job queue, VFS and folder loop spec.md §4 describes. It is the
// direct generalization of the teacher's internal/sync package (itself
// organized the same way: types.go for vocabulary, planner.go for
// discovery, ledger.go/baseline.go for the journal-adjacent bookkeeping now
// split out into internal/journal, tracker.go/worker.go for the propagator).
package sync

import (
	"time"

	"github.com/tonimelisma/davsync/internal/checksum"
	"github.com/tonimelisma/davsync/internal/journal"
	"github.com/tonimelisma/davsync/internal/webdav"
)

// ItemKind mirrors spec §3's SyncFileItem.kind.
type ItemKind int

const (
	ItemKindFile ItemKind = iota
	ItemKindDirectory
	ItemKindVirtualFile
	ItemKindSoftLink
)

// Direction mirrors spec §3's SyncFileItem.direction.
type Direction int

const (
	DirNone Direction = iota
	DirUp
	DirDown
)

// Instruction mirrors spec §3's SyncFileItem.instruction.
type Instruction int

const (
	InstrNone Instruction = iota
	InstrNew
	InstrUpdateMetadata
	InstrRename
	InstrRemove
	InstrConflict
	InstrIgnore
	InstrError
	InstrSync // placeholder -> file
	InstrUpdateVFSMetadata
	InstrTypeChange
)

// Status mirrors spec §3's SyncFileItem.status.
type Status int

const (
	StatusNoStatus Status = iota
	StatusSuccess
	StatusWarning
	StatusSoftError
	StatusNormalError
	StatusFatalError
	StatusFileLocked
	StatusFileIgnored
	StatusConflict
	StatusRestoration
	StatusBlacklisted
)

// IgnoreReason refines InstrIgnore with the exclude-engine taxonomy (§4.2).
type IgnoreReason int

const (
	IgnoreNone IgnoreReason = iota
	IgnoreTransient
	IgnoreHidden
	IgnoreInvalidName
	IgnoreTraversalDenied
	IgnoreConflictFile
	IgnoreSelectiveSync
)

// SyncItem is the unit of work spec §3 describes: the reconciler emits
// exactly one of these per distinct path encountered in any of the three
// input streams.
type SyncItem struct {
	Path           string
	RenameTarget   string
	Kind           ItemKind
	Direction      Direction
	Instruction    Instruction
	Size           int64
	Mtime          time.Time
	ETag           string
	FileID         string
	Checksum       checksum.Digest
	RemotePerms    webdav.Permissions
	Status         Status
	ErrorString    string
	HTTPErrorCode  int
	LockExpireTime time.Time
	IgnoreReason   IgnoreReason
	ConflictBase   string // set on a conflict item to the path the conflict is about
}

// LocalEntry is one local-scanner observation (spec §4.3).
type LocalEntry struct {
	Path          string
	Kind          ItemKind
	Size          int64
	Mtime         time.Time
	Inode         uint64
	IsPlaceholder bool
	Pin           PinState
	// Checksum is populated only when the caller has already hashed the
	// file (e.g. the reconciler's both-new-at-once tie-break, spec §4.5);
	// the scanner itself never hashes during a walk, since hashing every
	// file on every run would defeat the point of mtime/size change
	// detection (spec §4.3).
	Checksum checksum.Digest
}

// RemoteEntry adapts webdav.Entry to the reconciler's view, adding the
// fields the remote lister contributes beyond the wire shape (§4.4).
type RemoteEntry struct {
	Path        string
	Kind        ItemKind
	Size        int64
	Mtime       time.Time
	ETag        string
	FileID      string
	Perms       webdav.Permissions
	IsSharedMnt bool
	Checksum    checksum.Digest
}

// PinState mirrors spec §3's PinState enum.
type PinState int

const (
	PinInherited PinState = iota
	PinAlwaysLocal
	PinOnlineOnly
	PinUnspecified
)

// Availability mirrors spec §4.9's derived VFS availability.
type Availability int

const (
	AvailAllHydrated Availability = iota
	AvailAllDehydrated
	AvailAlwaysLocal
	AvailOnlineOnly
	AvailMixed
)

// fromJournalKind / toJournalKind convert between the journal package's
// storage-level Kind and this package's domain-level ItemKind — kept as two
// small enums per package, rather than one shared type, so internal/journal
// has no dependency on internal/sync (journal is the lower-level package).
func fromJournalKind(k journal.Kind) ItemKind {
	switch k {
	case journal.KindDirectory:
		return ItemKindDirectory
	case journal.KindVirtualFile:
		return ItemKindVirtualFile
	case journal.KindSoftLink:
		return ItemKindSoftLink
	default:
		return ItemKindFile
	}
}

func toJournalKind(k ItemKind) journal.Kind {
	switch k {
	case ItemKindDirectory:
		return journal.KindDirectory
	case ItemKindVirtualFile:
		return journal.KindVirtualFile
	case ItemKindSoftLink:
		return journal.KindSoftLink
	default:
		return journal.KindFile
	}
}

// ConflictType classifies which side changed in a three-way conflict,
// mirroring the teacher's executor_conflict.go / conflict.go taxonomy.
type ConflictType int

const (
	ConflictEditEdit ConflictType = iota
	ConflictCreateCreate
	ConflictEditDelete
)

// ResolvedBy records who/what resolved a conflict.
type ResolvedBy int

const (
	ResolvedByAuto ResolvedBy = iota
	ResolvedByUser
)

// SyncResult is the per-run outcome the folder loop publishes (spec §7
// "all errors are attached to the SyncResult for the run").
type SyncResult struct {
	Root              string
	ItemsSucceeded    int
	ItemsIgnored      int
	FirstErrors       map[Status]error // first error of each class, verbatim
	ErrorCounts       map[Status]int   // every error of each class, the first included
	AnotherSyncNeeded bool
}

// NewSyncResult builds an empty SyncResult ready for accumulation.
func NewSyncResult(root string) *SyncResult {
	return &SyncResult{
		Root:        root,
		FirstErrors: make(map[Status]error),
		ErrorCounts: make(map[Status]int),
	}
}

// RecordError attaches err under status, preserving the first occurrence of
// each class verbatim and counting every occurrence, the first included (spec §7).
func (r *SyncResult) RecordError(status Status, err error) {
	if _, ok := r.FirstErrors[status]; !ok {
		r.FirstErrors[status] = err
	}

	r.ErrorCounts[status]++
}
