package sync

import (
	"context"
	"fmt"

	"github.com/tonimelisma/davsync/internal/checksum"
	"github.com/tonimelisma/davsync/internal/webdav"
)

// RemoteLister issues depth-one PROPFIND listings against the server and
// flattens them into a path-keyed snapshot, per spec §4.4. Directories
// whose etag matches the journal's stored etag — and whose subtree has no
// touched path — are skipped entirely ("etag-driven subtree pruning").
//
// Grounded on the teacher's observer_remote.go (a Graph /delta poller),
// generalized from delta-token incremental listing to WebDAV's stateless
// PROPFIND-per-directory model: the teacher's "has this drive's delta
// cursor changed" check becomes "has this directory's etag changed",
// recursing only into directories that might have.
type RemoteLister struct {
	client *webdav.Client
}

// NewRemoteLister wraps client.
func NewRemoteLister(client *webdav.Client) *RemoteLister {
	return &RemoteLister{client: client}
}

// JournalEtag resolves the last-known etag for a path, used to decide
// whether a directory's subtree can be pruned.
type JournalEtag func(relPath string) (etag string, known bool)

// List recursively lists the remote tree, starting at rootPath ("" for the
// collection root). touched, if non-nil, forces re-listing of any
// directory containing (or nested under) one of those paths even if its
// etag is unchanged — the counterpart to the local scanner's touched-set
// in ScanDatabaseAndFilesystem mode.
func (l *RemoteLister) List(ctx context.Context, rootPath string, lastEtag JournalEtag, touched map[string]bool) (map[string]RemoteEntry, error) {
	out := make(map[string]RemoteEntry)

	if err := l.walk(ctx, rootPath, lastEtag, touched, out); err != nil {
		return nil, err
	}

	return out, nil
}

func (l *RemoteLister) walk(ctx context.Context, dir string, lastEtag JournalEtag, touched map[string]bool, out map[string]RemoteEntry) error {
	entries, err := l.client.List(ctx, dir, 1)
	if err != nil {
		return fmt.Errorf("sync: listing %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.Path == "" {
			continue // the listed collection itself, not one of its children
		}

		re := toRemoteEntry(e)
		re.Path = joinRemotePath(dir, re.Path)
		out[re.Path] = re

		if re.Kind != ItemKindDirectory {
			continue
		}

		if l.canPrune(re, lastEtag, touched) {
			continue
		}

		if err := l.walk(ctx, re.Path, lastEtag, touched, out); err != nil {
			return err
		}
	}

	return nil
}

// joinRemotePath joins a parent directory with a child name returned by a
// depth-1 PROPFIND, whose Entry.Path is relative to dir rather than to the
// collection root. Without this, every directory's children would be keyed
// by their bare name, colliding across unrelated subtrees.
func joinRemotePath(dir, name string) string {
	switch {
	case dir == "":
		return name
	case name == "":
		return dir
	default:
		return dir + "/" + name
	}
}

// canPrune reports whether dir's subtree can be skipped: its etag matches
// the journal's stored value and no touched path falls under it (spec
// §4.4 "etag-driven subtree pruning").
func (l *RemoteLister) canPrune(dir RemoteEntry, lastEtag JournalEtag, touched map[string]bool) bool {
	if lastEtag == nil {
		return false
	}

	known, ok := lastEtag(dir.Path)
	if !ok || known != dir.ETag {
		return false
	}

	for t := range touched {
		if t == dir.Path || isDescendant(dir.Path, t) {
			return false
		}
	}

	return true
}

func toRemoteEntry(e webdav.Entry) RemoteEntry {
	kind := ItemKindFile
	if e.Kind == webdav.KindDirectory {
		kind = ItemKindDirectory
	}

	var digest checksum.Digest
	if e.ChecksumRaw != "" {
		digest = checksum.ParseRaw(e.ChecksumRaw)
	}

	return RemoteEntry{
		Path:        e.Path,
		Kind:        kind,
		Size:        e.Size,
		Mtime:       e.Mtime,
		ETag:        e.ETag,
		FileID:      e.FileID,
		Perms:       e.Permissions,
		IsSharedMnt: e.IsSharedMnt,
		Checksum:    digest,
	}
}
