package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/davsync/internal/journal"
	"github.com/tonimelisma/davsync/internal/rootid"
)

// scenarioHarness wires a FolderEngine against a fake WebDAV server, a real
// (temp-file) journal store and a temp local root, mirroring the teacher's
// e2e harness but driven entirely in-process (no built binary, no network).
type scenarioHarness struct {
	t         *testing.T
	localRoot string
	store     *journal.Store
	client    *fakeDAVClientHandle
	engine    *FolderEngine
	rootID    rootid.ID
}

type fakeDAVClientHandle struct {
	srv *fakeDAVServer
}

func newScenarioHarness(t *testing.T, selective SelectiveSync) *scenarioHarness {
	t.Helper()

	localRoot := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	store, err := journal.Open(context.Background(), dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	client, srv := newFakeDAVClient(t)

	root := rootid.New("https://dav.example.com/files/scenario")

	engine := NewFolderEngine(EngineConfig{
		RootID: root, LocalRoot: localRoot, RemoteRoot: "/",
		Client: client, Journal: store, Jobs: NewJobQueue(4),
		Bandwidth: NewBandwidthManager(BandwidthUnlimited, 0, 0, BandwidthUnlimited, 0, 0),
		VFS:       NoopVFS{}, Filter: FilterConfig{}, Selective: selective,
	})

	return &scenarioHarness{t: t, localRoot: localRoot, store: store, client: &fakeDAVClientHandle{srv: srv}, engine: engine, rootID: root}
}

func (h *scenarioHarness) writeLocal(rel, content string) {
	h.t.Helper()

	full := filepath.Join(h.localRoot, filepath.FromSlash(rel))
	require.NoError(h.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(h.t, os.WriteFile(full, []byte(content), 0o644))
}

func (h *scenarioHarness) readLocal(rel string) string {
	h.t.Helper()

	data, err := os.ReadFile(filepath.Join(h.localRoot, filepath.FromSlash(rel)))
	require.NoError(h.t, err)

	return string(data)
}

func (h *scenarioHarness) localExists(rel string) bool {
	_, err := os.Stat(filepath.Join(h.localRoot, filepath.FromSlash(rel)))
	return err == nil
}

func (h *scenarioHarness) putRemote(rel, content string) {
	h.t.Helper()

	full := clean(rel)
	h.client.srv.mu.Lock()
	h.client.srv.seq++
	h.client.srv.nodes[full] = &fakeNode{content: []byte(content), etag: "seed-" + full, mtime: time.Now(), fileID: "fid-seed-" + full}
	h.client.srv.ensureParents(full)
	h.client.srv.mu.Unlock()
}

func (h *scenarioHarness) run(t *testing.T) *SyncResult {
	t.Helper()

	result, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	return result
}

// TestScenario_FirstSyncUploadsLocalAndDownloadsRemote covers S1: an empty
// journal, a local-only file and a remote-only file both present at the
// first run converge to both sides holding both files.
func TestScenario_FirstSyncUploadsLocalAndDownloadsRemote(t *testing.T) {
	h := newScenarioHarness(t, nil)

	h.writeLocal("local-only.txt", "from local")
	h.putRemote("remote-only.txt", "from remote")

	result := h.run(t)

	assert.Empty(t, result.FirstErrors)
	assert.True(t, h.localExists("remote-only.txt"))
	assert.Equal(t, "from remote", h.readLocal("remote-only.txt"))

	h.client.srv.mu.Lock()
	_, uploaded := h.client.srv.nodes["local-only.txt"]
	h.client.srv.mu.Unlock()
	assert.True(t, uploaded, "local-only.txt should have been uploaded to the server")
}

// TestScenario_PureUploadPropagatesSecondRunEdit covers S2: a file already
// in sync, edited locally, is re-uploaded on the next run.
func TestScenario_PureUploadPropagatesSecondRunEdit(t *testing.T) {
	h := newScenarioHarness(t, nil)

	h.writeLocal("doc.txt", "version one")
	first := h.run(t)
	assert.Empty(t, first.FirstErrors)

	time.Sleep(10 * time.Millisecond) // ensure a distinguishable mtime
	h.writeLocal("doc.txt", "version two, longer than the first")

	second := h.run(t)
	assert.Empty(t, second.FirstErrors)

	h.client.srv.mu.Lock()
	node := h.client.srv.nodes["doc.txt"]
	h.client.srv.mu.Unlock()

	require.NotNil(t, node)
	assert.Equal(t, "version two, longer than the first", string(node.content))
}

// TestScenario_ConcurrentEditsProduceConflictCopy covers S3: the same path
// changed on both sides between two runs resolves as a conflict, leaving
// the remote version at the original path and the local version renamed
// into a conflict copy.
func TestScenario_ConcurrentEditsProduceConflictCopy(t *testing.T) {
	h := newScenarioHarness(t, nil)

	h.writeLocal("shared.txt", "original")
	first := h.run(t)
	require.Empty(t, first.FirstErrors)

	time.Sleep(10 * time.Millisecond)
	h.writeLocal("shared.txt", "local edit")

	h.client.srv.mu.Lock()
	node := h.client.srv.nodes["shared.txt"]
	h.client.srv.seq++
	h.client.srv.nodes["shared.txt"] = &fakeNode{
		content: []byte("remote edit"), etag: "remote-conflict-etag", mtime: time.Now(), fileID: node.fileID,
	}
	h.client.srv.mu.Unlock()

	second := h.run(t)
	assert.Empty(t, second.FirstErrors)

	entries, err := os.ReadDir(h.localRoot)
	require.NoError(t, err)

	var sawConflictCopy bool

	for _, e := range entries {
		if e.Name() != "shared.txt" && filepath.Ext(e.Name()) == ".txt" {
			sawConflictCopy = sawConflictCopy || (e.Name() != "shared.txt")
		}
	}

	assert.True(t, sawConflictCopy, "expected a conflict-copy file alongside shared.txt, saw: %v", entries)
	assert.Equal(t, "remote edit", h.readLocal("shared.txt"))
}

// fakeSelectiveBlacklist blacklists exactly the paths listed.
type fakeSelectiveBlacklist map[string]bool

func (f fakeSelectiveBlacklist) IsBlacklisted(relPath string) bool { return f[relPath] }
func (f fakeSelectiveBlacklist) IsUndecided(string) bool           { return false }

// TestScenario_SelectiveSyncBlacklistBlocksDownload covers S6: a
// remote-only path under an active blacklist entry never materializes
// locally.
func TestScenario_SelectiveSyncBlacklistBlocksDownload(t *testing.T) {
	selective := fakeSelectiveBlacklist{"excluded-dir": true, "excluded-dir/file.txt": true}
	h := newScenarioHarness(t, selective)

	h.putRemote("excluded-dir/file.txt", "should stay remote-only")
	h.putRemote("kept.txt", "should sync down")

	result := h.run(t)

	assert.Empty(t, result.FirstErrors)
	assert.False(t, h.localExists("excluded-dir/file.txt"))
	assert.True(t, h.localExists("kept.txt"))
}
