package sync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/davsync/internal/journal"
	"github.com/tonimelisma/davsync/internal/rootid"
)

func newOrchestratorTestRoot(t *testing.T, name string) (*Orchestrator, *journal.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "journal.db")
	store, err := journal.Open(context.Background(), dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	o := NewOrchestrator(NewJobQueue(4), NewBandwidthManager(BandwidthUnlimited, 0, 0, BandwidthUnlimited, 0, 0), nil)

	client, _ := newFakeDAVClient(t)
	root := rootid.New("https://dav.example.com/files/" + name)

	_, err = o.Register(RootConfig{
		RootID: root, Name: name, LocalRoot: t.TempDir(), RemoteRoot: "/",
		Engine: EngineConfig{Client: client, Journal: store, VFS: NoopVFS{}},
	})
	require.NoError(t, err)

	return o, store
}

func TestOrchestrator_RegisterRejectsDuplicateName(t *testing.T) {
	o, _ := newOrchestratorTestRoot(t, "home")

	_, err := o.Register(RootConfig{Name: "home"})
	assert.Error(t, err)
}

func TestOrchestrator_NamesAndEngineLookup(t *testing.T) {
	o, _ := newOrchestratorTestRoot(t, "home")

	assert.Equal(t, []string{"home"}, o.Names())
	assert.NotNil(t, o.Engine("home"))
	assert.Nil(t, o.Engine("missing"))
}

func TestOrchestrator_UnregisterRemovesRoot(t *testing.T) {
	o, _ := newOrchestratorTestRoot(t, "home")

	o.Unregister("home")

	assert.Empty(t, o.Names())
	assert.Nil(t, o.Engine("home"))
}

func TestOrchestrator_RunAllCollectsPerRootResults(t *testing.T) {
	o, _ := newOrchestratorTestRoot(t, "alpha")

	dbPath := filepath.Join(t.TempDir(), "journal.db")
	store2, err := journal.Open(context.Background(), dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store2.Close() })

	client2, _ := newFakeDAVClient(t)
	root2 := rootid.New("https://dav.example.com/files/beta")

	_, err = o.Register(RootConfig{
		RootID: root2, Name: "beta", LocalRoot: t.TempDir(), RemoteRoot: "/",
		Engine: EngineConfig{Client: client2, Journal: store2, VFS: NoopVFS{}},
	})
	require.NoError(t, err)

	results := o.RunAll(context.Background())

	require.Contains(t, results, "alpha")
	require.Contains(t, results, "beta")
	assert.NotNil(t, results["alpha"])
	assert.NotNil(t, results["beta"])
}
