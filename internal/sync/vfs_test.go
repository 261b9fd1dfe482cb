package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPinStore struct {
	pins map[string]PinState
}

func newMemPinStore() *memPinStore { return &memPinStore{pins: make(map[string]PinState)} }

func (m *memPinStore) GetPin(relPath string) (PinState, error) {
	if p, ok := m.pins[relPath]; ok {
		return p, nil
	}

	return PinInherited, nil
}

func (m *memPinStore) SetPin(relPath string, state PinState) error {
	m.pins[relPath] = state
	return nil
}

func TestSuffixVFS_MaterializeAndIsPlaceholder(t *testing.T) {
	root := t.TempDir()
	vfs := NewSuffixVFS(root, newMemPinStore())

	require.NoError(t, vfs.MaterializePlaceholder("docs/remote.txt", 1234))

	assert.True(t, vfs.IsPlaceholder("docs/remote.txt"))

	info, err := os.Stat(filepath.Join(root, "docs", "remote.txt"+PlaceholderSuffix))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestSuffixVFS_MaterializeIdempotent(t *testing.T) {
	root := t.TempDir()
	vfs := NewSuffixVFS(root, newMemPinStore())

	require.NoError(t, vfs.MaterializePlaceholder("a.txt", 10))
	require.NoError(t, vfs.MaterializePlaceholder("a.txt", 10)) // must not error on re-materialize
}

func TestSuffixVFS_ReplacePlaceholderHydrates(t *testing.T) {
	root := t.TempDir()
	vfs := NewSuffixVFS(root, newMemPinStore())

	require.NoError(t, vfs.MaterializePlaceholder("a.txt", 10))
	assert.True(t, vfs.IsPlaceholder("a.txt"))

	tmp := filepath.Join(root, "a.txt.~scratch")
	require.NoError(t, os.WriteFile(tmp, []byte("hello"), 0o644))

	require.NoError(t, vfs.ReplacePlaceholder("a.txt", tmp))

	assert.False(t, vfs.IsPlaceholder("a.txt"))

	content, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	_, err = os.Stat(filepath.Join(root, "a.txt"+PlaceholderSuffix))
	assert.True(t, os.IsNotExist(err))
}

func TestSuffixVFS_PinStatePersists(t *testing.T) {
	root := t.TempDir()
	pins := newMemPinStore()
	vfs := NewSuffixVFS(root, pins)

	require.NoError(t, vfs.SetPinState("a.txt", PinOnlineOnly))

	got, err := vfs.PinState("a.txt")
	require.NoError(t, err)
	assert.Equal(t, PinOnlineOnly, got)
}

func TestSuffixVFS_AvailabilityReflectsPinAndHydration(t *testing.T) {
	root := t.TempDir()
	pins := newMemPinStore()
	vfs := NewSuffixVFS(root, pins)

	require.NoError(t, vfs.MaterializePlaceholder("a.txt", 10))
	avail, err := vfs.Availability("a.txt")
	require.NoError(t, err)
	assert.Equal(t, AvailAllDehydrated, avail)

	require.NoError(t, vfs.SetPinState("a.txt", PinAlwaysLocal))
	avail, err = vfs.Availability("a.txt")
	require.NoError(t, err)
	assert.Equal(t, AvailAlwaysLocal, avail)
}

func TestNoopVFS_AlwaysHydrated(t *testing.T) {
	var vfs NoopVFS

	avail, err := vfs.Availability("anything")
	require.NoError(t, err)
	assert.Equal(t, AvailAllHydrated, avail)

	pin, err := vfs.PinState("anything")
	require.NoError(t, err)
	assert.Equal(t, PinAlwaysLocal, pin)

	assert.False(t, vfs.IsPlaceholder("anything"))
	assert.NoError(t, vfs.Hydrate(context.Background(), "anything"))
}

func TestAggregateAvailability(t *testing.T) {
	assert.Equal(t, AvailAllHydrated, AggregateAvailability(nil))
	assert.Equal(t, AvailAllHydrated, AggregateAvailability([]Availability{AvailAllHydrated, AvailAllHydrated}))
	assert.Equal(t, AvailMixed, AggregateAvailability([]Availability{AvailAllHydrated, AvailAllDehydrated}))
}
