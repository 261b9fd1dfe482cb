package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tonimelisma/davsync/internal/config"
	syncpkg "github.com/tonimelisma/davsync/internal/sync"
)

// filePinStore implements sync.PinStore as a JSON sidecar file next to the
// root's journal database. Pin state is sparse (spec §3 "PinState... absent
// means Inherited") and rarely written compared to path_state, so a whole-
// file read/rewrite avoids adding a goose migration and a schema column to
// internal/journal purely to serve the "off" VFS mode's one non-adopter,
// suffix_placeholder.
type filePinStore struct {
	path string

	mu   sync.Mutex
	pins map[string]syncpkg.PinState
}

// pinStorePath places the sidecar file next to the journal DB this root
// already owns, named the same way StatePath names journal_<root>.db.
func pinStorePath(resolved *config.ResolvedRoot) string {
	sanitized := config.SanitizePathComponent(resolved.Name)

	if resolved.StateDir != "" {
		return filepath.Join(resolved.StateDir, "pins_"+sanitized+".json")
	}

	dataDir := config.DefaultDataDir()
	if dataDir == "" {
		return ""
	}

	return filepath.Join(dataDir, "state", "pins_"+sanitized+".json")
}

// newFilePinStore loads (or lazily initializes) the pin sidecar file for
// resolved. A missing or unreadable file starts empty rather than failing
// the sync — every path simply reports PinInherited until explicitly
// pinned, spec §4.9's documented default.
func newFilePinStore(resolved *config.ResolvedRoot) *filePinStore {
	fps := &filePinStore{path: pinStorePath(resolved), pins: make(map[string]syncpkg.PinState)}

	if fps.path == "" {
		return fps
	}

	data, err := os.ReadFile(fps.path)
	if err != nil {
		return fps
	}

	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return fps
	}

	for path, state := range raw {
		fps.pins[path] = syncpkg.PinState(state)
	}

	return fps
}

func (fps *filePinStore) GetPin(relPath string) (syncpkg.PinState, error) {
	fps.mu.Lock()
	defer fps.mu.Unlock()

	state, ok := fps.pins[relPath]
	if !ok {
		return syncpkg.PinInherited, nil
	}

	return state, nil
}

func (fps *filePinStore) SetPin(relPath string, state syncpkg.PinState) error {
	fps.mu.Lock()
	defer fps.mu.Unlock()

	if state == syncpkg.PinInherited {
		delete(fps.pins, relPath)
	} else {
		fps.pins[relPath] = state
	}

	return fps.persistLocked()
}

// persistLocked writes the full pin map atomically, mirroring credential.go's
// temp-file-then-rename save pattern. Caller must hold fps.mu.
func (fps *filePinStore) persistLocked() error {
	if fps.path == "" {
		return fmt.Errorf("pinstore: no state directory available to persist pins")
	}

	raw := make(map[string]int, len(fps.pins))
	for path, state := range fps.pins {
		raw[path] = int(state)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("pinstore: encoding: %w", err)
	}

	dir := filepath.Dir(fps.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pinstore: creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pins-*.tmp")
	if err != nil {
		return fmt.Errorf("pinstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("pinstore: writing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("pinstore: closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, fps.path); err != nil {
		return fmt.Errorf("pinstore: renaming into place: %w", err)
	}

	succeeded = true

	return nil
}
