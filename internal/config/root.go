package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tonimelisma/davsync/internal/rootid"
)

// defaultRemotePath is the collection path used when a root doesn't specify
// one explicitly.
const defaultRemotePath = "/"

// Root is one (local directory, remote WebDAV collection) pair's
// configuration within a TOML config file, keyed by a short user-chosen
// name (e.g. "[root.work]"). Per-root section overrides (e.g.
// "[root.work.filter]") completely replace the corresponding global
// section — individual fields are not merged.
//
// Grounded on the teacher's Drive (per-drive override sections) merged with
// Profile (per-account identity fields), since davsync has no OneDrive-style
// two-level account/drive split: one Root is simultaneously what the
// teacher modeled as an account and as a drive within it.
type Root struct {
	ServerURL      string `toml:"server_url"`
	RemotePath     string `toml:"remote_path"`
	SyncDir        string `toml:"sync_dir"`
	CredentialFile string `toml:"credential_file"`
	StateDir       string `toml:"state_dir"` // override for journal DB directory (empty = platform default)
	Paused         bool   `toml:"paused"`

	Filter    *FilterConfig    `toml:"filter,omitempty"`
	Transfers *TransfersConfig `toml:"transfers,omitempty"`
	Safety    *SafetyConfig    `toml:"safety,omitempty"`
	Sync      *SyncConfig      `toml:"sync,omitempty"`
	Logging   *LoggingConfig   `toml:"logging,omitempty"`
	Network   *NetworkConfig   `toml:"network,omitempty"`
}

// ResolvedRoot contains root fields plus effective config sections after
// merging global defaults with per-root overrides and CLI/env flags. This
// is the final product consumed by the CLI and sync engine.
type ResolvedRoot struct {
	Name       string
	RootID     rootid.ID
	ServerURL  string
	RemotePath string
	SyncDir    string // absolute path after tilde expansion
	Credential string
	StateDir   string
	Paused     bool

	FilterConfig
	TransfersConfig
	SafetyConfig
	SyncConfig
	LoggingConfig
	NetworkConfig
}

// StatePath returns the journal database file path for this root. When
// StateDir is set, the DB is placed inside that directory instead of the
// platform default data directory — this allows e2e tests to use per-test
// temp dirs for isolation.
func (rr *ResolvedRoot) StatePath() string {
	sanitized := strings.NewReplacer("/", "_", ":", "_").Replace(rr.Name)

	if rr.StateDir != "" {
		return filepath.Join(rr.StateDir, "journal_"+sanitized+".db")
	}

	dataDir := DefaultDataDir()
	if dataDir == "" {
		return ""
	}

	return filepath.Join(dataDir, "state", "journal_"+sanitized+".db")
}

// buildResolvedRoot merges global defaults with one root's overrides.
func buildResolvedRoot(cfg *Config, name string, root *Root) *ResolvedRoot {
	remotePath := root.RemotePath
	if remotePath == "" {
		remotePath = defaultRemotePath
	}

	rr := &ResolvedRoot{
		Name:       name,
		RootID:     rootid.New(strings.TrimSuffix(root.ServerURL, "/") + remotePath),
		ServerURL:  root.ServerURL,
		RemotePath: remotePath,
		SyncDir:    expandTilde(root.SyncDir),
		Credential: root.CredentialFile,
		StateDir:   root.StateDir,
		Paused:     root.Paused,
	}

	rr.FilterConfig = resolveSection(root.Filter, cfg.Filter)
	rr.TransfersConfig = resolveSection(root.Transfers, cfg.Transfers)
	rr.SafetyConfig = resolveSection(root.Safety, cfg.Safety)
	rr.SyncConfig = resolveSection(root.Sync, cfg.Sync)
	rr.LoggingConfig = resolveSection(root.Logging, cfg.Logging)
	rr.NetworkConfig = resolveSection(root.Network, cfg.Network)

	return rr
}

// resolveSection returns the per-root override if present, otherwise the
// global value (section-replace semantics, not field merge).
func resolveSection[T any](override *T, global T) T {
	if override != nil {
		return *override
	}

	return global
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}

// MatchRoot selects a root from the config by name. If selector is empty,
// auto-selects when exactly one root is configured.
func MatchRoot(cfg *Config, selector string) (string, Root, error) {
	if len(cfg.Roots) == 0 {
		return "", Root{}, fmt.Errorf("no sync roots defined in config; add one with %q", "davsync root add")
	}

	if selector == "" {
		return matchSingleRoot(cfg)
	}

	root, ok := cfg.Roots[selector]
	if !ok {
		return "", Root{}, fmt.Errorf("root %q not found in config", selector)
	}

	return selector, root, nil
}

func matchSingleRoot(cfg *Config) (string, Root, error) {
	if len(cfg.Roots) == 1 {
		for name, root := range cfg.Roots {
			return name, root, nil
		}
	}

	names := make([]string, 0, len(cfg.Roots))
	for name := range cfg.Roots {
		names = append(names, name)
	}

	sort.Strings(names)

	return "", Root{}, fmt.Errorf(
		"multiple roots configured (%s); specify one with --root", strings.Join(names, ", "))
}

// ResolveRoots resolves multiple roots from the config, applying global
// defaults and per-root overrides. When selectors is non-empty, only roots
// matching those selectors are included. When includePaused is false, paused
// roots are excluded. Results are sorted by name for deterministic ordering.
func ResolveRoots(cfg *Config, selectors []string, includePaused bool) ([]*ResolvedRoot, error) {
	if len(cfg.Roots) == 0 {
		return nil, nil
	}

	names := selectors
	if len(names) == 0 {
		for name := range cfg.Roots {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	resolved := make([]*ResolvedRoot, 0, len(names))

	for _, name := range names {
		root, ok := cfg.Roots[name]
		if !ok {
			return nil, fmt.Errorf("root %q not found in config", name)
		}

		rr := buildResolvedRoot(cfg, name, &root)

		if !includePaused && rr.Paused {
			continue
		}

		resolved = append(resolved, rr)
	}

	return resolved, nil
}
