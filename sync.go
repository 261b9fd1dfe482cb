package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/davsync/internal/config"
	"github.com/tonimelisma/davsync/internal/journal"
	"github.com/tonimelisma/davsync/internal/rootid"
	"github.com/tonimelisma/davsync/internal/sync"
	"github.com/tonimelisma/davsync/internal/webdav"
)

func newSyncCmd() *cobra.Command {
	var flagWatch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize files with the configured WebDAV server",
		Long: `Run one sync cycle for the root selected by --root (or the sole configured
root). With --watch, run continuously: an fsnotify watcher and the root's
etag-poll interval both trigger further cycles until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, flagWatch)
		},
	}

	cmd.Flags().BoolVar(&flagWatch, "watch", false, "run continuously as a daemon")

	return cmd
}

func runSync(cmd *cobra.Command, watch bool) error {
	cc := mustCLIContext(cmd.Context())

	resolved, err := resolveOneRoot(cc)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}

	if resolved.Paused {
		return fmt.Errorf("root %q is paused — run 'davsync resume' first", resolved.Name)
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	if watch {
		return runWatch(ctx, cc, resolved)
	}

	handle, err := buildRootHandle(resolved, cc.Logger)
	if err != nil {
		return err
	}
	defer handle.Close()

	result, err := handle.Engine.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	printSyncResult(cc, result)

	if len(result.FirstErrors) > 0 {
		return fmt.Errorf("sync completed with errors in %d categories", len(result.FirstErrors))
	}

	return nil
}

// runWatch acquires the single-instance PID lock, starts the root's
// fsnotify watcher, and drives repeated RunOnce cycles on both the
// watcher's touched-path trigger and the root's etag-poll interval, exactly
// as spec §4.10 describes the folder loop's two always-on triggers. The
// watcher's onTouched callback must forward to the engine's NotifyTouched,
// but the engine's WatcherReady config field must read the watcher's
// Reliable method — so the watcher is built first with a forwarding
// closure, and the closure's target is filled in once the engine exists.
func runWatch(ctx context.Context, cc *CLIContext, resolved *config.ResolvedRoot) error {
	pidPath := daemonPIDPath(resolved.Name)

	cleanup, err := writePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	go watchForPauseSighup(ctx, stop, cc, resolved.Name)

	var engine *sync.FolderEngine

	watcher := sync.NewLocalWatcher(resolved.SyncDir, func(relPath string) {
		if engine != nil {
			engine.NotifyTouched(relPath)
		}
	}, cc.Logger)

	handle, err := buildRootHandleWithWatcher(resolved, cc.Logger, watcher)
	if err != nil {
		return err
	}
	defer handle.Close()

	engine = handle.Engine

	cc.Statusf("Watching %s (poll every %s)\n", resolved.Name, handle.Engine.EtagPollInterval())

	go func() {
		if err := watcher.Run(); err != nil {
			cc.Logger.Error("local watcher exited", "root", resolved.Name, "error", err)
		}
	}()

	defer watcher.Stop()

	ticker := time.NewTicker(handle.Engine.EtagPollInterval())
	defer ticker.Stop()

	runAndReport := func() {
		result, err := handle.Engine.RunOnce(ctx)
		if err != nil {
			cc.Logger.Error("sync cycle failed", "root", resolved.Name, "error", err)
			return
		}

		printSyncResult(cc, result)
	}

	runAndReport()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runAndReport()
		}
	}
}

// watchForPauseSighup reloads config on each SIGHUP (sent by pause.go/
// resume.go's notifyDaemon) and stops the daemon once the root's "paused"
// flag has been set, so 'davsync pause' takes effect on a running watch
// daemon without requiring a manual kill. A resume-triggered SIGHUP while
// already running is a no-op — the daemon was never stopped.
func watchForPauseSighup(ctx context.Context, stop context.CancelFunc, cc *CLIContext, rootName string) {
	ch := sighupChannel()
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			cfg, err := config.LoadOrDefault(cc.CfgPath, cc.Logger)
			if err != nil {
				cc.Logger.Error("reloading config on SIGHUP", "error", err)
				continue
			}

			root, ok := cfg.Roots[rootName]
			if ok && root.Paused {
				cc.Logger.Info("root paused, stopping watch daemon", "root", rootName)
				stop()

				return
			}
		}
	}
}

// rootHandle bundles everything a sync command needs for one resolved root
// and knows how to tear it all down — the davsync analogue of the teacher's
// DriveSession, generalized from an authenticated Graph client pair to a
// webdav.Client plus journal.Store plus engine.
type rootHandle struct {
	Client  *webdav.Client
	Journal *journal.Store
	Engine  *sync.FolderEngine
}

func (h *rootHandle) Close() {
	if h.Journal != nil {
		h.Journal.Close()
	}
}

// buildRootHandle wires a ResolvedRoot's configuration into a runnable
// FolderEngine: credential, webdav.Client, journal.Store, bandwidth
// manager, job queue, exclude filter, VFS strategy and selective-sync
// view. One process-wide JobQueue would ordinarily be shared across roots
// via Orchestrator (see orchestrator usage in multi-root contexts); the
// single-root CLI commands build a private one sized to this root's
// parallelism budget instead.
func buildRootHandle(resolved *config.ResolvedRoot, logger *slog.Logger) (*rootHandle, error) {
	return buildRootHandleWithWatcher(resolved, logger, nil)
}

// buildRootHandleWithWatcher is buildRootHandle plus an optional watcher;
// the one-shot 'sync' command passes nil (always a full filesystem scan,
// per spec §4.10's "otherwise it falls back to filesystem_only"), while
// 'sync --watch' passes its LocalWatcher so the engine can use its touched
// set once it has run reliably for a while.
func buildRootHandleWithWatcher(resolved *config.ResolvedRoot, logger *slog.Logger, watcher *sync.LocalWatcher) (*rootHandle, error) {
	cred, err := loadCredential(resolved.Credential)
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}

	client := webdav.New(webdav.Config{
		BaseURL:    resolved.ServerURL + resolved.RemotePath,
		Credential: cred,
		Logger:     logger,
	})

	dbPath := resolved.StatePath()
	if dbPath == "" {
		return nil, fmt.Errorf("cannot determine journal path for root %q", resolved.Name)
	}

	store, err := journal.Open(context.Background(), dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	if err := os.MkdirAll(resolved.SyncDir, 0o755); err != nil {
		store.Close()
		return nil, fmt.Errorf("creating sync directory: %w", err)
	}

	parallelism := resolved.Parallelism
	if parallelism <= 0 {
		parallelism = 6
	}

	upMode, upBPS, upFrac, err := sync.ParseBandwidthSpec(resolved.BandwidthLimitUp)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("parsing bandwidth_limit_up: %w", err)
	}

	downMode, downBPS, downFrac, err := sync.ParseBandwidthSpec(resolved.BandwidthLimitDown)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("parsing bandwidth_limit_down: %w", err)
	}

	vfs := newVFSStrategy(resolved, store)

	engine := sync.NewFolderEngine(sync.EngineConfig{
		RootID:     resolved.RootID,
		LocalRoot:  resolved.SyncDir,
		RemoteRoot: resolved.Name,
		Client:     client,
		Journal:    store,
		Jobs:       sync.NewJobQueue(parallelism),
		Bandwidth:  sync.NewBandwidthManager(upMode, upBPS, upFrac, downMode, downBPS, downFrac),
		VFS:        vfs,
		Filter: sync.FilterConfig{
			Patterns: append(append([]string{}, resolved.SkipFiles...), resolved.SkipDirs...),
			Hidden:   hiddenPolicy(resolved.SkipDotfiles),
		},
		Selective:    newJournalSelectiveSync(store, resolved.RootID),
		CaseInsens:   resolved.CaseInsensitive,
		Logger:       logger,
		WatcherReady: watcherReadyFunc(watcher),
	})

	return &rootHandle{Client: client, Journal: store, Engine: engine}, nil
}

// watcherReadyFunc adapts an optional LocalWatcher to the engine's
// WatcherReady probe; a nil watcher (the one-shot 'sync' command) always
// reports unreliable, forcing a full filesystem scan every cycle.
func watcherReadyFunc(watcher *sync.LocalWatcher) func() bool {
	if watcher == nil {
		return func() bool { return false }
	}

	return func() bool { return watcher.Reliable() && watcher.DroppedEvents() == 0 }
}

func hiddenPolicy(skipDotfiles bool) sync.HiddenPolicy {
	if skipDotfiles {
		return sync.HiddenExcluded
	}

	return sync.HiddenIncluded
}

// newVFSStrategy picks the VFS implementation named by resolved.VFSMode
// (spec §4.9's "off" / "suffix_placeholder"): the suffix strategy for
// "suffix_placeholder", NoopVFS for anything else. OS-native VFS is a
// documented extension point (internal/sync.VFS) with no concrete Linux
// implementation (SPEC_FULL.md §4.9); config validation accepts no mode
// that selects it.
func newVFSStrategy(resolved *config.ResolvedRoot, store *journal.Store) sync.VFS {
	if resolved.VFSMode != "suffix_placeholder" {
		return sync.NoopVFS{}
	}

	return sync.NewSuffixVFS(resolved.SyncDir, newFilePinStore(resolved))
}

// daemonPIDPath returns the per-root PID file path used to single-instance
// 'sync --watch' and to target it with SIGHUP from pause/resume.
func daemonPIDPath(rootName string) string {
	dataDir := config.DefaultDataDir()
	if dataDir == "" {
		return ""
	}

	return filepath.Join(dataDir, "run", "davsync-"+config.SanitizePathComponent(rootName)+".pid")
}

func printSyncResult(cc *CLIContext, result *sync.SyncResult) {
	if cc.Flags.JSON {
		printSyncResultJSON(result)
		return
	}

	if result.ItemsSucceeded == 0 && result.ItemsIgnored == 0 && len(result.FirstErrors) == 0 {
		cc.Statusf("Already in sync.\n")
		return
	}

	cc.Statusf("Sync complete: %d items synced, %d ignored\n", result.ItemsSucceeded, result.ItemsIgnored)

	if len(result.FirstErrors) > 0 {
		statuses := make([]sync.Status, 0, len(result.FirstErrors))
		for s := range result.FirstErrors {
			statuses = append(statuses, s)
		}

		sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })

		for _, s := range statuses {
			cc.Statusf("  %d error(s) of class %v: %v\n", result.ErrorCounts[s], s, result.FirstErrors[s])
		}
	}
}

type syncResultJSON struct {
	ItemsSucceeded int            `json:"items_succeeded"`
	ItemsIgnored   int            `json:"items_ignored"`
	Errors         map[string]int `json:"error_counts,omitempty"`
}

func printSyncResultJSON(result *sync.SyncResult) {
	out := syncResultJSON{ItemsSucceeded: result.ItemsSucceeded, ItemsIgnored: result.ItemsIgnored}

	if len(result.ErrorCounts) > 0 {
		out.Errors = make(map[string]int, len(result.ErrorCounts))
		for s, n := range result.ErrorCounts {
			out.Errors[fmt.Sprint(s)] = n
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}

// journalSelectiveSync answers spec §4.5's blacklist/undecided membership
// queries from the journal's selective-sync lists, loaded once per engine
// build — the CLI's sync roots are short-lived processes (one-shot or one
// 'sync --watch' run), so a point-in-time snapshot is adequate; a future
// long-lived daemon would refresh it between cycles.
type journalSelectiveSync struct {
	blacklist map[string]bool
	undecided map[string]bool
}

func newJournalSelectiveSync(store *journal.Store, root rootid.ID) *journalSelectiveSync {
	j := &journalSelectiveSync{blacklist: map[string]bool{}, undecided: map[string]bool{}}

	ctx := context.Background()

	if paths, err := store.ListPaths(ctx, root, journal.ListBlacklist); err == nil {
		for _, p := range paths {
			j.blacklist[p] = true
		}
	}

	if paths, err := store.ListPaths(ctx, root, journal.ListUndecided); err == nil {
		for _, p := range paths {
			j.undecided[p] = true
		}
	}

	return j
}

func (j *journalSelectiveSync) IsBlacklisted(relPath string) bool { return j.blacklist[relPath] }
func (j *journalSelectiveSync) IsUndecided(relPath string) bool   { return j.undecided[relPath] }
