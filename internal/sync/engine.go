package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/tonimelisma/davsync/internal/journal"
	"github.com/tonimelisma/davsync/internal/rootid"
	"github.com/tonimelisma/davsync/internal/webdav"
)

// FolderState enumerates spec §4.10's folder-loop states.
type FolderState int

const (
	StateNotYetStarted FolderState = iota
	StateSyncPrepare
	StateSyncRunning
	StateSyncAbortRequested
	StateSuccess
	StateProblem
	StateError
	StateSetupError
	StatePaused
)

func (s FolderState) String() string {
	switch s {
	case StateNotYetStarted:
		return "not_yet_started"
	case StateSyncPrepare:
		return "sync_prepare"
	case StateSyncRunning:
		return "sync_running"
	case StateSyncAbortRequested:
		return "sync_abort_requested"
	case StateSuccess:
		return "success"
	case StateProblem:
		return "problem"
	case StateError:
		return "error"
	case StateSetupError:
		return "setup_error"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// defaultEtagPollInterval is spec §4.10's "periodic etag poll (default
// 30 s, overridable by server-advertised capability)".
const defaultEtagPollInterval = 30 * time.Second

// defaultFullDiscoveryInterval is spec §4.10's "full_local_discovery_interval
// (default 1 h)".
const defaultFullDiscoveryInterval = time.Hour

// maxFollowUps caps spec §4.10's "post-run follow-up if the engine reports
// another_sync_needed, capped at 3 consecutive follow-ups".
const maxFollowUps = 3

// EngineEvents is the spec §6 event sink a FolderEngine publishes to.
// Each method is called synchronously from the folder's owner goroutine
// (spec §5 "consume them synchronously within the owner task"); callers
// needing async fan-out (UI, socket API) must do so themselves.
type EngineEvents interface {
	SyncStarted(root string)
	ItemCompleted(root string, item *SyncItem)
	SyncFinished(root string, result *SyncResult)
	NewBigFolder(root, path string)
	FileStatusChanged(root, path string, status FileStatus)
}

// EngineConfig configures one sync root's FolderEngine.
type EngineConfig struct {
	RootID       rootid.ID
	LocalRoot    string
	RemoteRoot   string
	Client       *webdav.Client
	Journal      *journal.Store
	Jobs         *JobQueue
	Bandwidth    *BandwidthManager
	VFS          VFS
	Filter       FilterConfig
	Selective    SelectiveSync
	CaseInsens   bool
	Events       EngineEvents
	Logger       *slog.Logger
	WatcherReady func() bool // reports whether the fsnotify watcher for this root is currently reliable
}

// FolderEngine is spec §4.10's "folder loop": it orchestrates one sync
// root's etag poll, scheduling, running, reporting and retry/backoff.
//
// Grounded on the teacher's engine.go (observe -> plan -> execute -> commit
// cycle) and drive_runner.go (per-drive scheduling loop), generalized from
// a single OneDrive drive to an arbitrary WebDAV collection and from a
// delta-cursor trigger to spec §4.10's etag-poll/watcher/user-request/
// follow-up trigger set.
type FolderEngine struct {
	cfg EngineConfig

	mu              sync.Mutex
	state           FolderState
	touched         mapset.Set[string]
	lastFullScan    time.Time
	followUpsLeft   int
	caps            webdav.Capabilities
	capsLoaded      bool
	cancelRun       context.CancelFunc
	lastRootETag    string
}

// NewFolderEngine builds a FolderEngine, not yet started.
func NewFolderEngine(cfg EngineConfig) *FolderEngine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &FolderEngine{cfg: cfg, state: StateNotYetStarted, touched: mapset.NewThreadUnsafeSet[string]()}
}

// State reports the current folder state.
func (f *FolderEngine) State() FolderState {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

func (f *FolderEngine) setState(s FolderState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// NotifyTouched records a filesystem-watcher-reported path, appended to the
// touched-set a subsequent ScanDatabaseAndFilesystem run will consult
// (spec §4.10 "filesystem watcher notification with a touched path").
func (f *FolderEngine) NotifyTouched(relPath string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.touched == nil {
		f.touched = mapset.NewThreadUnsafeSet[string]()
	}

	f.touched.Add(relPath)
}

// Abort requests cancellation of any in-flight run (spec §5 "abort() on the
// engine signals all jobs and transitions the folder to
// sync_abort_requested").
func (f *FolderEngine) Abort() {
	f.mu.Lock()
	cancel := f.cancelRun
	f.state = StateSyncAbortRequested
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Pause/Resume implement the user-request trigger (spec §4.10).
func (f *FolderEngine) Pause() {
	f.setState(StatePaused)
}

func (f *FolderEngine) Resume() {
	f.setState(StateNotYetStarted)
}

// RunOnce executes one complete sync cycle: capability refresh (first run
// only), local scan, remote listing, reconciliation, propagation, and
// journal commit — then, if the propagator reports AnotherSyncNeeded,
// repeats up to maxFollowUps times (spec §4.10).
func (f *FolderEngine) RunOnce(ctx context.Context) (*SyncResult, error) {
	if f.State() == StatePaused {
		return nil, fmt.Errorf("sync: root %s is paused", f.cfg.RemoteRoot)
	}

	runCtx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	f.cancelRun = cancel
	f.followUpsLeft = maxFollowUps
	f.mu.Unlock()
	defer cancel()

	f.setState(StateSyncPrepare)

	if err := f.ensureCapabilities(runCtx); err != nil {
		f.setState(StateSetupError)
		return nil, err
	}

	var last *SyncResult

	for {
		result, err := f.runCycle(runCtx)
		if err != nil {
			f.setState(StateError)
			return result, err
		}

		last = result

		if !result.AnotherSyncNeeded {
			break
		}

		f.mu.Lock()
		f.followUpsLeft--
		left := f.followUpsLeft
		f.mu.Unlock()

		if left < 0 {
			break
		}
	}

	if len(last.FirstErrors) > 0 {
		f.setState(StateProblem)
	} else {
		f.setState(StateSuccess)
	}

	return last, nil
}

func (f *FolderEngine) ensureCapabilities(ctx context.Context) error {
	f.mu.Lock()
	loaded := f.capsLoaded
	f.mu.Unlock()

	if loaded {
		return nil
	}

	caps, err := f.cfg.Client.FetchCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("sync: fetching capabilities for %s: %w", f.cfg.RemoteRoot, err)
	}

	f.mu.Lock()
	f.caps = caps
	f.capsLoaded = true
	f.mu.Unlock()

	return nil
}

func (f *FolderEngine) discoveryMode() ScanMode {
	f.mu.Lock()
	defer f.mu.Unlock()

	watcherOK := f.cfg.WatcherReady != nil && f.cfg.WatcherReady()
	recentFull := time.Since(f.lastFullScan) < defaultFullDiscoveryInterval

	if watcherOK && recentFull {
		return ScanDatabaseAndFilesystem
	}

	return ScanFilesystemOnly
}

func (f *FolderEngine) runCycle(ctx context.Context) (*SyncResult, error) {
	f.setState(StateSyncRunning)

	if f.cfg.Events != nil {
		f.cfg.Events.SyncStarted(f.cfg.RemoteRoot)
	}

	mode := f.discoveryMode()

	f.mu.Lock()
	touched := f.touched.ToSlice()
	f.touched = mapset.NewThreadUnsafeSet[string]()
	f.mu.Unlock()

	exclude := NewExcludeEngine(f.cfg.Filter, "")

	pins := func(relPath string) PinState {
		if ps, ok := f.cfg.VFS.(interface {
			PinState(string) (PinState, error)
		}); ok {
			if state, err := ps.PinState(relPath); err == nil {
				return state
			}
		}

		return PinInherited
	}

	scanner := NewLocalScanner(f.cfg.LocalRoot, exclude, pins, f.cfg.CaseInsens)

	local, err := scanner.Scan(mode, touched)
	if err != nil {
		return nil, fmt.Errorf("sync: local scan: %w", err)
	}

	journalByPath, journalByFileID, err := f.loadJournalSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: loading journal snapshot: %w", err)
	}

	lastEtag := func(p string) (string, bool) {
		rec, ok := journalByPath[p]
		if !ok {
			return "", false
		}

		return rec.ETag, true
	}

	touchedSet := make(map[string]bool, len(touched))
	for _, t := range touched {
		touchedSet[t] = true
	}

	lister := NewRemoteLister(f.cfg.Client)

	remote, err := lister.List(ctx, "", lastEtag, touchedSet)
	if err != nil {
		return nil, fmt.Errorf("sync: remote listing: %w", err)
	}

	plan, err := Reconcile(ReconcileInput{
		Local: local, Remote: remote, Journal: journalByPath, JournalByFileID: journalByFileID,
		Exclude: exclude, Selective: f.cfg.Selective, Now: time.Now(),
		ConflictExists: func(p string) bool { _, ok := local[p]; return ok },
		ErrorBlacklist: func(p string) *journal.BlacklistEntry {
			entry, berr := f.cfg.Journal.GetBlacklistEntry(ctx, f.cfg.RootID, p)
			if berr != nil {
				return nil
			}

			return entry
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sync: reconciliation: %w", err)
	}

	if mode == ScanFilesystemOnly {
		f.mu.Lock()
		f.lastFullScan = time.Now()
		f.mu.Unlock()
	}

	up, down := f.cfg.Bandwidth.ForRoot(f.cfg.RemoteRoot)

	executor := NewExecutor(ExecutorConfig{
		Client: f.cfg.Client, Journal: f.cfg.Journal, Root: f.cfg.RootID, LocalRoot: f.cfg.LocalRoot,
		Jobs: f.cfg.Jobs, Caps: f.caps, Uploader: up, Downloader: down, VFS: f.cfg.VFS, Logger: f.cfg.Logger,
	})

	result := executor.Run(ctx, f.cfg.RemoteRoot, plan)

	if f.cfg.Events != nil {
		for _, item := range plan {
			f.cfg.Events.ItemCompleted(f.cfg.RemoteRoot, item)
		}

		f.cfg.Events.SyncFinished(f.cfg.RemoteRoot, result)
	}

	return result, nil
}

func (f *FolderEngine) loadJournalSnapshot(ctx context.Context) (map[string]*journal.Record, map[string]*journal.Record, error) {
	recs, err := f.cfg.Journal.Iterate(ctx, f.cfg.RootID, "")
	if err != nil {
		return nil, nil, err
	}

	byPath := make(map[string]*journal.Record, len(recs))
	byFileID := make(map[string]*journal.Record, len(recs))

	for _, r := range recs {
		byPath[r.Path] = r

		if r.FileID != "" {
			byFileID[r.FileID] = r
		}
	}

	return byPath, byFileID, nil
}

// PollEtag checks the remote root's etag against the last observed value
// and reports whether a run should be scheduled (spec §4.10 "periodic etag
// poll... if root etag changed, schedule run").
func (f *FolderEngine) PollEtag(ctx context.Context) (bool, error) {
	entries, err := f.cfg.Client.List(ctx, "", 0)
	if err != nil {
		return false, err
	}

	if len(entries) == 0 {
		return false, nil
	}

	rootEtag := entries[0].ETag

	f.mu.Lock()
	changed := rootEtag != f.lastRootETag
	f.lastRootETag = rootEtag
	f.mu.Unlock()

	return changed, nil
}

// EtagPollInterval resolves the poll cadence, honoring a server-advertised
// override (spec §4.10 and §6 "remotePollInterval").
func (f *FolderEngine) EtagPollInterval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.capsLoaded && f.caps.RemotePollIntervalSecs > 0 {
		return time.Duration(f.caps.RemotePollIntervalSecs) * time.Second
	}

	return defaultEtagPollInterval
}
