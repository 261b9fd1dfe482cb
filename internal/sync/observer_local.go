package sync

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// walkDirs visits root and every subdirectory reachable under it, calling fn
// with each directory's full path. Used to seed a fresh fsnotify watcher
// with every directory needing a watch (fsnotify is not recursive).
func walkDirs(root string, fn func(dir string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // tolerate a subtree vanishing mid-walk
		}

		if !d.IsDir() {
			return nil
		}

		return fn(path)
	})
}

// watchErrInitBackoff/watchErrMaxBackoff/watchErrBackoffMult mirror the
// teacher's observer_local.go reconnect backoff for a watcher that errors
// out (e.g. the root is unmounted then remounted).
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// FsWatcher abstracts filesystem event monitoring, satisfied by
// *fsnotify.Watcher; tests inject a mock. Grounded verbatim on the
// teacher's observer_local.go FsWatcher interface.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Remove(name string) error      { return fw.w.Remove(name) }
func (fw *fsnotifyWrapper) Close() error                  { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error          { return fw.w.Errors }

// LocalWatcher recursively watches a sync root and reports touched relative
// paths to a FolderEngine (spec §4.10 "filesystem watcher notification with
// a touched path"). It also exposes Reliable(), which the engine consults to
// pick between ScanDatabaseAndFilesystem and ScanFilesystemOnly.
//
// Grounded on the teacher's observer_local.go watch-loop and reconnect
// backoff, generalized from a change-event producer fed to a baseline diff
// into a touched-path recorder fed to FolderEngine.NotifyTouched.
type LocalWatcher struct {
	root           string
	logger         *slog.Logger
	watcherFactory func() (FsWatcher, error)
	onTouched      func(relPath string)

	droppedEvents atomic.Int64
	reliable      atomic.Bool
	stop          chan struct{}
	done          chan struct{}
}

// NewLocalWatcher builds a watcher rooted at root. onTouched is invoked for
// every create/write/rename/remove event, with a root-relative slash path.
func NewLocalWatcher(root string, onTouched func(relPath string), logger *slog.Logger) *LocalWatcher {
	if logger == nil {
		logger = slog.Default()
	}

	w := &LocalWatcher{
		root: root, logger: logger, onTouched: onTouched,
		stop: make(chan struct{}), done: make(chan struct{}),
	}

	w.watcherFactory = func() (FsWatcher, error) {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}

		return &fsnotifyWrapper{w: fw}, nil
	}

	return w
}

// Reliable reports whether the watcher is currently believed to be
// delivering events (i.e. not mid-reconnect-backoff). Passed to
// EngineConfig.WatcherReady.
func (w *LocalWatcher) Reliable() bool {
	return w.reliable.Load()
}

// DroppedEvents reports the watcher's dropped-event count. handleEvent
// passes every event straight to onTouched and never discards one, so
// nothing increments the counter and it stays zero.
func (w *LocalWatcher) DroppedEvents() int64 {
	return w.droppedEvents.Load()
}

// Run watches until Stop is called, recursively adding subdirectories as
// they appear. After a watcher error it reconnects at once; the exponential
// backoff applies only while creating or seeding a new watcher fails.
func (w *LocalWatcher) Run() error {
	defer close(w.done)

	backoff := watchErrInitBackoff

	for {
		select {
		case <-w.stop:
			return nil
		default:
		}

		fw, err := w.watcherFactory()
		if err != nil {
			w.reliable.Store(false)
			w.logger.Warn("sync: local watcher init failed, retrying", "root", w.root, "error", err, "backoff", backoff)

			if !w.sleep(backoff) {
				return nil
			}

			backoff = nextBackoff(backoff)

			continue
		}

		if err := w.addTree(fw); err != nil {
			fw.Close()
			w.reliable.Store(false)
			w.logger.Warn("sync: local watcher add-tree failed, retrying", "root", w.root, "error", err, "backoff", backoff)

			if !w.sleep(backoff) {
				return nil
			}

			backoff = nextBackoff(backoff)

			continue
		}

		backoff = watchErrInitBackoff
		w.reliable.Store(true)

		if stopped := w.loop(fw); stopped {
			fw.Close()
			return nil
		}

		fw.Close()
		w.reliable.Store(false)
	}
}

func (w *LocalWatcher) loop(fw FsWatcher) (stopped bool) {
	for {
		select {
		case <-w.stop:
			return true
		case ev, ok := <-fw.Events():
			if !ok {
				return false
			}

			w.handleEvent(fw, ev)
		case err, ok := <-fw.Errors():
			if !ok {
				return false
			}

			w.logger.Warn("sync: local watcher error", "root", w.root, "error", err)

			return false
		}
	}
}

func (w *LocalWatcher) handleEvent(fw FsWatcher, ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}

	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return
	}

	if ev.Op&(fsnotify.Create) != 0 {
		_ = fw.Add(ev.Name) // harmless if ev.Name is a file, not a directory
	}

	if w.onTouched == nil {
		return
	}

	select {
	case <-w.stop:
	default:
		w.onTouched(rel)
	}
}

func (w *LocalWatcher) addTree(fw FsWatcher) error {
	return walkDirs(w.root, func(dir string) error {
		return fw.Add(dir)
	})
}

func (w *LocalWatcher) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-w.stop:
		return false
	case <-t.C:
		return true
	}
}

// Stop halts the watch loop and waits for Run to return.
func (w *LocalWatcher) Stop() {
	close(w.stop)
	<-w.done
}

func nextBackoff(d time.Duration) time.Duration {
	next := d * watchErrBackoffMult
	if next > watchErrMaxBackoff {
		return watchErrMaxBackoff
	}

	return next
}
