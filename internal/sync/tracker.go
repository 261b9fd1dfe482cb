package sync

import (
	"path"
	"strings"
	"sync"
)

// Job wraps one SyncItem as a unit the propagator schedules, carrying the
// dependency edges that encode spec §3/§4.6's ordering barriers.
type Job struct {
	ID   int64
	Item *SyncItem

	// dependsOn are job IDs that must complete before this job may run:
	// the directory-create barrier, or (for a rename) every job touching
	// the source subtree queued ahead of it.
	dependsOn []int64
}

// DepTracker sequences Jobs so that (spec §3 invariants):
//   - a directory's mkdir precedes any job targeting a descendant,
//   - all descendant removals precede their directory's own removal,
//   - at most one in-flight job exists per path at any instant.
//
// Grounded on the teacher's DepTracker (internal/sync/tracker.go): the
// dependency-edge algorithm (register pending IDs per ancestor directory,
// release dependents when the blocking ID completes) is protocol-
// independent and carries over with the OneDrive-specific cycle-detection
// trimmed, since spec's plan is already a DAG (the reconciler never emits
// cyclic renames).
type DepTracker struct {
	mu        sync.Mutex
	nextID    int64
	pending   map[int64]*Job      // jobs not yet ready (blocked on a dep)
	remaining map[int64]int       // jobID -> count of unmet deps
	waiters   map[int64][]int64   // blocking jobID -> dependent jobIDs
	inFlight  map[string]int64    // path -> job ID currently running
	ready     chan *Job
	doneAll   chan struct{}
	closed    bool
}

// NewDepTracker builds a tracker with a ready-channel buffer of bufSize.
func NewDepTracker(bufSize int) *DepTracker {
	return &DepTracker{
		pending:   make(map[int64]*Job),
		remaining: make(map[int64]int),
		waiters:   make(map[int64][]int64),
		inFlight:  make(map[string]int64),
		ready:     make(chan *Job, bufSize),
		doneAll:   make(chan struct{}),
	}
}

// Add registers item with the given dependency job IDs (computed by the
// caller from path ancestry — see Executor.Run) and returns its assigned
// job ID. A job with no unmet dependency becomes immediately ready.
func (dt *DepTracker) Add(item *SyncItem, dependsOn []int64) int64 {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	dt.nextID++
	id := dt.nextID
	job := &Job{ID: id, Item: item, dependsOn: dependsOn}

	unmet := 0
	for _, depID := range dependsOn {
		if _, notDone := dt.pending[depID]; notDone {
			unmet++
			dt.waiters[depID] = append(dt.waiters[depID], id)
		}
	}

	// Every job, whether immediately ready or blocked, stays registered in
	// pending until its own Complete() call: a dependency that has been
	// dispatched but not yet finished must still block new dependents added
	// after it (e.g. a mkdir job already running when its child job is
	// Added), not just ones blocked at Add-time.
	dt.pending[id] = job

	if unmet == 0 {
		dt.dispatchLocked(job)
		return id
	}

	dt.remaining[id] = unmet

	return id
}

// dispatchLocked pushes job onto the ready channel. Called with mu held;
// the channel send itself happens without the lock to avoid blocking other
// callers, matching the teacher's buffered-channel dispatch pattern.
func (dt *DepTracker) dispatchLocked(job *Job) {
	go func() { dt.ready <- job }()
}

// Complete marks jobID finished, releasing any dependent jobs whose last
// unmet dependency was jobID.
func (dt *DepTracker) Complete(jobID int64) {
	dt.mu.Lock()

	delete(dt.pending, jobID)

	dependents := dt.waiters[jobID]
	delete(dt.waiters, jobID)

	var toDispatch []*Job

	for _, depID := range dependents {
		dt.remaining[depID]--
		if dt.remaining[depID] <= 0 {
			delete(dt.remaining, depID)
			if job, ok := dt.pending[depID]; ok {
				toDispatch = append(toDispatch, job)
			}
		}
	}

	dt.mu.Unlock()

	for _, job := range toDispatch {
		dt.dispatchLocked(job)
	}
}

// TryAcquire reports whether path may start running now: spec's "at most
// one in-flight job exists at any instant" invariant. Call before starting
// a job's body and Release when it finishes.
func (dt *DepTracker) TryAcquire(jobID int64, p string) bool {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if _, busy := dt.inFlight[p]; busy {
		return false
	}

	dt.inFlight[p] = jobID

	return true
}

// Release frees path for a subsequent job.
func (dt *DepTracker) Release(p string) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	delete(dt.inFlight, p)
}

// Ready is the channel of jobs whose dependencies are satisfied, consumed
// by the worker pool.
func (dt *DepTracker) Ready() <-chan *Job {
	return dt.ready
}

// Close signals no more jobs will be Added; the worker pool should drain
// Ready() until it observes len(pending)==0, then stop.
func (dt *DepTracker) Close() {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if !dt.closed {
		dt.closed = true
		close(dt.doneAll)
	}
}

// Done reports when Close has been called.
func (dt *DepTracker) Done() <-chan struct{} {
	return dt.doneAll
}

// Pending reports how many jobs are still blocked or unfinished.
func (dt *DepTracker) Pending() int {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	return len(dt.pending)
}

// ancestorDirs returns every directory ancestor of p, root-most first,
// e.g. "a/b/c.txt" -> ["a", "a/b"].
func ancestorDirs(p string) []string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return nil
	}

	parts := strings.Split(dir, "/")

	out := make([]string, 0, len(parts))
	cur := ""

	for _, part := range parts {
		if part == "" {
			continue
		}

		if cur == "" {
			cur = part
		} else {
			cur = cur + "/" + part
		}

		out = append(out, cur)
	}

	return out
}

// isDescendant reports whether child is strictly nested under dir.
func isDescendant(dir, child string) bool {
	return child != dir && strings.HasPrefix(child, dir+"/")
}
