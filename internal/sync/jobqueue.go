package sync

import (
	"context"
)

// JobQueue bounds concurrent HTTP jobs globally, across every root sharing
// one process (spec §4.8: "Global across all roots: bounds concurrent
// sockets to avoid starving the host"). It is a counting semaphore with a
// priority lane: callers requesting PriorityHigh (explicit user-visible
// hydration requests, spec §4.8) are served ahead of every waiting
// normal-priority caller, even ones queued earlier, implemented as two request channels drained
// by one dispatcher goroutine so priority jobs never starve behind a long
// FIFO of background jobs.
//
// Grounded on the teacher's worker.go/WorkerPool concurrency gate,
// generalized from one OneDrive drive's pool to a single process-wide gate
// shared by every root's engine (spec §5 "the global job queue are
// shared... guarded by internal synchronization").
type JobQueue struct {
	capacity int
	highReq  chan chan struct{}
	normReq  chan chan struct{}
	release  chan struct{}
	done     chan struct{}
}

// Priority selects which lane a caller's acquire request is served from.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// NewJobQueue builds a queue that admits at most capacity concurrent jobs.
func NewJobQueue(capacity int) *JobQueue {
	if capacity < 1 {
		capacity = 1
	}

	q := &JobQueue{
		capacity: capacity,
		highReq:  make(chan chan struct{}),
		normReq:  make(chan chan struct{}),
		release:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	go q.dispatch()

	return q
}

// dispatch is the single goroutine that owns the free-slot count, so
// highReq is always drained before normReq whenever a slot is free —
// giving user-visible hydration requests priority over the background FIFO
// without starving it once the high-priority backlog empties.
func (q *JobQueue) dispatch() {
	free := q.capacity
	var waitingHigh, waitingNorm []chan struct{}

	for {
		if free > 0 && len(waitingHigh) > 0 {
			grant := waitingHigh[0]
			waitingHigh = waitingHigh[1:]
			free--
			close(grant)

			continue
		}

		if free > 0 && len(waitingNorm) > 0 {
			grant := waitingNorm[0]
			waitingNorm = waitingNorm[1:]
			free--
			close(grant)

			continue
		}

		select {
		case <-q.done:
			return
		case grant := <-q.highReq:
			if free > 0 {
				free--
				close(grant)
			} else {
				waitingHigh = append(waitingHigh, grant)
			}
		case grant := <-q.normReq:
			if free > 0 {
				free--
				close(grant)
			} else {
				waitingNorm = append(waitingNorm, grant)
			}
		case <-q.release:
			free++
		}
	}
}

// Acquire blocks until a slot is free or ctx is cancelled. Cancellation is
// observed within the job queue's select loop, satisfying spec §4.8's
// "cancel() must unblock within 1 s" at the queueing stage.
func (q *JobQueue) Acquire(ctx context.Context, prio Priority) error {
	grant := make(chan struct{})

	reqCh := q.normReq
	if prio == PriorityHigh {
		reqCh = q.highReq
	}

	select {
	case reqCh <- grant:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return context.Canceled
	}

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return context.Canceled
	}
}

// Release returns a slot to the pool.
func (q *JobQueue) Release() {
	select {
	case q.release <- struct{}{}:
	case <-q.done:
	}
}

// Close shuts down the dispatcher goroutine. Safe to call once at process
// teardown.
func (q *JobQueue) Close() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}
