// Package queue provides the bounded run queue backing the processing
// pipeline. Runs are executed by a fixed worker pool with a per-run timeout.
package queue

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one queued pipeline run. Jobs carrying the same non-empty
// CoalesceKey are folded together while waiting: enqueueing a duplicate of a
// run still sitting in the queue reports the pending run instead of stacking
// a second identical one.
type Job struct {
	RunID       string
	Trigger     string
	CoalesceKey string
	Work        func(context.Context) error
	OnFinish    func(error)
}

// Stats exposes current queue metrics.
type Stats struct {
	Length      int
	Capacity    int
	WorkerCount int
	Processed   uint64
	Failed      uint64
}

// Queue is a bounded job queue with a fixed worker pool.
type Queue struct {
	jobs        chan Job
	workerCount int
	timeout     time.Duration
	started     bool
	pending     map[string]string // coalesce key -> queued run ID
	mu          sync.RWMutex
	wg          sync.WaitGroup
	processed   uint64
	failed      uint64
}

// New creates a Queue with the given capacity, worker count, and per-run
// timeout.
func New(capacity, workerCount int, timeout time.Duration) *Queue {
	return &Queue{
		jobs:        make(chan Job, capacity),
		workerCount: workerCount,
		timeout:     timeout,
		pending:     make(map[string]string),
	}
}

// Start launches the worker pool.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()
	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Enqueue attempts to queue a run without blocking. Returns false if the
// queue is full, not started, or the run coalesced into a pending duplicate.
func (q *Queue) Enqueue(j Job) bool {
	queued, _ := q.tryEnqueue(j, true)
	return queued
}

// EnqueueOrCoalesce queues the run unless one with the same CoalesceKey is
// already waiting; when coalesced, the second return names the pending run.
func (q *Queue) EnqueueOrCoalesce(j Job) (bool, string) {
	return q.tryEnqueue(j, true)
}

// PendingRun reports the run ID of a queued, not yet started run with the
// given coalesce key.
func (q *Queue) PendingRun(key string) (string, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	id, ok := q.pending[key]
	return id, ok
}

// EnqueueWithRetry attempts to queue a run with a bounded retry window.
// Returns (enqueued, droppedFull). A run coalesced into a pending duplicate
// counts as enqueued.
func (q *Queue) EnqueueWithRetry(ctx context.Context, j Job, window, interval time.Duration) (bool, bool) {
	deadline := time.Now().Add(window)
	if queued, into := q.tryEnqueue(j, false); queued || into != "" {
		return true, false
	}
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, false
		case <-time.After(interval):
			if queued, into := q.tryEnqueue(j, false); queued || into != "" {
				return true, false
			}
		}
	}
	return false, true
}

func (q *Queue) tryEnqueue(j Job, logDrop bool) (bool, string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		if logDrop {
			log.Printf("enqueue called before queue started for run %s", j.RunID)
		}
		return false, ""
	}
	if j.CoalesceKey != "" {
		if id, ok := q.pending[j.CoalesceKey]; ok {
			if logDrop {
				log.Printf("run %s coalesced into pending run %s", j.RunID, id)
			}
			return false, id
		}
	}
	select {
	case q.jobs <- j:
		if j.CoalesceKey != "" {
			q.pending[j.CoalesceKey] = j.RunID
		}
		return true, ""
	default:
		if logDrop {
			log.Printf("run queue full, dropping run %s", j.RunID)
		}
		return false, ""
	}
}

// Stop stops accepting new runs and waits for workers to drain until the
// context is done.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	if q.jobs != nil {
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Stats returns current queue metrics.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	length := 0
	if q.jobs != nil {
		length = len(q.jobs)
	}
	return Stats{
		Length:      length,
		Capacity:    cap(q.jobs),
		WorkerCount: q.workerCount,
		Processed:   atomic.LoadUint64(&q.processed),
		Failed:      atomic.LoadUint64(&q.failed),
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			q.clearPending(j)
			q.handleJob(ctx, j)
		}
	}
}

// clearPending releases the coalesce key as soon as the run leaves the
// queue. Work arriving while the run executes queues a fresh run, since the
// executing run may already be past its intake scan.
func (q *Queue) clearPending(j Job) {
	if j.CoalesceKey == "" {
		return
	}
	q.mu.Lock()
	if q.pending[j.CoalesceKey] == j.RunID {
		delete(q.pending, j.CoalesceKey)
	}
	q.mu.Unlock()
}

func (q *Queue) handleJob(ctx context.Context, j Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("run %s panic recovered: %v", j.RunID, r)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, q.timeout)
	err := j.Work(runCtx)
	cancel()
	if j.OnFinish != nil {
		j.OnFinish(err)
	}
	atomic.AddUint64(&q.processed, 1)
	if err != nil {
		atomic.AddUint64(&q.failed, 1)
	}
	status := "success"
	if err != nil {
		status = err.Error()
	}
	log.Printf("run_trigger=%s run=%s duration_ms=%d status=%s", j.Trigger, j.RunID, time.Since(start).Milliseconds(), status)
}

// Healthy returns true if the queue has been started.
func (q *Queue) Healthy() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.started
}
