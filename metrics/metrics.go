package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics captures shared operational stats for the queue, the QC engine,
// and the fusion step.
type Metrics struct {
	queueLength   int64
	queueCapacity int64
	workerCount   int64

	processedRuns int64
	failedRuns    int64

	filesProcessed int64
	filesSkipped   int64
	filesFailed    int64

	secondaryMatched   int64
	secondaryUnmatched int64

	mu         sync.Mutex
	lastRunAt  time.Time
	lastStatus string
}

// Snapshot provides a consistent view of the current metrics.
type Snapshot struct {
	QueueLength   int `json:"queue_length"`
	QueueCapacity int `json:"queue_capacity"`
	WorkerCount   int `json:"worker_count"`

	ProcessedRuns int64 `json:"processed_runs"`
	FailedRuns    int64 `json:"failed_runs"`

	FilesProcessed int64 `json:"files_processed"`
	FilesSkipped   int64 `json:"files_skipped"`
	FilesFailed    int64 `json:"files_failed"`

	SecondaryMatched   int64 `json:"secondary_matched"`
	SecondaryUnmatched int64 `json:"secondary_unmatched"`

	LastRunAt     time.Time `json:"last_run_at"`
	LastRunStatus string    `json:"last_run_status"`
}

// New creates a zeroed Metrics instance.
func New() *Metrics {
	return &Metrics{}
}

// UpdateQueue records the current queue stats.
func (m *Metrics) UpdateQueue(length, capacity, workers int) {
	atomic.StoreInt64(&m.queueLength, int64(length))
	atomic.StoreInt64(&m.queueCapacity, int64(capacity))
	atomic.StoreInt64(&m.workerCount, int64(workers))
}

// RecordRunCompletion increments run counters and stamps the last run.
func (m *Metrics) RecordRunCompletion(err error) {
	atomic.AddInt64(&m.processedRuns, 1)
	status := "succeeded"
	if err != nil {
		atomic.AddInt64(&m.failedRuns, 1)
		status = "failed"
	}
	m.mu.Lock()
	m.lastRunAt = time.Now().UTC()
	m.lastStatus = status
	m.mu.Unlock()
}

// RecordFile tallies one input file outcome.
func (m *Metrics) RecordFile(processed, skipped bool) {
	switch {
	case processed:
		atomic.AddInt64(&m.filesProcessed, 1)
	case skipped:
		atomic.AddInt64(&m.filesSkipped, 1)
	default:
		atomic.AddInt64(&m.filesFailed, 1)
	}
}

// RecordFusion tallies matched and unmatched secondary rows from one fusion
// pass.
func (m *Metrics) RecordFusion(matched, unmatched int) {
	atomic.AddInt64(&m.secondaryMatched, int64(matched))
	atomic.AddInt64(&m.secondaryUnmatched, int64(unmatched))
}

// Snapshot returns a read-only view of metrics.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	lastAt, lastStatus := m.lastRunAt, m.lastStatus
	m.mu.Unlock()
	return Snapshot{
		QueueLength:        int(atomic.LoadInt64(&m.queueLength)),
		QueueCapacity:      int(atomic.LoadInt64(&m.queueCapacity)),
		WorkerCount:        int(atomic.LoadInt64(&m.workerCount)),
		ProcessedRuns:      atomic.LoadInt64(&m.processedRuns),
		FailedRuns:         atomic.LoadInt64(&m.failedRuns),
		FilesProcessed:     atomic.LoadInt64(&m.filesProcessed),
		FilesSkipped:       atomic.LoadInt64(&m.filesSkipped),
		FilesFailed:        atomic.LoadInt64(&m.filesFailed),
		SecondaryMatched:   atomic.LoadInt64(&m.secondaryMatched),
		SecondaryUnmatched: atomic.LoadInt64(&m.secondaryUnmatched),
		LastRunAt:          lastAt,
		LastRunStatus:      lastStatus,
	}
}
