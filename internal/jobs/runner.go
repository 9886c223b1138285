package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hydroqc/internal/config"
	"hydroqc/internal/events"
	"hydroqc/internal/store"
	"hydroqc/metrics"
	"hydroqc/queue"
)

// Stage represents pipeline phases.
type Stage string

const (
	StageIngest  Stage = "INGEST"
	StageFetch   Stage = "FETCH"
	StageQC      Stage = "QC"
	StageFuse    Stage = "FUSE"
	StageUpload  Stage = "UPLOAD"
	StageArchive Stage = "ARCHIVE"
)

// DefaultStages is the full processing sequence for one run.
var DefaultStages = []Stage{StageIngest, StageFetch, StageQC, StageFuse, StageUpload, StageArchive}

// ExecutionContext bundles dependencies for stage execution.
type ExecutionContext struct {
	Cfg     config.Config
	Store   *store.Store
	Metrics *metrics.Metrics
	Logf    func(runID, msg string)
}

// StageFunc is one pipeline stage implementation.
type StageFunc func(ctx context.Context, exec ExecutionContext, runID string) error

// Registry maps stages to implementations.
type Registry map[Stage]StageFunc

// Runner executes pipeline runs on the worker pool. Each run walks its stage
// sequence in order and fails on the first stage error.
type Runner struct {
	cfg     config.Config
	store   *store.Store
	metrics *metrics.Metrics
	bus     *events.Bus
	reg     Registry
	queue   *queue.Queue

	logMu     sync.Mutex
	logBuffer map[string][]string
}

func NewRunner(cfg config.Config, st *store.Store, m *metrics.Metrics, bus *events.Bus, reg Registry) *Runner {
	return &Runner{
		cfg:       cfg,
		store:     st,
		metrics:   m,
		bus:       bus,
		reg:       reg,
		queue:     queue.New(cfg.QueueSize, cfg.WorkerCount, time.Duration(cfg.JobTimeoutSec)*time.Second),
		logBuffer: make(map[string][]string),
	}
}

// Start spins the worker pool.
func (r *Runner) Start(ctx context.Context) {
	r.queue.Start(ctx)
}

// Stop drains the worker pool until the context is done.
func (r *Runner) Stop(ctx context.Context) {
	r.queue.Stop(ctx)
}

// QueueStats exposes the underlying queue metrics.
func (r *Runner) QueueStats() queue.Stats { return r.queue.Stats() }

// Healthy reports whether the worker pool accepts runs.
func (r *Runner) Healthy() bool { return r.queue.Healthy() }

// Full default-sequence runs share one coalesce key: the watcher, cron, and
// manual triggers would otherwise stack identical sweeps on the queue.
const fullRunKey = "full-pipeline"

// EnqueueRun records a run and queues its execution. stages may be nil for
// the default sequence; default-sequence runs coalesce into an already
// pending one, whose record is returned instead.
func (r *Runner) EnqueueRun(ctx context.Context, trigger string, stages []Stage) (*store.Run, error) {
	coalesceKey := ""
	if len(stages) == 0 {
		stages = DefaultStages
		coalesceKey = fullRunKey
	}
	if coalesceKey != "" {
		if id, ok := r.queue.PendingRun(coalesceKey); ok {
			if pending, err := r.store.GetRun(ctx, id); err == nil && pending != nil {
				return pending, nil
			}
		}
	}
	run, err := r.store.CreateRun(ctx, trigger, config.Now())
	if err != nil {
		return nil, err
	}
	job := queue.Job{
		RunID:       run.RunID,
		Trigger:     trigger,
		CoalesceKey: coalesceKey,
		Work: func(runCtx context.Context) error {
			return r.execute(runCtx, run.RunID, trigger, stages)
		},
		OnFinish: func(err error) {
			if r.metrics != nil {
				r.metrics.RecordRunCompletion(err)
			}
		},
	}
	queued, coalescedInto := r.queue.EnqueueOrCoalesce(job)
	if !queued {
		if coalescedInto != "" {
			r.appendLog(run.RunID, fmt.Sprintf("coalesced into run %s", coalescedInto))
			_ = r.store.MarkRunFinished(ctx, run.RunID, store.RunStatusSucceeded, config.Now())
			if pending, err := r.store.GetRun(ctx, coalescedInto); err == nil && pending != nil {
				return pending, nil
			}
			return run, nil
		}
		_ = r.store.MarkRunFinished(ctx, run.RunID, store.RunStatusFailed, config.Now())
		return nil, fmt.Errorf("run queue full")
	}
	return run, nil
}

func (r *Runner) execute(ctx context.Context, runID, trigger string, stages []Stage) error {
	_ = r.store.MarkRunStarted(ctx, runID, config.Now())
	r.publish(runID, trigger, store.RunStatusRunning, "")
	exec := ExecutionContext{
		Cfg:     r.cfg,
		Store:   r.store,
		Metrics: r.metrics,
		Logf:    r.appendLog,
	}
	for _, stage := range stages {
		fn, ok := r.reg[stage]
		if !ok {
			r.appendLog(runID, fmt.Sprintf("no handler for stage %s", stage))
			continue
		}
		r.appendLog(runID, fmt.Sprintf("stage %s started", stage))
		if err := fn(ctx, exec, runID); err != nil {
			r.appendLog(runID, fmt.Sprintf("stage %s error: %v", stage, err))
			_ = r.store.MarkRunFinished(ctx, runID, store.RunStatusFailed, config.Now())
			r.publish(runID, trigger, store.RunStatusFailed, err.Error())
			return fmt.Errorf("stage %s: %w", stage, err)
		}
		r.appendLog(runID, fmt.Sprintf("stage %s done", stage))
	}
	_ = r.store.MarkRunFinished(ctx, runID, store.RunStatusSucceeded, config.Now())
	r.publish(runID, trigger, store.RunStatusSucceeded, "")
	return nil
}

func (r *Runner) publish(runID, trigger, status, detail string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.RunEvent{RunID: runID, Trigger: trigger, Status: status, Detail: detail, At: config.Now()})
}

func (r *Runner) appendLog(runID, msg string) {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	ts := config.Now()
	_ = r.store.AppendRunLog(context.Background(), runID, msg, ts)
	r.logBuffer[runID] = append(r.logBuffer[runID], fmt.Sprintf("%s %s", ts.Format(time.RFC3339), msg))
	if len(r.logBuffer[runID]) > 200 {
		r.logBuffer[runID] = r.logBuffer[runID][len(r.logBuffer[runID])-200:]
	}
}

// Logs returns the in-memory log buffer for a run.
func (r *Runner) Logs(runID string) []string {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	return append([]string(nil), r.logBuffer[runID]...)
}
