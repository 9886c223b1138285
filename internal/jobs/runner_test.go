package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"hydroqc/internal/config"
	"hydroqc/internal/events"
	"hydroqc/internal/store"
	"hydroqc/metrics"
)

func testConfig(t *testing.T) config.Config {
	return config.Config{
		DBPath:        filepath.Join(t.TempDir(), "test.db"),
		WorkerCount:   1,
		QueueSize:     8,
		JobTimeoutSec: 5,
	}
}

func waitForRun(t *testing.T, st *store.Store, runID string, want string) *store.Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, err := st.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("get run: %v", err)
		}
		if run != nil && run.Status == want {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", runID, want)
	return nil
}

func TestRunExecutesStagesInOrder(t *testing.T) {
	cfg := testConfig(t)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	stageCh := make(chan Stage, 2)
	reg := Registry{
		StageQC:   func(ctx context.Context, exec ExecutionContext, runID string) error { stageCh <- StageQC; return nil },
		StageFuse: func(ctx context.Context, exec ExecutionContext, runID string) error { stageCh <- StageFuse; return nil },
	}
	runner := NewRunner(cfg, st, metrics.New(), events.NewBus(), reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	run, err := runner.EnqueueRun(ctx, "test", []Stage{StageQC, StageFuse})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitForRun(t, st, run.RunID, store.RunStatusSucceeded)

	if first, second := <-stageCh, <-stageCh; first != StageQC || second != StageFuse {
		t.Fatalf("stages ran out of order: %v, %v", first, second)
	}
	logs, err := st.RunLogs(context.Background(), run.RunID)
	if err != nil {
		t.Fatalf("run logs: %v", err)
	}
	if len(logs) == 0 {
		t.Fatalf("expected persisted run logs")
	}
}

func TestDuplicateFullRunsCoalesce(t *testing.T) {
	cfg := testConfig(t)
	cfg.WorkerCount = 0 // queued runs stay pending
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	runner := NewRunner(cfg, st, metrics.New(), events.NewBus(), Registry{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	first, err := runner.EnqueueRun(ctx, "watch", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := runner.EnqueueRun(ctx, "cron", nil)
	if err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}
	if second.RunID != first.RunID {
		t.Fatalf("duplicate full run got its own run %s, want pending run %s", second.RunID, first.RunID)
	}
	if runner.QueueStats().Length != 1 {
		t.Fatalf("expected a single queued run, got %d", runner.QueueStats().Length)
	}

	explicit, err := runner.EnqueueRun(ctx, "manual", []Stage{StageQC})
	if err != nil {
		t.Fatalf("enqueue explicit stages: %v", err)
	}
	if explicit.RunID == first.RunID {
		t.Fatalf("explicit stage list should not coalesce")
	}
}

func TestRunFailsOnFirstStageError(t *testing.T) {
	cfg := testConfig(t)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	var fuseRan atomic.Bool
	reg := Registry{
		StageQC:   func(ctx context.Context, exec ExecutionContext, runID string) error { return errors.New("boom") },
		StageFuse: func(ctx context.Context, exec ExecutionContext, runID string) error { fuseRan.Store(true); return nil },
	}
	m := metrics.New()
	runner := NewRunner(cfg, st, m, events.NewBus(), reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	run, err := runner.EnqueueRun(ctx, "test", []Stage{StageQC, StageFuse})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitForRun(t, st, run.RunID, store.RunStatusFailed)

	if fuseRan.Load() {
		t.Fatalf("later stage ran after failure")
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.Snapshot().FailedRuns == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("failed run not recorded in metrics")
}
