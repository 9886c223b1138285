package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"hydroqc/internal/config"
	"hydroqc/internal/jobs"
	"hydroqc/internal/store"
)

func testSetup(t *testing.T) (config.Config, *store.Store) {
	t.Helper()
	cfg := config.Config{
		IntakeDir:  t.TempDir(),
		OutputDir:  t.TempDir(),
		ArchiveDir: t.TempDir(),
		DBPath:     filepath.Join(t.TempDir(), "test.db"),
		RulesPath:  filepath.Join(t.TempDir(), "missing.yaml"),
		FusionMode: "combine",
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return cfg, st
}

func execContext(cfg config.Config, st *store.Store) jobs.ExecutionContext {
	return jobs.ExecutionContext{Cfg: cfg, Store: st, Logf: func(string, string) {}}
}

func TestIngestStageRegistersFiles(t *testing.T) {
	cfg, st := testSetup(t)
	for _, name := range []string{"data_Observator_x.csv", "data_ColiMinder_y.csv", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(cfg.IntakeDir, name), []byte("a,b\n1,2\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	reg := BuildRegistry(cfg, st)
	if err := reg[jobs.StageIngest](context.Background(), execContext(cfg, st), "run1"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	statuses, err := st.FileStatuses(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 tracked files, got %d", len(statuses))
	}
	if statuses["data_Observator_x.csv"] != store.FileStatusSeen {
		t.Fatalf("unexpected status: %v", statuses)
	}
}

func TestArchiveStageMovesOnlyProcessedFiles(t *testing.T) {
	cfg, st := testSetup(t)
	processed := filepath.Join(cfg.IntakeDir, "data_Observator_done.csv")
	pending := filepath.Join(cfg.IntakeDir, "data_Observator_new.csv")
	for _, p := range []string{processed, pending} {
		if err := os.WriteFile(p, []byte("a,b\n1,2\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ctx := context.Background()
	if err := st.UpsertFile(ctx, filepath.Base(processed), "Observator", "QC", store.FileStatusProcessed, nil, config.Now()); err != nil {
		t.Fatal(err)
	}

	reg := BuildRegistry(cfg, st)
	if err := reg[jobs.StageArchive](ctx, execContext(cfg, st), "run1"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	if _, err := os.Stat(processed); !os.IsNotExist(err) {
		t.Fatalf("processed file should have been archived")
	}
	if _, err := os.Stat(filepath.Join(cfg.ArchiveDir, filepath.Base(processed))); err != nil {
		t.Fatalf("archived copy missing: %v", err)
	}
	if _, err := os.Stat(pending); err != nil {
		t.Fatalf("pending file should stay in intake: %v", err)
	}
}

func TestFetchStageSkipsWithoutEndpoint(t *testing.T) {
	cfg, st := testSetup(t)
	reg := BuildRegistry(cfg, st)
	if err := reg[jobs.StageFetch](context.Background(), execContext(cfg, st), "run1"); err != nil {
		t.Fatalf("fetch should skip cleanly: %v", err)
	}
}

func TestFuseStageSkipsWithoutCleanedDir(t *testing.T) {
	cfg, st := testSetup(t)
	reg := BuildRegistry(cfg, st)
	if err := reg[jobs.StageFuse](context.Background(), execContext(cfg, st), "run1"); err != nil {
		t.Fatalf("fuse should skip cleanly: %v", err)
	}
}
