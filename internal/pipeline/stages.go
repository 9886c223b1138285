package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hydroqc/fetch"
	"hydroqc/fuse"
	"hydroqc/internal/config"
	"hydroqc/internal/jobs"
	"hydroqc/internal/store"
	"hydroqc/qc"
	"hydroqc/upload"
)

// BuildRegistry wires the stage functions over the shared store.
func BuildRegistry(cfg config.Config, st *store.Store) jobs.Registry {
	engine := &qc.Engine{
		ConfigPath: cfg.RulesPath,
		InputDir:   cfg.IntakeDir,
		OutputDir:  cfg.OutputDir,
	}
	fetcher := fetch.New(fetch.Config{
		BaseURL:           cfg.Fetch.BaseURL,
		TimestampFilename: cfg.Fetch.TimestampFilename,
		CSVFilename:       cfg.Fetch.CSVFilename,
		Username:          cfg.Fetch.Username,
		Password:          cfg.Fetch.Password,
		DownloadDir:       cfg.IntakeDir,
		StabilityDelay:    time.Duration(cfg.Fetch.StabilityDelaySec) * time.Second,
		RequestTimeout:    time.Duration(cfg.Fetch.RequestTimeoutSec) * time.Second,
		Site:              cfg.Site,
	}, st)
	uploader := upload.New(upload.Config{
		AccountName: cfg.Upload.AccountName,
		Container:   cfg.Upload.Container,
		SASToken:    cfg.Upload.SASToken,
		Site:        cfg.Site,
		Endpoint:    cfg.Upload.Endpoint,
	})

	return jobs.Registry{
		jobs.StageIngest:  ingestStage(cfg, st),
		jobs.StageFetch:   fetchStage(cfg, st, fetcher),
		jobs.StageQC:      qcStage(cfg, st, engine),
		jobs.StageFuse:    fuseStage(cfg),
		jobs.StageUpload:  uploadStage(cfg, uploader),
		jobs.StageArchive: archiveStage(cfg, st),
	}
}

// ingestStage registers every processable intake file with the store so runs
// and the reprocess helper can tell new files from handled ones.
func ingestStage(cfg config.Config, st *store.Store) jobs.StageFunc {
	return func(ctx context.Context, exec jobs.ExecutionContext, runID string) error {
		paths, err := qc.ListRawFiles(cfg.IntakeDir)
		if err != nil {
			if os.IsNotExist(err) {
				exec.Logf(runID, "intake dir missing, nothing to ingest")
				return os.MkdirAll(cfg.IntakeDir, 0o755)
			}
			return err
		}
		for _, path := range paths {
			name := filepath.Base(path)
			origin := qc.DetectOrigin(name)
			if err := st.UpsertFile(ctx, name, origin, string(jobs.StageIngest), store.FileStatusSeen, nil, config.Now()); err != nil {
				return err
			}
		}
		exec.Logf(runID, fmt.Sprintf("ingest registered %d files", len(paths)))
		return nil
	}
}

// fetchStage polls the ColiMinder endpoint when one is configured. A poll
// failure degrades the run (the rest of the pipeline still uses local files).
func fetchStage(cfg config.Config, st *store.Store, fetcher *fetch.Fetcher) jobs.StageFunc {
	return func(ctx context.Context, exec jobs.ExecutionContext, runID string) error {
		if cfg.Fetch.BaseURL == "" {
			exec.Logf(runID, "fetch skipped: no endpoint configured")
			return nil
		}
		path, err := fetcher.FetchOnce(ctx)
		if err != nil {
			log.Printf("fetch failed: %v", err)
			exec.Logf(runID, fmt.Sprintf("fetch failed: %v", err))
			return nil
		}
		name := filepath.Base(path)
		exec.Logf(runID, "fetched "+name)
		return st.UpsertFile(ctx, name, qc.OriginColiMinder, string(jobs.StageFetch), store.FileStatusSeen, nil, config.Now())
	}
}

func qcStage(cfg config.Config, st *store.Store, engine *qc.Engine) jobs.StageFunc {
	return func(ctx context.Context, exec jobs.ExecutionContext, runID string) error {
		paths, err := qc.ListRawFiles(cfg.IntakeDir)
		if err != nil {
			return err
		}
		for _, path := range paths {
			name := filepath.Base(path)
			res, err := engine.ProcessFile(path)
			switch {
			case err != nil:
				msg := err.Error()
				_ = st.UpsertFile(ctx, name, qc.DetectOrigin(name), string(jobs.StageQC), store.FileStatusError, &msg, config.Now())
				if exec.Metrics != nil {
					exec.Metrics.RecordFile(false, false)
				}
				exec.Logf(runID, fmt.Sprintf("qc failed %s: %v", name, err))
			case res == nil:
				_ = st.UpsertFile(ctx, name, qc.DetectOrigin(name), string(jobs.StageQC), store.FileStatusSkipped, nil, config.Now())
				if exec.Metrics != nil {
					exec.Metrics.RecordFile(false, true)
				}
			default:
				_ = st.UpsertFile(ctx, name, res.Origin, string(jobs.StageQC), store.FileStatusProcessed, nil, config.Now())
				if exec.Metrics != nil {
					exec.Metrics.RecordFile(true, false)
				}
				exec.Logf(runID, fmt.Sprintf("qc processed %s -> %s", name, filepath.Base(res.CleanedPath)))
			}
		}
		return nil
	}
}

func fuseStage(cfg config.Config) jobs.StageFunc {
	cleanedDir := filepath.Join(cfg.OutputDir, "cleaned")
	combinedDir := filepath.Join(cfg.OutputDir, "combined")
	return func(ctx context.Context, exec jobs.ExecutionContext, runID string) error {
		if _, err := os.Stat(cleanedDir); os.IsNotExist(err) {
			exec.Logf(runID, "fuse skipped: no cleaned artifacts")
			return nil
		}
		if cfg.FusionMode == "inject" {
			obsPath, _, err := fuse.FindLatestPair(cleanedDir)
			if err != nil {
				return err
			}
			if obsPath == "" {
				exec.Logf(runID, "inject skipped: no cleaned primary file")
				return nil
			}
			coliPath := latestRawColiMinder(cfg.IntakeDir)
			stats, err := fuse.InjectColiMinder(obsPath, coliPath)
			if err != nil {
				return err
			}
			if exec.Metrics != nil {
				exec.Metrics.RecordFusion(stats.Matched, stats.Unmatched)
			}
			exec.Logf(runID, fmt.Sprintf("inject merged %d of %d secondary rows", stats.Matched, stats.TotalSecondary))
			return nil
		}
		outputs, err := fuse.CombineCleaned(cleanedDir, combinedDir)
		if err != nil {
			return err
		}
		exec.Logf(runID, fmt.Sprintf("combine wrote %d artifacts", len(outputs)))
		return nil
	}
}

// uploadStage ships each artifact directory to blob storage. Upload failures
// degrade the run; failed files stay local for the next pass.
func uploadStage(cfg config.Config, uploader *upload.Uploader) jobs.StageFunc {
	targets := []struct {
		dir      string
		category string
	}{
		{cfg.IntakeDir, upload.CategoryRaw},
		{filepath.Join(cfg.OutputDir, "flagged"), upload.CategoryFlagged},
		{filepath.Join(cfg.OutputDir, "cleaned"), upload.CategoryClean},
		{filepath.Join(cfg.OutputDir, "combined"), upload.CategoryCombined},
	}
	return func(ctx context.Context, exec jobs.ExecutionContext, runID string) error {
		if !uploader.Enabled() {
			exec.Logf(runID, "upload skipped: storage not configured")
			return nil
		}
		total, failed := 0, 0
		for _, target := range targets {
			paths := listCSV(target.dir)
			total += len(paths)
			failed += len(uploader.UploadAll(ctx, paths, target.category))
		}
		exec.Logf(runID, fmt.Sprintf("upload done total=%d failed=%d", total, failed))
		return nil
	}
}

// archiveStage moves processed raw inputs out of the intake dir so the next
// run starts clean. Files the QC stage could not process stay behind.
func archiveStage(cfg config.Config, st *store.Store) jobs.StageFunc {
	return func(ctx context.Context, exec jobs.ExecutionContext, runID string) error {
		statuses, err := st.FileStatuses(ctx)
		if err != nil {
			return err
		}
		paths, err := qc.ListRawFiles(cfg.IntakeDir)
		if err != nil {
			return err
		}
		moved := 0
		for _, path := range paths {
			name := filepath.Base(path)
			if statuses[name] != store.FileStatusProcessed {
				continue
			}
			if _, err := upload.Archive(path, cfg.ArchiveDir); err != nil {
				exec.Logf(runID, fmt.Sprintf("archive failed %s: %v", name, err))
				continue
			}
			moved++
		}
		exec.Logf(runID, fmt.Sprintf("archived %d files", moved))
		return nil
	}
}

func latestRawColiMinder(intakeDir string) string {
	entries, err := os.ReadDir(intakeDir)
	if err != nil {
		return ""
	}
	var best string
	var bestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".csv") {
			continue
		}
		if qc.DetectOrigin(entry.Name()) != qc.OriginColiMinder {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = filepath.Join(intakeDir, entry.Name())
			bestMod = info.ModTime()
		}
	}
	return best
}

func listCSV(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".csv") {
			continue
		}
		out = append(out, filepath.Join(dir, entry.Name()))
	}
	return out
}
