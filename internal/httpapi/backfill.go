package httpapi

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"

	"hydroqc/backfill"
	"hydroqc/internal/config"
	"hydroqc/internal/jobs"
	"hydroqc/internal/store"
	"hydroqc/qc"
)

const defaultBackfillLimit = 50

// backfillRepo adapts the intake dir and the file table to a backfill pass.
// Selected files get their status reset so the QC stage picks them up again;
// one run is queued once the whole pass is marked.
type backfillRepo struct {
	cfg    config.Config
	store  *store.Store
	runner *jobs.Runner
}

func (b *backfillRepo) ListCandidates(ctx context.Context) ([]backfill.Record, error) {
	paths, err := qc.ListRawFiles(b.cfg.IntakeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	statuses, err := b.store.FileStatuses(ctx)
	if err != nil {
		return nil, err
	}
	var records []backfill.Record
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		name := info.Name()
		status, ok := statuses[name]
		if !ok {
			status = backfill.StatusSeen
		}
		records = append(records, backfill.Record{
			Filename:  name,
			Origin:    qc.DetectOrigin(name),
			ModTime:   info.ModTime(),
			SizeBytes: info.Size(),
			Status:    status,
		})
	}
	return records, nil
}

func (b *backfillRepo) QueueRecord(ctx context.Context, rec backfill.Record) (backfill.EnqueueResult, error) {
	err := b.store.UpsertFile(ctx, rec.Filename, rec.Origin, "BACKFILL", store.FileStatusSeen, nil, config.Now())
	if err != nil {
		return backfill.EnqueueResult{}, err
	}
	return backfill.EnqueueResult{Enqueued: true}, nil
}

func (b *backfillRepo) OnBackfillComplete(summary backfill.Summary) {
	if summary.Enqueued == 0 {
		return
	}
	if _, err := b.runner.EnqueueRun(context.Background(), "backfill", nil); err != nil {
		log.Printf("backfill run not queued: %v", err)
	}
}

func (r *Router) backfill(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := defaultBackfillLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	repo := &backfillRepo{cfg: r.cfg, store: r.store, runner: r.runner}
	backfill.Run(context.Background(), repo, limit)
	w.WriteHeader(http.StatusAccepted)
	respondJSON(w, map[string]any{"status": "backfill started", "limit": limit})
}
