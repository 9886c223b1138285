package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"hydroqc/internal/config"
	"hydroqc/internal/events"
	"hydroqc/internal/jobs"
	"hydroqc/internal/store"
	"hydroqc/metrics"
	"hydroqc/qc"
)

// Router builds HTTP handlers for /api and /ops.
type Router struct {
	cfg     config.Config
	store   *store.Store
	runner  *jobs.Runner
	metrics *metrics.Metrics
	bus     *events.Bus
}

func NewRouter(cfg config.Config, st *store.Store, runner *jobs.Runner, m *metrics.Metrics, bus *events.Bus) *Router {
	return &Router{cfg: cfg, store: st, runner: runner, metrics: m, bus: bus}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ops/health", r.health)
	mux.HandleFunc("/ops/status", r.status)
	mux.HandleFunc("/ops/process", r.process)
	mux.HandleFunc("/ops/fetch", r.fetch)
	mux.HandleFunc("/ops/upload", r.upload)
	mux.HandleFunc("/ops/backfill", r.backfill)
	mux.HandleFunc("/ops/runs", r.runs)
	mux.HandleFunc("/ops/runs/", r.runDetail)
	mux.HandleFunc("/ops/events", r.events)
	mux.HandleFunc("/api/files", r.files)
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if err := r.store.Health(req.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !r.runner.Healthy() {
		http.Error(w, "worker pool not started", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) status(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	runs, _ := r.store.ListRuns(ctx, 10)
	files, _ := r.store.ListFiles(ctx, 20)
	stats := r.runner.QueueStats()
	r.metrics.UpdateQueue(stats.Length, stats.Capacity, stats.WorkerCount)
	respondJSON(w, map[string]any{
		"metrics": r.metrics.Snapshot(),
		"runs":    runs,
		"files":   files,
	})
}

func (r *Router) process(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	run, err := r.runner.EnqueueRun(req.Context(), "api", nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, run)
}

func (r *Router) fetch(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	run, err := r.runner.EnqueueRun(req.Context(), "api-fetch", []jobs.Stage{jobs.StageFetch})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, run)
}

// upload receives one CSV as multipart form data, drops it into the intake
// dir, and queues a run. The filename must carry a recognizable origin.
func (r *Router) upload(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	file, header, err := req.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !strings.HasSuffix(strings.ToLower(name), ".csv") {
		http.Error(w, "only CSV files are accepted", http.StatusBadRequest)
		return
	}
	if qc.DetectOrigin(name) == "" && !strings.EqualFold(name, qc.DiaryFilename) {
		http.Error(w, fmt.Sprintf("cannot detect origin from filename %q", name), http.StatusBadRequest)
		return
	}
	if err := os.MkdirAll(r.cfg.IntakeDir, 0o755); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	dest, err := os.Create(filepath.Join(r.cfg.IntakeDir, name))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(dest, file); err != nil {
		dest.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	dest.Close()

	run, err := r.runner.EnqueueRun(req.Context(), "upload", nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, map[string]any{"filename": name, "run": run})
}

func (r *Router) runs(w http.ResponseWriter, req *http.Request) {
	list, err := r.store.ListRuns(req.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, list)
}

func (r *Router) runDetail(w http.ResponseWriter, req *http.Request) {
	// /ops/runs/{id} or /ops/runs/{id}/logs
	path := strings.TrimPrefix(req.URL.Path, "/ops/runs/")
	if id, ok := strings.CutSuffix(path, "/logs"); ok {
		lines, err := r.store.RunLogs(req.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(lines) == 0 {
			lines = r.runner.Logs(id)
		}
		respondJSON(w, lines)
		return
	}
	run, err := r.store.GetRun(req.Context(), path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.NotFound(w, req)
		return
	}
	respondJSON(w, run)
}

func (r *Router) events(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, r.bus.Recent())
}

func (r *Router) files(w http.ResponseWriter, req *http.Request) {
	list, err := r.store.ListFiles(req.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, list)
}

func respondJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write json: %v", err)
	}
}
