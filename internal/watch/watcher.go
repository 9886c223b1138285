package watch

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"hydroqc/internal/config"
	"hydroqc/internal/jobs"
	"hydroqc/qc"
)

// Watcher monitors the intake dir for new sensor CSVs and enqueues pipeline
// runs. Events are debounced so a burst of dropped files becomes one run.
type Watcher struct {
	cfg    config.Config
	runner *jobs.Runner

	mu      sync.Mutex
	pending *time.Timer
}

const debounceWindow = 5 * time.Second

func New(cfg config.Config, runner *jobs.Runner) *Watcher {
	return &Watcher{cfg: cfg, runner: runner}
}

func (w *Watcher) Start(ctx context.Context) error {
	if !w.cfg.EnableWatcher {
		log.Println("watcher disabled")
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-watcher.Events:
				if w.relevantEvent(evt) {
					w.scheduleRun(ctx, filepath.Base(evt.Name))
				}
			case err := <-watcher.Errors:
				log.Printf("watcher error: %v", err)
			}
		}
	}()
	return watcher.Add(w.cfg.IntakeDir)
}

// relevantEvent matches create, rename, and in-place write of processable
// sensor CSVs. Writes share the debounce, so an appending logger still
// produces one run per burst.
func (w *Watcher) relevantEvent(evt fsnotify.Event) bool {
	return evt.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) != 0 && w.isSensorCSV(evt.Name)
}

func (w *Watcher) isSensorCSV(path string) bool {
	name := filepath.Base(path)
	if !strings.HasSuffix(strings.ToLower(name), ".csv") {
		return false
	}
	if strings.EqualFold(name, qc.DiaryFilename) {
		// Diary edits alone do not warrant a run.
		return false
	}
	return qc.DetectOrigin(name) != ""
}

func (w *Watcher) scheduleRun(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	log.Printf("watcher saw file=%s", name)
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(debounceWindow, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.runner.EnqueueRun(ctx, "watch", nil); err != nil {
			log.Printf("watcher enqueue failed: %v", err)
		}
	})
}

// Sweep enqueues one run when processable files already sit in the intake
// dir, covering files dropped while the service was down.
func (w *Watcher) Sweep(ctx context.Context) error {
	paths, err := qc.ListRawFiles(w.cfg.IntakeDir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return nil
	}
	log.Printf("watcher sweep found %d files", len(paths))
	_, err = w.runner.EnqueueRun(ctx, "sweep", nil)
	return err
}
