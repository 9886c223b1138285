package app

import (
	"context"
	"log"
	"net/http"
	"os"

	"hydroqc/internal/config"
	"hydroqc/internal/events"
	"hydroqc/internal/httpapi"
	"hydroqc/internal/jobs"
	"hydroqc/internal/pipeline"
	"hydroqc/internal/sched"
	"hydroqc/internal/store"
	"hydroqc/internal/watch"
	"hydroqc/metrics"
)

// App wires the service components together.
type App struct {
	cfg     config.Config
	store   *store.Store
	runner  *jobs.Runner
	watcher *watch.Watcher
	sched   *sched.Scheduler
	mux     *http.ServeMux
}

func New(cfg config.Config) (*App, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	bus := events.NewBus()
	registry := pipeline.BuildRegistry(cfg, st)
	runner := jobs.NewRunner(cfg, st, m, bus, registry)
	watcher := watch.New(cfg, runner)
	scheduler := sched.New(cfg, runner)
	mux := http.NewServeMux()
	router := httpapi.NewRouter(cfg, st, runner, m, bus)
	router.Register(mux)
	return &App{cfg: cfg, store: st, runner: runner, watcher: watcher, sched: scheduler, mux: mux}, nil
}

// Run starts workers, watcher, schedules, and the HTTP server.
func (a *App) Run(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.IntakeDir, 0o755); err != nil {
		return err
	}
	a.runner.Start(ctx)
	if err := a.watcher.Start(ctx); err != nil {
		return err
	}
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	if err := a.watcher.Sweep(ctx); err != nil {
		log.Printf("startup sweep failed: %v", err)
	}
	srv := &http.Server{Addr: a.cfg.HTTPPort, Handler: a.mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	log.Printf("http listening on %s", a.cfg.HTTPPort)
	return srv.ListenAndServe()
}

func (a *App) Runner() *jobs.Runner { return a.runner }
func (a *App) Store() *store.Store  { return a.store }
func (a *App) Mux() *http.ServeMux  { return a.mux }
