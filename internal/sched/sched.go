// Package sched runs the cron-triggered pipeline and fetch schedules.
package sched

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"

	"hydroqc/internal/config"
	"hydroqc/internal/jobs"
)

// Scheduler triggers runs on the configured cron specs. Empty specs disable
// the corresponding schedule.
type Scheduler struct {
	cfg    config.Config
	runner *jobs.Runner
	cron   *cron.Cron
}

func New(cfg config.Config, runner *jobs.Runner) *Scheduler {
	return &Scheduler{cfg: cfg, runner: runner, cron: cron.New()}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.ProcessCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.ProcessCron, func() {
			if _, err := s.runner.EnqueueRun(ctx, "cron", nil); err != nil {
				log.Printf("cron process enqueue failed: %v", err)
			}
		}); err != nil {
			return err
		}
		log.Printf("cron process schedule %q", s.cfg.ProcessCron)
	}
	if s.cfg.FetchCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.FetchCron, func() {
			if _, err := s.runner.EnqueueRun(ctx, "cron-fetch", []jobs.Stage{jobs.StageFetch}); err != nil {
				log.Printf("cron fetch enqueue failed: %v", err)
			}
		}); err != nil {
			return err
		}
		log.Printf("cron fetch schedule %q", s.cfg.FetchCron)
	}
	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
	return nil
}
