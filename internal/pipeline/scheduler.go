package pipeline

// scheduler.go runs the pipeline once a day and applies raw-file retention
// after each scheduled run.
//
// The scheduler is long-running and stops with its context. A failed run or
// cleanup is logged and never stops the scheduler.

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/JonMunkholm/ecompipe/internal/config"
	"github.com/JonMunkholm/ecompipe/internal/core"
)

// Scheduler triggers daily runs of a Controller.
type Scheduler struct {
	controller    *Controller
	at            string
	rawDir        string
	retentionDays int
	now           func() time.Time
}

// NewScheduler schedules c daily at cfg.ScheduleAt (HH:MM, UTC).
func NewScheduler(c *Controller, cfg config.PipelineConfig) *Scheduler {
	return &Scheduler{
		controller:    c,
		at:            cfg.ScheduleAt,
		rawDir:        filepath.Join(cfg.DataDir, "raw"),
		retentionDays: cfg.RawRetentionDays,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is cancelled. It fails only when the schedule
// cannot be registered.
func (s *Scheduler) Run(ctx context.Context) error {
	cron := gocron.NewScheduler(time.UTC)

	job, err := cron.Every(1).Day().At(s.at).Do(s.tick, ctx)
	if err != nil {
		return core.Configuration("pipeline.schedule", fmt.Errorf("schedule at %q: %w", s.at, err))
	}

	cron.StartAsync()
	slog.Info("pipeline scheduler started",
		"at", s.at,
		"next_run", job.NextRun(),
		"raw_retention_days", s.retentionDays,
	)

	<-ctx.Done()

	cron.Stop()
	slog.Info("pipeline scheduler stopped")
	return nil
}

// tick performs one scheduled run followed by retention cleanup.
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	slog.Info("scheduled run started")

	res, err := s.controller.Run(ctx)
	if err != nil {
		slog.Error("scheduled run not started", "error", err)
	} else {
		slog.Info("scheduled run completed",
			"run_id", res.RunID,
			"status", res.Status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	cleanupStart := time.Now()
	removed, err := CleanupRaw(s.rawDir, s.retentionDays, s.now())
	if err != nil {
		slog.Error("raw retention cleanup failed", "error", err)
		return
	}
	slog.Info("raw retention cleanup completed",
		"files_removed", len(removed),
		"duration_ms", time.Since(cleanupStart).Milliseconds(),
	)
}
