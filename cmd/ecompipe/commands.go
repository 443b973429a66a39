package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/ecompipe/internal/core"
	"github.com/JonMunkholm/ecompipe/internal/pipeline"
	"github.com/JonMunkholm/ecompipe/internal/store"
	"github.com/JonMunkholm/ecompipe/internal/store/sqlrepo"
	"github.com/JonMunkholm/ecompipe/internal/web"
)

var runFlags struct {
	dryRun   bool
	generate bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once and print the run summary",
	Long: `Run every stage once (generate, ingest, validate, transform, load_warehouse,
aggregate) and print the run summary as JSON.

Exits non-zero when the run failed or was halted by the quality gate.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("generate") {
			cfg.Pipeline.Generate = runFlags.generate
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap(ctx, runFlags.dryRun)
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.controller.Run(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encode run summary: %w", err)
		}

		switch result.Status {
		case core.RunFailed, core.RunQualityGateHalted:
			return fmt.Errorf("run %s finished with status %s", result.RunID, result.Status)
		}
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline daily at PIPELINE_SCHEDULE_AT (UTC)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap(ctx, false)
		if err != nil {
			return err
		}
		defer a.close()

		err = pipeline.NewScheduler(a.controller, cfg.Pipeline).Run(ctx)
		drain(a)
		return err
	},
}

var serveFlags struct {
	dryRun     bool
	noSchedule bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the status API and run the daily schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap(ctx, serveFlags.dryRun)
		if err != nil {
			return err
		}
		defer a.close()

		server := web.NewServer(cfg.Server, web.Deps{
			Runs:    a.store,
			Trigger: a.controller,
			Reports: a.reports,
			Pinger:  a.pinger(),
		})

		schedDone := make(chan error, 1)
		if serveFlags.noSchedule {
			schedDone <- nil
		} else {
			go func() { schedDone <- pipeline.NewScheduler(a.controller, cfg.Pipeline).Run(ctx) }()
		}

		serveErr := make(chan error, 1)
		go func() { serveErr <- server.Start() }()

		select {
		case <-ctx.Done():
			slog.Info("shutting down")
		case err := <-serveErr:
			if !errors.Is(err, http.ErrServerClosed) {
				stop()
				<-schedDone
				return fmt.Errorf("status api: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		stop()
		if err := <-schedDone; err != nil {
			slog.Error("scheduler stopped", "error", err)
		}
		drain(a)
		return nil
	},
}

// drain waits up to the shutdown timeout for an in-flight run to finish.
func drain(a *app) {
	limiter := a.controller.Limiter()
	if limiter.ActiveCount() == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("waiting for active run to finish", "active", limiter.ActiveCount())
	if err := limiter.WaitForDrain(ctx); err != nil {
		slog.Warn("run did not finish before shutdown", "error", err)
		return
	}
	slog.Info("active run finished")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}
		db, err := store.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		return sqlrepo.Migrate(cmd.Context(), db)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete raw CSV files older than PIPELINE_RAW_RETENTION_DAYS",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := filepath.Join(cfg.Pipeline.DataDir, "raw")
		removed, err := pipeline.CleanupRaw(dir, cfg.Pipeline.RawRetentionDays, time.Now())
		for _, name := range removed {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		slog.Info("raw cleanup finished", "dir", dir, "removed", len(removed))
		return err
	},
}

func init() {
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "Use the in-memory store instead of PostgreSQL")
	runCmd.Flags().BoolVar(&runFlags.generate, "generate", false, "Generate synthetic raw files before ingesting (overrides PIPELINE_GENERATE)")

	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "Use the in-memory store instead of PostgreSQL")
	serveCmd.Flags().BoolVar(&serveFlags.noSchedule, "no-schedule", false, "Serve the API without the daily schedule")
}
