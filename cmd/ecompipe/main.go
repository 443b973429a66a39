// Command ecompipe runs the e-commerce data-quality and warehouse pipeline:
// once, on a daily schedule, or behind the status API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/ecompipe/internal/config"
	_ "github.com/JonMunkholm/ecompipe/internal/core/entities" // Register entities
	"github.com/JonMunkholm/ecompipe/internal/logging"
	"github.com/JonMunkholm/ecompipe/internal/pipeline"
	"github.com/JonMunkholm/ecompipe/internal/quality"
	"github.com/JonMunkholm/ecompipe/internal/store"
	"github.com/JonMunkholm/ecompipe/internal/store/memstore"
	"github.com/JonMunkholm/ecompipe/internal/store/sqlrepo"
	"github.com/JonMunkholm/ecompipe/internal/web"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "ecompipe",
	Short:         "E-commerce data-quality and warehouse pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Overload lets a local .env win over the shell environment.
		if err := godotenv.Overload(); err != nil {
			slog.Debug("no .env file found, using environment variables")
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
		slog.Debug("configuration loaded", "config", cfg.String())
		return nil
	},
}

func main() {
	rootCmd.AddCommand(runCmd, scheduleCmd, serveCmd, migrateCmd, cleanupCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// statusStore is a pipeline store that also serves the execution log.
type statusStore interface {
	pipeline.Store
	web.RunLog
}

// app holds the wired collaborators of one process.
type app struct {
	store      statusStore
	db         *store.PgStore // nil on dry runs
	reports    *quality.FileSink
	controller *pipeline.Controller
}

// bootstrap wires the store, report sinks and controller. A dry run uses
// the in-memory store and needs no database.
func bootstrap(ctx context.Context, dryRun bool) (*app, error) {
	rules, err := config.LoadRules(cfg.Pipeline.RulesFile)
	if err != nil {
		return nil, err
	}

	a := &app{reports: quality.NewFileSink(filepath.Join(cfg.Pipeline.DataDir, "reports"))}

	if dryRun {
		a.store = memstore.New()
		slog.Info("dry run: using in-memory store")
	} else {
		if err := cfg.RequireDatabase(); err != nil {
			return nil, err
		}
		db, err := store.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.store = sqlrepo.New(db)
	}

	sinks := quality.MultiSink{a.reports}
	if cfg.ObjectStore.Enabled {
		remote, err := quality.NewMinIOSink(ctx, cfg.ObjectStore)
		if err != nil {
			a.close()
			return nil, err
		}
		sinks = append(sinks, remote)
		slog.Info("object store sink enabled", "endpoint", cfg.ObjectStore.Endpoint, "bucket", cfg.ObjectStore.Bucket)
	}

	a.controller = pipeline.New(a.store, cfg.Pipeline, cfg.Generate, rules, sinks)
	return a, nil
}

// pinger returns the database for health checks, or nil on dry runs.
func (a *app) pinger() web.Pinger {
	if a.db == nil {
		return nil
	}
	return a.db
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}
