package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/ecompipe/internal/cleanse"
	"github.com/JonMunkholm/ecompipe/internal/config"
	"github.com/JonMunkholm/ecompipe/internal/core"
	"github.com/JonMunkholm/ecompipe/internal/logging"
	"github.com/JonMunkholm/ecompipe/internal/quality"
	"github.com/JonMunkholm/ecompipe/internal/scd"
	"github.com/JonMunkholm/ecompipe/internal/warehouse"

	_ "github.com/JonMunkholm/ecompipe/internal/core/entities"
)

// Controller runs the pipeline. One run executes at a time per controller.
type Controller struct {
	store   Store
	cfg     config.PipelineConfig
	gen     config.GenerateConfig
	rules   *config.Rules
	sink    quality.Sink
	limiter *core.RunLimiter
	clock   Clock
	newID   func() string
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock injects the clock used for run timestamps and retry waits.
func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithLimiter replaces the default single-run limiter, e.g. to share one
// between the scheduler and the status API.
func WithLimiter(l *core.RunLimiter) Option {
	return func(c *Controller) { c.limiter = l }
}

// WithRunIDs overrides run ID generation.
func WithRunIDs(fn func() string) Option {
	return func(c *Controller) { c.newID = fn }
}

// New creates a Controller. A nil sink discards reports.
func New(store Store, cfg config.PipelineConfig, gen config.GenerateConfig, rules *config.Rules, sink quality.Sink, opts ...Option) *Controller {
	if rules == nil {
		rules = config.DefaultRules()
	}
	if sink == nil {
		sink = quality.MultiSink{}
	}
	c := &Controller{
		store:   store,
		cfg:     cfg,
		gen:     gen,
		rules:   rules,
		sink:    sink,
		limiter: core.NewRunLimiter(core.DefaultMaxConcurrentRuns, core.DefaultMaxWaitTime),
		clock:   SystemClock(),
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Limiter returns the run limiter guarding this controller.
func (c *Controller) Limiter() *core.RunLimiter { return c.limiter }

// Run executes one pipeline run and returns its result. It waits up to the
// limiter's max wait for a running run to finish; the only error is failing
// to acquire the limiter. A failed run is reported through RunResult.Status.
func (c *Controller) Run(ctx context.Context) (*RunResult, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.limiter.Release()
	return c.execute(ctx, c.newID()), nil
}

// Trigger starts a run in the background and returns its ID, or
// core.ErrRunInProgress when a run is already executing. The run outlives
// ctx's cancellation.
func (c *Controller) Trigger(ctx context.Context) (string, error) {
	if !c.limiter.TryAcquire() {
		return "", core.ErrRunInProgress
	}
	runID := c.newID()
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer c.limiter.Release()
		c.execute(runCtx, runID)
	}()
	return runID, nil
}

// run holds the state passed between the stages of one run.
type run struct {
	*Controller
	ctx    context.Context
	result *RunResult
	halted bool

	staged   map[string][]core.StagedRecord
	reports  map[string]*quality.Report
	cleansed map[string]*cleanse.Result
}

func (c *Controller) execute(ctx context.Context, runID string) *RunResult {
	ctx = logging.WithRunID(ctx, runID)
	logger := logging.FromContext(ctx)

	now := c.clock.Now()
	r := &run{
		Controller: c,
		ctx:        ctx,
		result: &RunResult{
			RunID:      runID,
			Status:     core.RunSuccess,
			AsOf:       core.Day(now),
			StartedAt:  now,
			Quality:    make(map[string]QualitySummary),
			Transform:  make(map[string]cleanse.Report),
			Dimensions: make(map[string]scd.Counts),
		},
	}

	logger.Info("pipeline run started", "as_of", r.result.AsOf.Format(core.DateLayout))

	r.stage(StageGenerate, r.generate)
	r.stage(StageIngest, r.ingest)
	r.stage(StageValidate, r.validate)
	r.stage(StageTransform, r.transform)
	r.stage(StageLoadWarehouse, r.loadWarehouse)
	r.stage(StageAggregate, r.aggregate)

	r.result.FinishedAt = c.clock.Now()
	if err := c.sink.PutRun(ctx, runID, r.result); err != nil {
		logger.Error("failed to write run summary", "error", err)
	}

	logger.Info("pipeline run finished",
		"status", r.result.Status,
		"duration_ms", r.result.FinishedAt.Sub(r.result.StartedAt).Milliseconds(),
	)
	return r.result
}

// stage runs fn under the retry policy and appends its execution-log entry.
// Once a stage fails, every later stage is logged as skipped.
func (r *run) stage(name string, fn func(ctx context.Context) (stageOutcome, error)) {
	logger := logging.WithFields(r.ctx, "stage", name)

	entry := core.ExecutionLogEntry{
		RunID:     r.result.RunID,
		Stage:     name,
		StartedAt: r.clock.Now(),
	}
	if r.halted {
		entry.Status = core.StageSkipped
		r.record(entry, logger)
		return
	}

	retry := NewRetry(r.cfg.MaxRetries, r.cfg.RetryBackoff)
	var (
		out stageOutcome
		err error
	)
	for {
		retry.Begin()
		out, err = fn(r.ctx)
		if err == nil || !retry.Failed(err, r.clock.Now()) {
			break
		}
		logger.Warn("stage failed, retrying",
			"attempt", retry.Attempt,
			"next_attempt_at", retry.NextEligible,
			"error", err,
		)
		if werr := retry.Wait(r.ctx, r.clock); werr != nil {
			err = fmt.Errorf("%w (retry wait: %v)", err, werr)
			break
		}
	}

	finished := r.clock.Now()
	entry.Attempts = retry.Attempt
	entry.RowsIn = out.rowsIn
	entry.RowsOut = out.rowsOut
	entry.DurationMS = finished.Sub(entry.StartedAt).Milliseconds()

	switch {
	case err != nil:
		entry.Status = core.StageFailed
		entry.ErrorKind = core.KindOf(err).String()
		entry.ErrorDetail = core.ErrorDetail(err)
		r.halted = true
		logger.Error("stage failed", "attempts", retry.Attempt, "error_kind", entry.ErrorKind, "error", err)
	case out.skipped:
		entry.Status = core.StageSkipped
	default:
		entry.Status = core.StageSuccess
		if len(out.warnings) > 0 {
			entry.ErrorKind = core.KindOf(out.warnings[0]).String()
			details := make([]string, len(out.warnings))
			for i, w := range out.warnings {
				details[i] = core.ErrorDetail(w)
				r.result.Warnings = append(r.result.Warnings, w.Error())
			}
			entry.ErrorDetail = strings.Join(details, "; ")
		}
	}

	r.record(entry, logger)
}

func (r *run) record(entry core.ExecutionLogEntry, logger *slog.Logger) {
	r.result.Stages = append(r.result.Stages, entry)
	r.result.Status = core.WorseStatus(r.result.Status, entry.RunStatus())

	logger.Info("stage finished",
		"status", entry.Status,
		"rows_in", entry.RowsIn,
		"rows_out", entry.RowsOut,
		"duration_ms", entry.DurationMS,
	)

	// A lost log entry never fails the run.
	if err := r.store.AppendExecutionLog(r.ctx, entry); err != nil {
		logger.Error("failed to append execution log", "error", err)
	}
}

// ----------------------------------------------------------------------------
// Stages
// ----------------------------------------------------------------------------

func (r *run) rawDir() string { return filepath.Join(r.cfg.DataDir, "raw") }

func (r *run) generate(ctx context.Context) (stageOutcome, error) {
	if !r.cfg.Generate {
		return stageOutcome{skipped: true}, nil
	}
	meta, err := Generate(r.rawDir(), r.gen, r.result.AsOf)
	if err != nil {
		return stageOutcome{}, err
	}
	total := 0
	for _, n := range meta.Counts {
		total += n
	}
	return stageOutcome{rowsOut: total}, nil
}

func (r *run) ingest(ctx context.Context) (stageOutcome, error) {
	var out stageOutcome
	ingestedAt := r.clock.Now()
	for _, def := range core.All() {
		rows, err := ReadEntityFile(filepath.Join(r.rawDir(), def.FileName), def, ingestedAt)
		if err != nil {
			return out, err
		}
		n, err := r.store.ReplaceStaging(ctx, def.Name, rows)
		if err != nil {
			return out, fmt.Errorf("stage %s: %w", def.Name, err)
		}
		out.rowsIn += len(rows)
		out.rowsOut += n
	}
	return out, nil
}

func (r *run) validate(ctx context.Context) (stageOutcome, error) {
	var out stageOutcome
	defs := core.All()

	staged := make(map[string][]core.StagedRecord, len(defs))
	parents := quality.ParentKeys{}
	for _, def := range defs {
		rows, err := r.store.Staged(ctx, def.Name)
		if err != nil {
			return out, fmt.Errorf("read staging %s: %w", def.Name, err)
		}
		staged[def.Name] = rows
		for _, row := range rows {
			if key, ok := row.Get(def.BusinessKey); ok {
				parents.Add(def.Name, key)
			}
		}
		keys, err := r.store.ProductionKeys(ctx, def.Name)
		if err != nil {
			return out, fmt.Errorf("read production keys %s: %w", def.Name, err)
		}
		parents.Add(def.Name, keys...)
		out.rowsIn += len(rows)
	}

	reports, err := forEachEntity(ctx, r.cfg.Workers, defs, func(def core.EntityDefinition) (*quality.Report, error) {
		return quality.Evaluate(def.Name, staged[def.Name], r.rules,
			quality.WithParents(parents), quality.WithAsOf(r.result.AsOf))
	})
	if err != nil {
		return out, err
	}

	r.staged = staged
	r.reports = make(map[string]*quality.Report, len(reports))
	ordered := make([]*quality.Report, len(defs))
	var failing []string
	for i, def := range defs {
		rep := reports[i]
		ordered[i] = rep
		r.reports[def.Name] = rep
		passed := rep.Passed(r.cfg.QualityGateThreshold)
		if !passed {
			failing = append(failing, fmt.Sprintf("%s (%.2f)", def.Name, rep.Score))
		}
		r.result.Quality[def.Name] = QualitySummary{
			Score:         rep.Score,
			Grade:         rep.Grade,
			RowsEvaluated: rep.RowsEvaluated,
			Findings:      len(rep.Findings),
			Passed:        passed,
		}
	}
	out.rowsOut = out.rowsIn

	if err := r.sink.PutReports(ctx, r.result.RunID, ordered); err != nil {
		out.warnings = append(out.warnings, fmt.Errorf("write quality reports: %w", err))
	}

	if len(failing) > 0 {
		gateErr := core.QualityGate("pipeline.validate", fmt.Errorf(
			"score below threshold %.2f: %s", r.cfg.QualityGateThreshold, strings.Join(failing, ", ")))
		if !r.cfg.ContinueOnQualityFailure {
			return out, gateErr
		}
		out.warnings = append([]error{gateErr}, out.warnings...)
	}
	return out, nil
}

func (r *run) transform(ctx context.Context) (stageOutcome, error) {
	var out stageOutcome
	defs := core.All()

	results, err := forEachEntity(ctx, r.cfg.Workers, defs, func(def core.EntityDefinition) (*cleanse.Result, error) {
		return cleanse.Transform(def.Name, r.staged[def.Name], r.reports[def.Name])
	})
	if err != nil {
		return out, err
	}

	r.cleansed = make(map[string]*cleanse.Result, len(defs))
	batches := make(map[string][]core.CleansedRecord, len(defs))
	dropped := 0
	for i, def := range defs {
		res := results[i]
		r.cleansed[def.Name] = res
		r.result.Transform[def.Name] = res.Report
		batches[def.Name] = res.Records
		out.rowsIn += res.Report.RowsIn
		dropped += res.Report.RowsDropped
	}

	written, err := r.store.UpsertProduction(ctx, batches)
	if err != nil {
		return out, fmt.Errorf("upsert production: %w", err)
	}
	for _, n := range written {
		out.rowsOut += n
	}

	if dropped > 0 {
		out.warnings = append(out.warnings,
			core.RowRepair("pipeline.transform", fmt.Errorf("%d rows dropped during cleansing", dropped)))
	}
	return out, nil
}

func (r *run) loadWarehouse(ctx context.Context) (stageOutcome, error) {
	var out stageOutcome
	logger := logging.WithFields(ctx, "stage", StageLoadWarehouse)
	loader := warehouse.NewLoader(r.store, logger)

	txns := r.cleansed[core.EntityTransactions].Transactions()
	items := r.cleansed[core.EntityTransactionItems].Items()
	out.rowsIn = len(items)

	if from, to, ok := warehouse.DateBounds(txns); ok {
		if _, err := loader.EnsureDates(ctx, from, to); err != nil {
			return out, err
		}
	}
	if _, err := loader.EnsurePaymentMethods(ctx, paymentMethods(txns)); err != nil {
		return out, err
	}

	dims, err := r.applyDimensions(ctx, logger)
	if err != nil {
		return out, err
	}
	r.result.Dimensions = dims
	for _, dim := range []string{scd.DimCustomers, scd.DimProducts} {
		if n := dims[dim].OutOfOrder; n > 0 {
			out.warnings = append(out.warnings, core.RowRepair("pipeline.load_warehouse",
				fmt.Errorf("%d %s snapshots older than their current version", n, dim)))
		}
	}

	// Items may reference headers promoted by an earlier run.
	allTxns, err := r.store.Transactions(ctx)
	if err != nil {
		return out, fmt.Errorf("read production transactions: %w", err)
	}
	res, err := loader.LoadFacts(ctx, allTxns, items)
	if err != nil {
		return out, err
	}
	r.result.Facts = &res
	out.rowsOut = res.Inserted

	if res.Unresolved > 0 {
		out.warnings = append(out.warnings,
			core.RowRepair("pipeline.load_warehouse", fmt.Errorf("%d fact rows unresolved", res.Unresolved)))
	}
	return out, nil
}

func (r *run) aggregate(ctx context.Context) (stageOutcome, error) {
	if r.result.Facts == nil || r.result.Facts.Scope == nil || r.result.Facts.Scope.Empty() {
		r.result.Aggregates = &warehouse.AggregateResult{}
		return stageOutcome{}, nil
	}
	loader := warehouse.NewLoader(r.store, logging.WithFields(ctx, "stage", StageAggregate))
	res, err := loader.RecomputeAggregates(ctx, r.result.Facts.Scope)
	if err != nil {
		return stageOutcome{}, err
	}
	r.result.Aggregates = &res
	return stageOutcome{
		rowsIn:  r.result.Facts.Inserted + r.result.Facts.Skipped,
		rowsOut: res.DailySales + res.ProductSales + res.CustomerLifetime,
	}, nil
}

// paymentMethods returns the canonical names plus any others seen in txns.
func paymentMethods(txns []core.Transaction) []string {
	seen := make(map[string]bool, len(core.PaymentMethods))
	names := make([]string, 0, len(core.PaymentMethods))
	for _, n := range core.PaymentMethods {
		seen[n] = true
		names = append(names, n)
	}
	for _, t := range txns {
		if t.PaymentMethod != "" && !seen[t.PaymentMethod] {
			seen[t.PaymentMethod] = true
			names = append(names, t.PaymentMethod)
		}
	}
	return names
}

// applyDimensions versions the customer and product snapshots cleansed in
// this run, effective as of the run date.
func (r *run) applyDimensions(ctx context.Context, logger *slog.Logger) (map[string]scd.Counts, error) {
	snapshots := map[string]map[string]map[string]string{
		scd.DimCustomers: {},
		scd.DimProducts:  {},
	}
	for _, c := range r.cleansed[core.EntityCustomers].Customers() {
		snapshots[scd.DimCustomers][c.CustomerID] = c.Attributes()
	}
	for _, p := range r.cleansed[core.EntityProducts].Products() {
		snapshots[scd.DimProducts][p.ProductID] = p.Attributes()
	}

	counts := make(map[string]scd.Counts, len(snapshots))
	for _, dim := range []string{scd.DimCustomers, scd.DimProducts} {
		v := scd.New(r.store, dim, r.rules.Tracked(dim),
			scd.WithWorkers(r.cfg.Workers),
			scd.WithLogger(logger.With("dimension", dim)),
		)
		n, _, err := v.ApplyAll(ctx, snapshots[dim], r.result.AsOf)
		counts[dim] = n
		if err != nil {
			return counts, fmt.Errorf("apply %s snapshots: %w", dim, err)
		}
		logger.Info("dimension applied",
			"dimension", dim,
			"first_version", n.FirstVersion,
			"new_version", n.NewVersion,
			"unchanged", n.Unchanged,
			"out_of_order", n.OutOfOrder,
		)
	}
	return counts, nil
}

// forEachEntity runs fn for every definition with at most workers in
// flight and returns the results in definition order. The first error
// cancels the rest.
func forEachEntity[T any](ctx context.Context, workers int, defs []core.EntityDefinition, fn func(def core.EntityDefinition) (T, error)) ([]T, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]T, len(defs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, def := range defs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := fn(def)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
