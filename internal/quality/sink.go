package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Sink persists quality reports and run summaries.
type Sink interface {
	PutReports(ctx context.Context, runID string, reports []*Report) error
	PutRun(ctx context.Context, runID string, summary any) error
}

// RunReports is the combined document for every entity evaluated in a run.
type RunReports struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Reports     []*Report `json:"reports"`
}

// ----------------------------------------------------------------------------
// FileSink
// ----------------------------------------------------------------------------

// FileSink writes reports as JSON files under a directory:
//
//	<dir>/quality_report_<entity>.json
//	<dir>/quality_report.json        (combined, latest run)
//	<dir>/runs/<run_id>.json
type FileSink struct {
	dir string
	now func() time.Time
}

// NewFileSink creates a sink rooted at dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir, now: time.Now}
}

// PutReports writes one file per entity plus the combined report.
func (s *FileSink) PutReports(ctx context.Context, runID string, reports []*Report) error {
	for _, r := range reports {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := fmt.Sprintf("quality_report_%s.json", r.Entity)
		if err := s.writeJSON(filepath.Join(s.dir, name), r); err != nil {
			return err
		}
	}

	combined := RunReports{RunID: runID, GeneratedAt: s.now().UTC(), Reports: reports}
	return s.writeJSON(filepath.Join(s.dir, "quality_report.json"), combined)
}

// PutRun writes the run summary to runs/<run_id>.json.
func (s *FileSink) PutRun(ctx context.Context, runID string, summary any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.writeJSON(filepath.Join(s.dir, "runs", runID+".json"), summary)
}

// Latest reads the combined report of the most recent run.
// Returns (nil, nil) when no run has written reports yet.
func (s *FileSink) Latest(ctx context.Context) (*RunReports, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, "quality_report.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest quality report: %w", err)
	}

	var rr RunReports
	if err := json.Unmarshal(data, &rr); err != nil {
		return nil, fmt.Errorf("decode latest quality report: %w", err)
	}
	return &rr, nil
}

// writeJSON writes v to a temp file and renames it into place, so readers
// never observe a partial document.
func (s *FileSink) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// MultiSink
// ----------------------------------------------------------------------------

// MultiSink fans out to several sinks. Every sink is attempted; errors are joined.
type MultiSink []Sink

func (m MultiSink) PutReports(ctx context.Context, runID string, reports []*Report) error {
	var errs []error
	for _, s := range m {
		if err := s.PutReports(ctx, runID, reports); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) PutRun(ctx context.Context, runID string, summary any) error {
	var errs []error
	for _, s := range m {
		if err := s.PutRun(ctx, runID, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
