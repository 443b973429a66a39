package core

import "time"

// Stage status values recorded in the execution log.
const (
	StageSuccess = "success"
	StageFailed  = "failed"
	StageSkipped = "skipped"
)

// Final run statuses, worst first.
const (
	RunFailed              = "failed"
	RunQualityGateHalted   = "quality_gate_halted"
	RunSuccessWithWarnings = "success_with_warnings"
	RunSuccess             = "success"
)

// runSeverity orders run statuses; higher is worse.
var runSeverity = map[string]int{
	RunSuccess:             0,
	RunSuccessWithWarnings: 1,
	RunQualityGateHalted:   2,
	RunFailed:              3,
}

// WorseStatus returns the worse of two run statuses.
func WorseStatus(a, b string) string {
	if runSeverity[b] > runSeverity[a] {
		return b
	}
	return a
}

// ExecutionLogEntry is one append-only row of pipeline_execution_log.
// A successful stage may still carry an ErrorKind: a passed-through quality
// gate failure or dropped rows are recorded that way as warnings.
type ExecutionLogEntry struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	Stage       string    `json:"stage"`
	Status      string    `json:"status"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	RowsIn      int       `json:"rows_in"`
	RowsOut     int       `json:"rows_out"`
	Attempts    int       `json:"attempts"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// RunStatus derives the final status this entry contributes to its run.
func (e ExecutionLogEntry) RunStatus() string {
	qualityGate := e.ErrorKind == KindQualityGate.String()
	switch {
	case e.Status == StageFailed && qualityGate:
		return RunQualityGateHalted
	case e.Status == StageFailed:
		return RunFailed
	case e.ErrorKind != "":
		return RunSuccessWithWarnings
	default:
		return RunSuccess
	}
}

// RunSummary groups a run's log entries for the status API.
type RunSummary struct {
	RunID     string              `json:"run_id"`
	StartedAt time.Time           `json:"started_at"`
	Status    string              `json:"status"`
	Stages    []ExecutionLogEntry `json:"stages"`
}

// SummarizeRuns groups entries by run, preserving the first-seen run order.
func SummarizeRuns(entries []ExecutionLogEntry) []RunSummary {
	var out []RunSummary
	index := make(map[string]int)

	for _, e := range entries {
		i, ok := index[e.RunID]
		if !ok {
			i = len(out)
			index[e.RunID] = i
			out = append(out, RunSummary{RunID: e.RunID, StartedAt: e.StartedAt, Status: RunSuccess})
		}
		s := &out[i]
		if e.StartedAt.Before(s.StartedAt) {
			s.StartedAt = e.StartedAt
		}
		s.Status = WorseStatus(s.Status, e.RunStatus())
		s.Stages = append(s.Stages, e)
	}
	return out
}
