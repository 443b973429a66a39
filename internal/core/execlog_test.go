package core

import (
	"testing"
	"time"
)

func TestWorseStatus(t *testing.T) {
	tests := []struct {
		a, b, want string
	}{
		{RunSuccess, RunSuccess, RunSuccess},
		{RunSuccess, RunSuccessWithWarnings, RunSuccessWithWarnings},
		{RunQualityGateHalted, RunSuccessWithWarnings, RunQualityGateHalted},
		{RunQualityGateHalted, RunFailed, RunFailed},
		{RunFailed, RunSuccess, RunFailed},
	}
	for _, tt := range tests {
		if got := WorseStatus(tt.a, tt.b); got != tt.want {
			t.Errorf("WorseStatus(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestExecutionLogEntry_RunStatus(t *testing.T) {
	gate := KindQualityGate.String()
	tests := []struct {
		name  string
		entry ExecutionLogEntry
		want  string
	}{
		{"clean success", ExecutionLogEntry{Status: StageSuccess}, RunSuccess},
		{"skipped", ExecutionLogEntry{Status: StageSkipped}, RunSuccess},
		{"gate passed through", ExecutionLogEntry{Status: StageSuccess, ErrorKind: gate}, RunSuccessWithWarnings},
		{"gate halted", ExecutionLogEntry{Status: StageFailed, ErrorKind: gate}, RunQualityGateHalted},
		{"fatal", ExecutionLogEntry{Status: StageFailed, ErrorKind: KindIntegrity.String()}, RunFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.RunStatus(); got != tt.want {
				t.Errorf("RunStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSummarizeRuns(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
	entries := []ExecutionLogEntry{
		{RunID: "b", Stage: "generate", Status: StageSuccess, StartedAt: t0.Add(time.Hour)},
		{RunID: "a", Stage: "generate", Status: StageSuccess, StartedAt: t0},
		{RunID: "b", Stage: "ingest", Status: StageFailed, ErrorKind: KindTransientStore.String(), StartedAt: t0.Add(61 * time.Minute)},
		{RunID: "a", Stage: "validate", Status: StageSuccess, ErrorKind: KindQualityGate.String(), StartedAt: t0.Add(time.Minute)},
	}

	got := SummarizeRuns(entries)
	if len(got) != 2 {
		t.Fatalf("got %d runs, want 2", len(got))
	}
	if got[0].RunID != "b" || got[0].Status != RunFailed || len(got[0].Stages) != 2 {
		t.Errorf("run b = %+v", got[0])
	}
	if got[1].RunID != "a" || got[1].Status != RunSuccessWithWarnings || !got[1].StartedAt.Equal(t0) {
		t.Errorf("run a = %+v", got[1])
	}
}
