package core

// error_messages.go maps technical errors to short operator-facing messages
// with a code. Codes appear in the execution log's error_detail and in the
// status API, so an operator can look up what happened without reading logs.
//
// # Store Errors (DB001-DB099)
//
//	DB001 - Connection refused: Unable to reach the database
//	DB002 - Connection reset: Database connection was interrupted
//	DB003 - Timeout: Store operation timed out
//	DB004 - Deadlock or serialization failure: Conflicting concurrent writes
//	DB005 - Too many connections: Database refused a new connection
//	DB006 - Duplicate key: A row with this key already exists
//	DB007 - Foreign key: Referenced row does not exist
//
// # Configuration Errors (CFG001-CFG099)
//
//	CFG001 - Invalid rules: Rule configuration is malformed
//	CFG002 - Missing setting: A required setting is not configured
//
// # Data Errors
//
//	QG001  - Quality gate failed: Score below the configured threshold
//	ROW001 - Row dropped: Unrecoverable row removed during cleansing
//	INT001 - Version chain broken: More than one current dimension version
//	INT002 - Duplicate business key: Cleansed output is not unique
//	SRC001 - Source file: Raw file missing or malformed
//
// # Run Control (RUN001-RUN099)
//
//	RUN001 - Run in progress: Another pipeline run holds the slot
//	RUN002 - Run not found: No execution log entries for the run ID
//	RUN003 - No quality report: No run has published reports yet
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: Check application logs for the run
//
// Patterns are matched case-insensitively with strings.Contains. The first
// match wins, so specific patterns come before general ones. When nothing
// matches, the error's Kind picks a code.

import (
	"fmt"
	"strings"
)

// UserMessage provides operator-facing error information.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Reference code
}

// String renders the message as "[CODE] Message".
func (m UserMessage) String() string {
	return fmt.Sprintf("[%s] %s", m.Code, m.Message)
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Data errors (checked first; their messages mention store terms too)
	// =========================================================================
	{"multiple current versions", UserMessage{"Dimension version chain is broken", "Halt loads and inspect the dimension history", "INT001"}},
	{"duplicate business key", UserMessage{"Cleansed output has duplicate business keys", "Report a cleansing defect", "INT002"}},
	{"quality gate", UserMessage{"Quality score below threshold", "Review the quality report findings", "QG001"}},
	{"missing required columns", UserMessage{"Source file is missing required columns", "Check the raw file header", "SRC001"}},
	{"no such file", UserMessage{"Source file not found", "Check PIPELINE_DATA_DIR or enable generation", "SRC001"}},

	// =========================================================================
	// Run control
	// =========================================================================
	{"already in progress", UserMessage{"A pipeline run is already in progress", "Wait for it to finish and retry", "RUN001"}},
	{"run not found", UserMessage{"Run not found", "Check the run ID against GET /api/runs", "RUN002"}},
	{"no quality report", UserMessage{"No quality report published yet", "Trigger a run first", "RUN003"}},

	// =========================================================================
	// Configuration
	// =========================================================================
	{"invalid rules", UserMessage{"Rule configuration is invalid", "Fix the rules file and re-run", "CFG001"}},
	{"rule_weights", UserMessage{"Rule weights are invalid", "Weights must cover every category and sum to 1.0", "CFG001"}},
	{"is required", UserMessage{"A required setting is missing", "Set the missing environment variable", "CFG002"}},

	// =========================================================================
	// Store connectivity (transient)
	// =========================================================================
	{"connection refused", UserMessage{"Unable to reach the database", "The run retries automatically", "DB001"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "The run retries automatically", "DB002"}},
	{"broken pipe", UserMessage{"Database connection was interrupted", "The run retries automatically", "DB002"}},
	{"timeout", UserMessage{"Store operation timed out", "The run retries automatically", "DB003"}},
	{"deadline exceeded", UserMessage{"Store operation timed out", "The run retries automatically", "DB003"}},
	{"deadlock", UserMessage{"Conflicting concurrent writes", "The run retries automatically", "DB004"}},
	{"could not serialize", UserMessage{"Conflicting concurrent writes", "The run retries automatically", "DB004"}},
	{"concurrent update", UserMessage{"Conflicting concurrent writes", "The run retries automatically", "DB004"}},
	{"too many connections", UserMessage{"Database refused a new connection", "Lower DB_MAX_CONNS or wait", "DB005"}},

	// =========================================================================
	// Store constraints
	// =========================================================================
	{"duplicate key", UserMessage{"A row with this key already exists", "Check idempotency keys for the stage", "DB006"}},
	{"violates foreign key", UserMessage{"Referenced row does not exist", "Load parent entities first", "DB007"}},
}

var kindMessages = map[Kind]UserMessage{
	KindTransientStore: {"Store temporarily unavailable", "The run retries automatically", "DB000"},
	KindConfiguration:  {"Configuration error", "Fix the configuration and re-run", "CFG000"},
	KindQualityGate:    {"Quality score below threshold", "Review the quality report findings", "QG001"},
	KindRowRepair:      {"Row dropped during cleansing", "Review the transformation report", "ROW001"},
	KindIntegrity:      {"Data integrity violation", "Halt loads and investigate", "INT000"},
}

var defaultMessage = UserMessage{"An unexpected error occurred", "Check application logs for the run", "ERR000"}

// MapError converts an error to an operator-facing message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(lower, p.pattern) {
			return p.msg
		}
	}

	if msg, ok := kindMessages[KindOf(err)]; ok {
		return msg
	}
	return defaultMessage
}

// MatchesTransientPattern reports whether err's text matches a store
// connectivity pattern (codes DB001-DB005).
func MatchesTransientPattern(err error) bool {
	if err == nil {
		return false
	}
	switch MapError(err).Code {
	case "DB001", "DB002", "DB003", "DB004", "DB005":
		return true
	}
	return false
}

// ErrorDetail renders err for the execution log: "[CODE] Message: error text".
func ErrorDetail(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", MapError(err), err)
}
