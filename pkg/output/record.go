// Package output provides JSONL output for machine consumers of parsecup.
//
// Every line is a self-contained record envelope carrying a typed payload:
// launched processes, preflight checks, kill results, archive pruning,
// plans, errors, and a final summary.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants follow the pattern parsecup.<type>.v<version>.
const (
	TypeProcess   = "parsecup.process.v1"
	TypePreflight = "parsecup.preflight.v1"
	TypePlan      = "parsecup.plan.v1"
	TypeKill      = "parsecup.kill.v1"
	TypeArchive   = "parsecup.archive.v1"
	TypeError     = "parsecup.error.v1"
	TypeSummary   = "parsecup.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the payload (e.g., "parsecup.process.v1").
	Type string `json:"type"`

	// TS is when the record was created.
	TS time.Time `json:"ts"`

	// BatchID correlates every record of one launch.
	BatchID string `json:"batch_id,omitempty"`

	// Data is the type-specific payload.
	Data json.RawMessage `json:"data"`
}

// ProcessRecord describes one batch process.
type ProcessRecord struct {
	Role      string    `json:"role"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	Endpoint  string    `json:"endpoint,omitempty"`
	LogPath   string    `json:"log_path,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// PreflightRecord is the result of the pre-launch checks.
type PreflightRecord struct {
	Mode    string                 `json:"mode"`
	Results []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult is a single check.
type PreflightCheckResult struct {
	// Check is a stable name such as "exec.storage" or "port.ticketing".
	Check     string `json:"check"`
	Passed    bool   `json:"passed"`
	Target    string `json:"target,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// PlanRecord is one command the launch would run.
type PlanRecord struct {
	Role     string   `json:"role"`
	Path     string   `json:"path"`
	Args     []string `json:"args"`
	Endpoint string   `json:"endpoint"`
}

// KillRecord is the result of a full kill.
type KillRecord struct {
	Killed        []int  `json:"killed"`
	LedgerUpdated int    `json:"ledger_updated"`
	Errors        string `json:"errors,omitempty"`
}

// ArchiveRecord is one archived log directory.
type ArchiveRecord struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Removed   bool      `json:"removed"`
}

// ErrorRecord reports a failure.
type ErrorRecord struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Role    string `json:"role,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Error codes for ErrorRecord and PreflightCheckResult.
const (
	ErrCodeInvalidConfig = "INVALID_CONFIG"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeNotExecutable = "NOT_EXECUTABLE"
	ErrCodePortInUse     = "PORT_IN_USE"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeSpawn         = "SPAWN_FAILED"
	ErrCodeLogSetup      = "LOG_SETUP"
	ErrCodeInterrupted   = "INTERRUPTED"
	ErrCodeInternal      = "INTERNAL"
)

// SummaryRecord closes a launch.
type SummaryRecord struct {
	State         string            `json:"state"`
	Processes     int               `json:"processes"`
	Duration      time.Duration     `json:"duration_ns"`
	DurationHuman string            `json:"duration"`
	LogPaths      map[string]string `json:"log_paths,omitempty"`
	KillCommand   string            `json:"kill_command,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // "marshal_data", "marshal_record" or "write"
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
