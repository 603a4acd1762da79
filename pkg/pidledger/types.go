package pidledger

import (
	"time"

	"github.com/3leaps/parsecup/pkg/launchconfig"
)

// State is the lifecycle state of a ledger record.
//
// NOTE: These values are persisted in pids.json and are part of the stable
// on-disk contract.
type State string

const (
	StateRunning    State = "running"
	StateTerminated State = "terminated"
	StateUnknown    State = "unknown"
)

// SchemaVersion is written into every ledger file.
const SchemaVersion = 1

// Record is one spawned process as persisted in the ledger.
//
// The schema is designed for backward-compatible extension (additive fields).
type Record struct {
	BatchID    string            `json:"batch_id"`
	Role       launchconfig.Role `json:"role"`
	PID        int               `json:"pid"`
	State      State             `json:"state"`
	Executable string            `json:"executable"`
	Args       []string          `json:"args,omitempty"`
	Endpoint   string            `json:"endpoint,omitempty"`
	LogPath    string            `json:"log_path,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    *time.Time        `json:"ended_at,omitempty"`
}

type file struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Records   []Record  `json:"records"`
}
