// Package launchconfig validates launch parameters and holds the immutable
// configuration shared by every stage of a parsec batch launch.
//
// Nothing in this package performs I/O. A LaunchConfig can only be obtained
// from Validate, so holding one means every range and enum invariant has
// already been checked.
package launchconfig

// PortBudget is the ceiling on replicated process counts per machine type.
//
// Roughly half of the ~10k ports reserved per machine type, leaving a buffer
// for ports that are unavailable on the host.
const PortBudget = 5000

// Port bounds for the operator-facing bind port.
const (
	MinPort = 1024
	MaxPort = 65535
)

// LoopbackAlias is normalized to LoopbackAddress during validation.
const (
	LoopbackAlias   = "localhost"
	LoopbackAddress = "127.0.0.1"
)

// Role is one of the three process kinds in a batch.
type Role string

const (
	RoleStorage   Role = "storage"
	RoleTicketing Role = "ticketing"
	RoleAgent     Role = "agent"
)

// MainSink names the orchestrator-level log sink. It is not a process role.
const MainSink = "main"

// Roles returns the batch roles in launch order.
func Roles() []Role {
	return []Role{RoleStorage, RoleTicketing, RoleAgent}
}

// Valid reports whether r is one of the recognized roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStorage, RoleTicketing, RoleAgent:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// LogLevel is the verbosity passed to both the launcher's sinks and the
// collaborator executables.
type LogLevel string

const (
	LevelDebug    LogLevel = "DEBUG"
	LevelInfo     LogLevel = "INFO"
	LevelWarn     LogLevel = "WARN"
	LevelError    LogLevel = "ERROR"
	LevelCritical LogLevel = "CRITICAL"
)

// LogLevels lists the recognized levels from most to least verbose.
func LogLevels() []LogLevel {
	return []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelCritical}
}

// Valid reports whether l is a recognized level. Matching is exact.
func (l LogLevel) Valid() bool {
	for _, known := range LogLevels() {
		if l == known {
			return true
		}
	}
	return false
}

// RunnerKind selects the agent's contract runner.
type RunnerKind string

const (
	RunnerLua      RunnerKind = "lua"
	RunnerEVM      RunnerKind = "evm"
	RunnerPyRunner RunnerKind = "pyrunner"
)

// RunnerKinds lists the recognized runner kinds.
func RunnerKinds() []RunnerKind {
	return []RunnerKind{RunnerLua, RunnerEVM, RunnerPyRunner}
}

// Valid reports whether k is a recognized runner kind.
func (k RunnerKind) Valid() bool {
	for _, known := range RunnerKinds() {
		if k == known {
			return true
		}
	}
	return false
}
