package launch

import (
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/parsecup/pkg/launchconfig"
)

// ErrInterrupted is returned when the operator interrupts a launch. Children
// already started are left running.
var ErrInterrupted = errors.New("launch interrupted")

// SpawnError reports that a role executable could not be started.
type SpawnError struct {
	Role launchconfig.Role
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Role, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ReadinessTimeoutError reports that a dependency never accepted
// connections. Role is the role that was waiting to start; Endpoint is the
// dependency endpoint that stayed unreachable.
type ReadinessTimeoutError struct {
	Role     launchconfig.Role
	Endpoint string
	Timeout  time.Duration
	Err      error
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("cannot start %s: %s not reachable within %s", e.Role, e.Endpoint, e.Timeout)
}

func (e *ReadinessTimeoutError) Unwrap() error {
	return e.Err
}
