package logsink

import "fmt"

// LogSetupError reports a failure to prepare the log directory or open a
// sink. It is fatal: nothing may be spawned without a writable log root.
type LogSetupError struct {
	Op   string
	Path string
	Err  error
}

func (e *LogSetupError) Error() string {
	return fmt.Sprintf("log setup: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LogSetupError) Unwrap() error {
	return e.Err
}
