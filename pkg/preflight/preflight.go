// Package preflight checks that a launch can succeed before anything is
// spawned: role executables exist and are runnable, and no stale listener
// already occupies a role endpoint.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/parsecup/pkg/launch"
	"github.com/3leaps/parsecup/pkg/output"
)

// Mode defines what a failed check does.
type Mode string

const (
	// ModeOff skips all checks.
	ModeOff Mode = "off"

	// ModeWarn runs checks and reports failures without aborting.
	ModeWarn Mode = "warn"

	// ModeStrict aborts the launch on any failed check.
	ModeStrict Mode = "strict"
)

// ParseMode parses a mode name. Empty means ModeWarn.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeWarn:
		return ModeWarn, nil
	case ModeOff:
		return ModeOff, nil
	case ModeStrict:
		return ModeStrict, nil
	default:
		return "", fmt.Errorf("invalid preflight mode %q (expected off, warn, or strict)", s)
	}
}

// Check name prefixes. Full names are "<prefix><role>", stable in JSONL.
const (
	CheckExec = "exec."
	CheckPort = "port."
)

// ErrChecksFailed is wrapped by the error Run returns when a check fails.
var ErrChecksFailed = errors.New("preflight checks failed")

// DefaultDialTimeout bounds each port probe.
const DefaultDialTimeout = 250 * time.Millisecond

// Options tune Run.
type Options struct {
	DialTimeout time.Duration
}

// Run checks every command of plan. The record is always returned, even in
// ModeOff (with no results). The error wraps ErrChecksFailed when any check
// failed; callers decide by mode whether that aborts.
func Run(ctx context.Context, mode Mode, plan []launch.Command, opts Options) (*output.PreflightRecord, error) {
	rec := &output.PreflightRecord{Mode: string(mode), Results: []output.PreflightCheckResult{}}
	if mode == ModeOff {
		return rec, nil
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}

	var failed []string
	for _, cmd := range plan {
		for _, r := range []output.PreflightCheckResult{
			checkExecutable(cmd),
			checkPortFree(ctx, cmd, opts.DialTimeout),
		} {
			rec.Results = append(rec.Results, r)
			if !r.Passed {
				failed = append(failed, r.Check)
			}
		}
	}

	if len(failed) > 0 {
		return rec, fmt.Errorf("%w: %s", ErrChecksFailed, strings.Join(failed, ", "))
	}
	return rec, nil
}

func checkExecutable(cmd launch.Command) output.PreflightCheckResult {
	res := output.PreflightCheckResult{Check: CheckExec + cmd.Role.String(), Target: cmd.Path}

	st, err := os.Stat(cmd.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		res.ErrorCode = output.ErrCodeNotFound
		res.Detail = "executable not found; build the runtime first"
	case err != nil:
		res.ErrorCode = output.ErrCodeInternal
		res.Detail = err.Error()
	case st.IsDir():
		res.ErrorCode = output.ErrCodeNotExecutable
		res.Detail = "path is a directory"
	case runtime.GOOS != "windows" && st.Mode().Perm()&0111 == 0:
		res.ErrorCode = output.ErrCodeNotExecutable
		res.Detail = fmt.Sprintf("mode %s has no execute bit", st.Mode().Perm())
	default:
		res.Passed = true
	}
	return res
}

// checkPortFree fails when something already accepts connections on the
// role endpoint. The readiness gate would mistake such a listener for the
// freshly started process.
func checkPortFree(ctx context.Context, cmd launch.Command, timeout time.Duration) output.PreflightCheckResult {
	res := output.PreflightCheckResult{Check: CheckPort + cmd.Role.String(), Target: cmd.Endpoint}

	host, portStr, err := net.SplitHostPort(cmd.Endpoint)
	if err != nil {
		res.ErrorCode = output.ErrCodeInternal
		res.Detail = err.Error()
		return res
	}
	if _, err := strconv.Atoi(portStr); err != nil {
		res.ErrorCode = output.ErrCodeInternal
		res.Detail = "invalid port " + portStr
		return res
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(host, portStr))
	if err != nil {
		res.Passed = true
		return res
	}
	_ = conn.Close()

	res.ErrorCode = output.ErrCodePortInUse
	res.Detail = "endpoint already accepting connections; a previous batch may still be running (try 'parsecup kill')"
	return res
}
