//go:build !windows

package pidtrack

import (
	"errors"

	"golang.org/x/sys/unix"
)

// KillProcess sends SIGKILL to pid.
func KillProcess(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// IsAlive reports whether pid exists. Signal 0 performs the permission and
// existence checks without delivering a signal; EPERM still means the
// process exists.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
