//go:build !windows

package launch

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// detachedAttr puts the child in its own process group so a terminal
// interrupt aimed at the launcher does not reach it.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}
