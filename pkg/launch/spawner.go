package launch

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"

	"github.com/3leaps/parsecup/pkg/launchconfig"
)

// ProcessSpec describes one child to start.
type ProcessSpec struct {
	Role launchconfig.Role
	Path string
	Args []string

	// Output receives the child's stdout and stderr.
	Output io.Writer

	// Env is the child environment; nil inherits the launcher's.
	Env []string
}

// Process is a started child.
type Process interface {
	PID() int
	Terminate() error
}

// Spawner starts child processes.
type Spawner interface {
	Spawn(ctx context.Context, spec ProcessSpec) (Process, error)
}

// ExecSpawner starts children with os/exec, directly from argv and never
// through a shell. Children are placed in their own process group and are
// not tied to ctx, so they outlive the launcher.
type ExecSpawner struct{}

// Spawn implements Spawner.
func (ExecSpawner) Spawn(ctx context.Context, spec ProcessSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Stdout = spec.Output
	cmd.Stderr = spec.Output
	cmd.Env = spec.Env
	cmd.SysProcAttr = detachedAttr()

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.reap()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

// Terminate asks the child to exit. A child that has already exited is not
// an error.
func (p *execProcess) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	err := terminate(p.cmd.Process)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) reap() {
	_ = p.cmd.Wait()
	close(p.done)
}
