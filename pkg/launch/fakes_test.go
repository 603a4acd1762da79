package launch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3leaps/parsecup/pkg/launchconfig"
	"github.com/3leaps/parsecup/pkg/logsink"
)

// recorder is the shared, ordered event log of the fakes.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeProc struct {
	rec          *recorder
	role         launchconfig.Role
	pid          int
	terminations int
}

func (p *fakeProc) PID() int { return p.pid }

func (p *fakeProc) Terminate() error {
	p.terminations++
	p.rec.add("terminate %s", p.role)
	return nil
}

type fakeSpawner struct {
	rec     *recorder
	nextPID int
	fail    map[launchconfig.Role]error
	procs   []*fakeProc
	specs   []ProcessSpec
}

func (s *fakeSpawner) Spawn(_ context.Context, spec ProcessSpec) (Process, error) {
	if err := s.fail[spec.Role]; err != nil {
		s.rec.add("spawn-failed %s", spec.Role)
		return nil, err
	}
	s.nextPID++
	p := &fakeProc{rec: s.rec, role: spec.Role, pid: 1000 + s.nextPID}
	s.procs = append(s.procs, p)
	s.specs = append(s.specs, spec)
	s.rec.add("spawn %s", spec.Role)
	return p, nil
}

func (s *fakeSpawner) proc(role launchconfig.Role) *fakeProc {
	for _, p := range s.procs {
		if p.role == role {
			return p
		}
	}
	return nil
}

type fakeGate struct {
	rec *recorder

	// fail lists ports that never become ready.
	fail map[int]bool

	// onWait runs before each wait returns.
	onWait func(port int)

	timeouts []time.Duration
}

func (g *fakeGate) Wait(ctx context.Context, _ string, port int, timeout time.Duration) error {
	g.rec.add("wait %d", port)
	g.timeouts = append(g.timeouts, timeout)
	if g.onWait != nil {
		g.onWait(port)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.fail[port] {
		return fmt.Errorf("port %d not ready", port)
	}
	return nil
}

func openSinks(t *testing.T) *logsink.Set {
	t.Helper()
	m := logsink.NewManager(t.TempDir()+"/logs", "", launchconfig.LevelDebug)
	require.NoError(t, m.Prepare())
	set, err := m.Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = set.Close() })
	return set
}
