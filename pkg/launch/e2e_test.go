//go:build !windows

package launch

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/parsecup/pkg/launchconfig"
	"github.com/3leaps/parsecup/pkg/pidtrack"
	"github.com/3leaps/parsecup/pkg/readiness"
)

func listenLoopback(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port
}

func unusedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// writeDaemons installs a stand-in script for every role executable.
func writeDaemons(t *testing.T, body map[launchconfig.Role]string) Binaries {
	t.Helper()
	bins := Binaries{Dir: t.TempDir()}
	for _, role := range launchconfig.Roles() {
		path, err := bins.Path(role)
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		script := "#!/bin/sh\n" + body[role] + "\n"
		require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	}
	return bins
}

func e2eDeps(t *testing.T, bins Binaries, ports launchconfig.PortAssignment) (Deps, *pidtrack.Tracker) {
	t.Helper()
	cfg, err := launchconfig.Validate(launchconfig.DefaultParams())
	require.NoError(t, err)
	tracker := pidtrack.NewTracker()
	return Deps{
		Config:   cfg,
		Ports:    ports,
		Binaries: bins,
		Sinks:    openSinks(t),
		Tracker:  tracker,
		Spawner:  ExecSpawner{},
		Gate:     readiness.New(readiness.Config{DialTimeout: 200 * time.Millisecond, Interval: 50 * time.Millisecond}),
		Timings:  Timings{Readiness: 2 * time.Second},
	}, tracker
}

func TestE2E_Success(t *testing.T) {
	daemon := "exec sleep 30"
	bins := writeDaemons(t, map[launchconfig.Role]string{
		launchconfig.RoleStorage:   daemon,
		launchconfig.RoleTicketing: daemon,
		launchconfig.RoleAgent:     daemon,
	})
	ports := launchconfig.PortAssignment{
		ShardEndpoint:     listenLoopback(t),
		ShardRaftEndpoint: unusedPort(t),
		AgentPeer:         unusedPort(t),
		TicketMachine:     listenLoopback(t),
		AgentEndpoint:     unusedPort(t),
	}
	if ports.Validate() != nil {
		t.Skip("ephemeral ports collided")
	}
	deps, tracker := e2eDeps(t, bins, ports)

	o, err := New(deps)
	require.NoError(t, err)
	res, err := o.Run(context.Background())
	t.Cleanup(func() {
		for _, rec := range tracker.Snapshot() {
			_ = pidtrack.KillProcess(rec.PID)
		}
	})

	require.NoError(t, err)
	assert.Equal(t, StateRunning, o.State())
	snap := tracker.Snapshot()
	require.Len(t, snap, 3)
	for i, role := range launchconfig.Roles() {
		assert.Equal(t, role, snap[i].Role)
		assert.Greater(t, snap[i].PID, 0)
		assert.True(t, pidtrack.IsAlive(snap[i].PID))
	}
	assert.Len(t, res.Processes, 3)
}

func TestE2E_StorageCrash(t *testing.T) {
	bins := writeDaemons(t, map[launchconfig.Role]string{
		launchconfig.RoleStorage:   "echo 'bind failed' >&2; exit 1",
		launchconfig.RoleTicketing: "exec sleep 30",
		launchconfig.RoleAgent:     "exec sleep 30",
	})
	ports := launchconfig.PortAssignment{
		ShardEndpoint:     unusedPort(t),
		ShardRaftEndpoint: unusedPort(t),
		AgentPeer:         unusedPort(t),
		TicketMachine:     unusedPort(t),
		AgentEndpoint:     unusedPort(t),
	}
	if ports.Validate() != nil {
		t.Skip("ephemeral ports collided")
	}
	deps, tracker := e2eDeps(t, bins, ports)
	deps.Timings.Readiness = 500 * time.Millisecond

	o, err := New(deps)
	require.NoError(t, err)
	res, err := o.Run(context.Background())

	var rte *ReadinessTimeoutError
	require.True(t, errors.As(err, &rte))
	assert.Equal(t, launchconfig.Endpoint("127.0.0.1", ports.ShardEndpoint), rte.Endpoint)
	assert.Equal(t, StateFailed, o.State())
	require.Len(t, res.Processes, 1)
	assert.Equal(t, launchconfig.RoleStorage, res.Processes[0].Role)
	assert.Empty(t, tracker.Snapshot())

	b, err := os.ReadFile(res.LogPaths["storage"])
	require.NoError(t, err)
	assert.Contains(t, string(b), "bind failed")
}

func TestE2E_MissingExecutable(t *testing.T) {
	ports := launchconfig.PortAssignment{
		ShardEndpoint:     unusedPort(t),
		ShardRaftEndpoint: unusedPort(t),
		AgentPeer:         unusedPort(t),
		TicketMachine:     unusedPort(t),
		AgentEndpoint:     unusedPort(t),
	}
	if ports.Validate() != nil {
		t.Skip("ephemeral ports collided")
	}
	deps, _ := e2eDeps(t, Binaries{Dir: t.TempDir()}, ports)

	o, err := New(deps)
	require.NoError(t, err)
	_, err = o.Run(context.Background())

	var se *SpawnError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, launchconfig.RoleStorage, se.Role)
}
