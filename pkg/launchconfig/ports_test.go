package launchconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortAssignmentFor(t *testing.T) {
	cfg, err := Validate(validParams())
	require.NoError(t, err)

	pa, err := PortAssignmentFor(cfg)
	require.NoError(t, err)
	assert.Equal(t, PortAssignment{
		ShardEndpoint:     5556,
		ShardRaftEndpoint: 5557,
		AgentPeer:         6666,
		TicketMachine:     7777,
		AgentEndpoint:     8888,
	}, pa)
}

func TestPortAssignmentFor_Conflict(t *testing.T) {
	p := validParams()
	p.Port = DefaultTicketMachinePort
	cfg, err := Validate(p)
	require.NoError(t, err)

	_, err = PortAssignmentFor(cfg)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, PortConflict, kind)
	assert.Contains(t, err.Error(), "ticket machine endpoint")
}

func TestPortAssignment_ReadinessPort(t *testing.T) {
	pa := PortAssignment{ShardEndpoint: 1, ShardRaftEndpoint: 2, AgentPeer: 3, TicketMachine: 4, AgentEndpoint: 5}

	port, ok := pa.ReadinessPort(RoleStorage)
	assert.True(t, ok)
	assert.Equal(t, 1, port)

	port, ok = pa.ReadinessPort(RoleTicketing)
	assert.True(t, ok)
	assert.Equal(t, 4, port)

	_, ok = pa.ReadinessPort(RoleAgent)
	assert.False(t, ok)
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "127.0.0.1:5556", Endpoint("127.0.0.1", 5556))
}

func TestRole_Valid(t *testing.T) {
	for _, r := range Roles() {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, Role("main").Valid())
	assert.False(t, Role("shardd").Valid())
}
