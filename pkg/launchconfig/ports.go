package launchconfig

import (
	"fmt"
	"net"
	"strconv"
)

// Fixed role ports for the single-batch launch.
const (
	DefaultShardEndpointPort     = 5556
	DefaultShardRaftEndpointPort = 5557
	DefaultAgentPeerPort         = 6666
	DefaultTicketMachinePort     = 7777
)

// PortAssignment maps each batch endpoint to a TCP port.
type PortAssignment struct {
	// ShardEndpoint is the storage role's client endpoint; readiness of the
	// storage role is probed here.
	ShardEndpoint int `json:"shard_endpoint" yaml:"shard_endpoint"`

	// ShardRaftEndpoint is the storage role's consensus endpoint.
	ShardRaftEndpoint int `json:"shard_raft_endpoint" yaml:"shard_raft_endpoint"`

	// AgentPeer is the agent endpoint advertised to storage and ticketing.
	AgentPeer int `json:"agent_peer" yaml:"agent_peer"`

	// TicketMachine is the ticketing role's endpoint; readiness of the
	// ticketing role is probed here.
	TicketMachine int `json:"ticket_machine" yaml:"ticket_machine"`

	// AgentEndpoint is the agent's own bind endpoint (the operator --port).
	AgentEndpoint int `json:"agent_endpoint" yaml:"agent_endpoint"`
}

// PortAssignmentFor returns the fixed assignment with the agent endpoint
// bound to cfg's port.
func PortAssignmentFor(cfg LaunchConfig) (PortAssignment, error) {
	pa := PortAssignment{
		ShardEndpoint:     DefaultShardEndpointPort,
		ShardRaftEndpoint: DefaultShardRaftEndpointPort,
		AgentPeer:         DefaultAgentPeerPort,
		TicketMachine:     DefaultTicketMachinePort,
		AgentEndpoint:     cfg.Port(),
	}
	if err := pa.Validate(); err != nil {
		return PortAssignment{}, err
	}
	return pa, nil
}

// Validate enforces that no two endpoints in a batch share a port.
func (pa PortAssignment) Validate() error {
	seen := make(map[int]string, 5)
	for _, e := range pa.entries() {
		if e.port <= 0 || e.port > MaxPort {
			return &ConfigError{
				Kind:   PortOutOfRange,
				Field:  "port",
				Value:  strconv.Itoa(e.port),
				Detail: fmt.Sprintf("%s port must be within [1, %d]", e.name, MaxPort),
			}
		}
		if other, ok := seen[e.port]; ok {
			return &ConfigError{
				Kind:   PortConflict,
				Field:  "port",
				Value:  strconv.Itoa(e.port),
				Detail: fmt.Sprintf("%s and %s would share a port", other, e.name),
			}
		}
		seen[e.port] = e.name
	}
	return nil
}

type portEntry struct {
	name string
	port int
}

func (pa PortAssignment) entries() []portEntry {
	return []portEntry{
		{"shard endpoint", pa.ShardEndpoint},
		{"shard raft endpoint", pa.ShardRaftEndpoint},
		{"agent peer endpoint", pa.AgentPeer},
		{"ticket machine endpoint", pa.TicketMachine},
		{"agent endpoint", pa.AgentEndpoint},
	}
}

// ReadinessPort returns the port probed before dependents of role start.
// The agent has no dependents and reports false.
func (pa PortAssignment) ReadinessPort(role Role) (int, bool) {
	switch role {
	case RoleStorage:
		return pa.ShardEndpoint, true
	case RoleTicketing:
		return pa.TicketMachine, true
	default:
		return 0, false
	}
}

// Endpoint joins host and port as host:port.
func Endpoint(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
