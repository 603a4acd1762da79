package launch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/3leaps/parsecup/pkg/launchconfig"
)

// DefaultBinDir is where the role executables are built.
const DefaultBinDir = "./build/src/parsec"

var executables = map[launchconfig.Role]string{
	launchconfig.RoleStorage:   filepath.Join("runtime_locking_shard", "runtime_locking_shardd"),
	launchconfig.RoleTicketing: filepath.Join("ticket_machine", "ticket_machined"),
	launchconfig.RoleAgent:     filepath.Join("agent", "agentd"),
}

// Binaries locates the role executables under one build directory.
type Binaries struct {
	Dir string
}

// Path returns the executable path for role.
func (b Binaries) Path(role launchconfig.Role) (string, error) {
	rel, ok := executables[role]
	if !ok {
		return "", fmt.Errorf("no executable for role %q", role)
	}
	dir := strings.TrimSpace(b.Dir)
	if dir == "" {
		dir = DefaultBinDir
	}
	return filepath.Join(dir, rel), nil
}

// Command is a fully resolved argv for one role.
type Command struct {
	Role     launchconfig.Role `json:"role" yaml:"role"`
	Path     string            `json:"path" yaml:"path"`
	Args     []string          `json:"args" yaml:"args"`
	Endpoint string            `json:"endpoint" yaml:"endpoint"`
}

// Argv returns Path followed by Args.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// String renders the argv space-joined, for display only.
func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// BuildCommand returns the argv for role. The result depends only on its
// inputs. Each role is started as a single-member batch.
func BuildCommand(role launchconfig.Role, cfg launchconfig.LaunchConfig, ports launchconfig.PortAssignment, bins Binaries) (Command, error) {
	path, err := bins.Path(role)
	if err != nil {
		return Command{}, err
	}
	ip := cfg.IP()
	ep := func(port int) string { return launchconfig.Endpoint(ip, port) }

	args := []string{
		"--shard_count=1",
		"--shard0_count=1",
		"--shard00_endpoint=" + ep(ports.ShardEndpoint),
	}
	if role == launchconfig.RoleStorage {
		args = append(args, "--shard00_raft_endpoint="+ep(ports.ShardRaftEndpoint))
	}

	agentPort := ports.AgentPeer
	if role == launchconfig.RoleAgent {
		agentPort = ports.AgentEndpoint
	}
	args = append(args,
		"--node_id=0",
		"--component_id=0",
		"--agent_count=1",
		"--agent0_endpoint="+ep(agentPort),
		"--ticket_machine_count=1",
		"--ticket_machine0_endpoint="+ep(ports.TicketMachine),
		"--log_level="+string(cfg.LogLevel()),
	)
	if role == launchconfig.RoleAgent {
		args = append(args, "--runner_type="+string(cfg.RunnerKind()))
	}

	return Command{Role: role, Path: path, Args: args, Endpoint: ep(roleEndpointPort(role, ports))}, nil
}

// BuildPlan returns the commands for every role in launch order.
func BuildPlan(cfg launchconfig.LaunchConfig, ports launchconfig.PortAssignment, bins Binaries) ([]Command, error) {
	out := make([]Command, 0, 3)
	for _, role := range launchconfig.Roles() {
		c, err := BuildCommand(role, cfg, ports, bins)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func roleEndpointPort(role launchconfig.Role, ports launchconfig.PortAssignment) int {
	switch role {
	case launchconfig.RoleStorage:
		return ports.ShardEndpoint
	case launchconfig.RoleTicketing:
		return ports.TicketMachine
	default:
		return ports.AgentEndpoint
	}
}
