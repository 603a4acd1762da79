package launchconfig

import (
	"fmt"
	"strconv"
	"strings"
)

// Params are the raw launch parameters as supplied by the operator.
//
// The mapstructure tags match the CLI flag names so settings decoded from
// flags, environment, and config files share one vocabulary. KillPIDs is
// never decoded from settings; the caller sets it from the command line.
type Params struct {
	IP         string `mapstructure:"ip" json:"ip" yaml:"ip"`
	Port       int    `mapstructure:"port" json:"port" yaml:"port"`
	LogLevel   string `mapstructure:"log_level" json:"log_level" yaml:"log_level"`
	RunnerType string `mapstructure:"runner_type" json:"runner_type" yaml:"runner_type"`
	NumAgents  int    `mapstructure:"num_agents" json:"num_agents" yaml:"num_agents"`
	NumShards  int    `mapstructure:"num_shards" json:"num_shards" yaml:"num_shards"`
	NumTMCs    int    `mapstructure:"num_tmcs" json:"num_tmcs" yaml:"num_tmcs"`
	ReplFactor int    `mapstructure:"repl_factor" json:"repl_factor" yaml:"repl_factor"`
	KillPIDs   bool   `mapstructure:"-" json:"kill_pids" yaml:"kill_pids"`
}

// DefaultParams returns the launcher defaults.
func DefaultParams() Params {
	return Params{
		IP:         LoopbackAddress,
		Port:       8888,
		LogLevel:   string(LevelWarn),
		RunnerType: string(RunnerEVM),
		NumAgents:  1,
		NumShards:  1,
		NumTMCs:    1,
		ReplFactor: 1,
	}
}

// LaunchConfig is a validated, read-only launch configuration.
//
// Fields are unexported so a LaunchConfig cannot be altered after Validate.
// It is a value type; copies are independent and equally immutable.
type LaunchConfig struct {
	ip         string
	port       int
	logLevel   LogLevel
	runner     RunnerKind
	numAgents  int
	numShards  int
	numTMCs    int
	replFactor int
	killAll    bool
}

func (c LaunchConfig) IP() string             { return c.ip }
func (c LaunchConfig) Port() int              { return c.port }
func (c LaunchConfig) LogLevel() LogLevel     { return c.logLevel }
func (c LaunchConfig) RunnerKind() RunnerKind { return c.runner }
func (c LaunchConfig) NumAgents() int         { return c.numAgents }
func (c LaunchConfig) NumShards() int         { return c.numShards }
func (c LaunchConfig) NumTMCs() int           { return c.numTMCs }
func (c LaunchConfig) ReplFactor() int        { return c.replFactor }
func (c LaunchConfig) KillAll() bool          { return c.killAll }

// Params converts the config back into its raw form, e.g. for display.
func (c LaunchConfig) Params() Params {
	return Params{
		IP:         c.ip,
		Port:       c.port,
		LogLevel:   string(c.logLevel),
		RunnerType: string(c.runner),
		NumAgents:  c.numAgents,
		NumShards:  c.numShards,
		NumTMCs:    c.numTMCs,
		ReplFactor: c.replFactor,
		KillPIDs:   c.killAll,
	}
}

// Topology is the cluster shape implied by the counts and replication factor.
type Topology struct {
	LogicalShards          int `json:"logical_shards" yaml:"logical_shards"`
	PhysicalShards         int `json:"physical_shards" yaml:"physical_shards"`
	PhysicalTicketMachines int `json:"physical_ticket_machines" yaml:"physical_ticket_machines"`
	Agents                 int `json:"agents" yaml:"agents"`
}

// Topology derives the replicated process counts.
func (c LaunchConfig) Topology() Topology {
	return Topology{
		LogicalShards:          c.numShards,
		PhysicalShards:         c.numShards * c.replFactor,
		PhysicalTicketMachines: c.numTMCs * c.replFactor,
		Agents:                 c.numAgents,
	}
}

// Validate checks p and returns the resulting LaunchConfig.
//
// Rules are applied in a fixed order and the first violation is returned as
// a *ConfigError.
func Validate(p Params) (LaunchConfig, error) {
	ip, err := normalizeAddress(p.IP)
	if err != nil {
		return LaunchConfig{}, err
	}

	if p.Port < MinPort || p.Port > MaxPort {
		return LaunchConfig{}, &ConfigError{
			Kind:   PortOutOfRange,
			Field:  "port",
			Value:  strconv.Itoa(p.Port),
			Detail: fmt.Sprintf("port must be within [%d, %d]", MinPort, MaxPort),
		}
	}

	level := LogLevel(p.LogLevel)
	if !level.Valid() {
		return LaunchConfig{}, &ConfigError{
			Kind:   InvalidLevel,
			Field:  "log_level",
			Value:  p.LogLevel,
			Detail: fmt.Sprintf("log level must be one of %s", joinLevels()),
		}
	}

	runner := RunnerKind(p.RunnerType)
	if !runner.Valid() {
		return LaunchConfig{}, &ConfigError{
			Kind:   InvalidRunnerKind,
			Field:  "runner_type",
			Value:  p.RunnerType,
			Detail: fmt.Sprintf("runner type must be one of %s", joinRunners()),
		}
	}

	if err := checkCounts(p); err != nil {
		return LaunchConfig{}, err
	}

	return LaunchConfig{
		ip:         ip,
		port:       p.Port,
		logLevel:   level,
		runner:     runner,
		numAgents:  p.NumAgents,
		numShards:  p.NumShards,
		numTMCs:    p.NumTMCs,
		replFactor: p.ReplFactor,
		killAll:    p.KillPIDs,
	}, nil
}

type countField struct {
	name  string
	value int
}

// checkCounts applies the count rules in order: every count at least 1, then
// agents, shards and ticket machines each within PortBudget, then the
// replication budget. A count over PortBudget is reported as CountTooHigh
// even when repl_factor times that count would also exceed the budget; the
// ReplicationTooHigh check only runs once every count is in range.
func checkCounts(p Params) error {
	counts := []countField{
		{"num_agents", p.NumAgents},
		{"num_shards", p.NumShards},
		{"num_tmcs", p.NumTMCs},
		{"repl_factor", p.ReplFactor},
	}
	for _, c := range counts {
		if c.value < 1 {
			return &ConfigError{
				Kind:   OutOfBounds,
				Field:  c.name,
				Value:  strconv.Itoa(c.value),
				Detail: "agents, shards, ticket machines, and replication factor must be at least 1",
			}
		}
	}

	for _, c := range counts[:3] {
		if c.value > PortBudget {
			return &ConfigError{
				Kind:   CountTooHigh,
				Field:  c.name,
				Value:  strconv.Itoa(c.value),
				Detail: fmt.Sprintf("agents, shards, and ticket machines must be at most %d", PortBudget),
			}
		}
	}

	capacity := max(p.NumShards, p.NumTMCs)
	if p.ReplFactor*capacity > PortBudget {
		maxRepl := PortBudget / capacity
		return &ConfigError{
			Kind:           ReplicationTooHigh,
			Field:          "repl_factor",
			Value:          strconv.Itoa(p.ReplFactor),
			Detail:         fmt.Sprintf("replication factor must be at most %d for %d shards/ticket machines", maxRepl, capacity),
			MaxReplication: maxRepl,
		}
	}
	return nil
}

func normalizeAddress(raw string) (string, error) {
	if raw == LoopbackAlias {
		return LoopbackAddress, nil
	}

	invalid := &ConfigError{
		Kind:   InvalidAddress,
		Field:  "ip",
		Value:  raw,
		Detail: "address must be four dot-separated octets in [0, 255] or " + LoopbackAlias,
	}

	octets := strings.Split(raw, ".")
	if len(octets) != 4 {
		return "", invalid
	}
	for _, o := range octets {
		if len(o) == 0 || len(o) > 3 {
			return "", invalid
		}
		for _, r := range o {
			if r < '0' || r > '9' {
				return "", invalid
			}
		}
		n, err := strconv.Atoi(o)
		if err != nil || n > 255 {
			return "", invalid
		}
	}
	return raw, nil
}

func joinLevels() string {
	names := make([]string, 0, len(LogLevels()))
	for _, l := range LogLevels() {
		names = append(names, string(l))
	}
	return strings.Join(names, ", ")
}

func joinRunners() string {
	names := make([]string, 0, len(RunnerKinds()))
	for _, k := range RunnerKinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}
