// Package config loads parsecup settings.
//
// Precedence, lowest to highest: built-in defaults, config file,
// PARSECUP_* environment variables, runtime overrides (changed CLI flags).
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/parsecup/pkg/launchconfig"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "PARSECUP"

// AppName names the config directory and file.
const AppName = "parsecup"

// Config is the full set of settings.
type Config struct {
	// Launch holds the operator launch parameters, keyed like the CLI flags.
	Launch launchconfig.Params `mapstructure:",squash" yaml:",inline"`

	LogDir        string        `mapstructure:"log_dir" yaml:"log_dir"`
	ArchivePrefix string        `mapstructure:"archive_prefix" yaml:"archive_prefix"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	BinDir        string        `mapstructure:"bin_dir" yaml:"bin_dir"`
	SettleDelay   time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	Preflight     string        `mapstructure:"preflight" yaml:"preflight"`

	Readiness ReadinessConfig `mapstructure:"readiness" yaml:"readiness"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// ReadinessConfig tunes the TCP readiness gate.
type ReadinessConfig struct {
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// DiscoveryConfig controls the kill sweep.
type DiscoveryConfig struct {
	Patterns []string `mapstructure:"patterns" yaml:"patterns"`
}

// MetricsConfig controls the textfile metrics export.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// EnvSpec maps an environment variable to a settings key.
type EnvSpec struct {
	Name string
	Path string
}

// SetDefaults installs the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	p := launchconfig.DefaultParams()
	v.SetDefault("ip", p.IP)
	v.SetDefault("port", p.Port)
	v.SetDefault("log_level", p.LogLevel)
	v.SetDefault("runner_type", p.RunnerType)
	v.SetDefault("num_agents", p.NumAgents)
	v.SetDefault("num_shards", p.NumShards)
	v.SetDefault("num_tmcs", p.NumTMCs)
	v.SetDefault("repl_factor", p.ReplFactor)

	v.SetDefault("log_dir", "logs_parsec")
	v.SetDefault("archive_prefix", "logs_parsec_archived")
	v.SetDefault("state_dir", DefaultStateDir())
	v.SetDefault("bin_dir", "./build/src/parsec")
	v.SetDefault("settle_delay", "1s")
	v.SetDefault("preflight", "warn")

	v.SetDefault("readiness.timeout", "60s")
	v.SetDefault("readiness.interval", "1s")
	v.SetDefault("readiness.dial_timeout", "1s")

	v.SetDefault("discovery.patterns", []string{
		"**/runtime_locking_shardd",
		"**/ticket_machined",
		"**/agentd",
	})
	v.SetDefault("metrics.enabled", true)
}

// settingKeys lists every leaf key, used to derive environment bindings.
func settingKeys() []string {
	v := viper.New()
	SetDefaults(v)
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

func getEnvSpecs() []EnvSpec {
	keys := settingKeys()
	specs := make([]EnvSpec, 0, len(keys))
	for _, k := range keys {
		name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(k, ".", "_"))
		specs = append(specs, EnvSpec{Name: name, Path: k})
	}
	return specs
}

// SetConfigFile selects an explicit config file for subsequent loads. An
// empty path restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// getUserConfigPaths returns candidate config files in search order: the XDG
// config dir, the home dot-dir and dot-file, then the working directory.
func getUserConfigPaths() []string {
	return gfconfig.GetAppConfigPaths(AppName)
}

// DefaultStateDir is the per-user data dir ($XDG_DATA_HOME/parsecup). It does
// not depend on the working directory, so every invocation shares one lock
// and one ledger.
func DefaultStateDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// Load builds the configuration and makes it current. Each override map may
// be nested or use dotted keys; overrides win over every other source.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	v := viper.New()
	SetDefaults(v)

	if err := readConfigFile(v, explicit); err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for k, val := range flatten("", o) {
			v.Set(k, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

func readConfigFile(v *viper.Viper, explicit string) error {
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}
	for _, p := range getUserConfigPaths() {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", p, err)
		}
		return nil
	}
	return nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func (c *Config) check() error {
	var errs []error
	if c.Readiness.Timeout < 0 {
		errs = append(errs, fmt.Errorf("readiness.timeout must be >= 0"))
	}
	if c.Readiness.Interval < 0 || c.Readiness.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("readiness.interval and readiness.dial_timeout must be >= 0"))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("settle_delay must be >= 0"))
	}
	if strings.TrimSpace(c.LogDir) == "" {
		errs = append(errs, fmt.Errorf("log_dir is required"))
	}
	if strings.TrimSpace(c.StateDir) == "" {
		errs = append(errs, fmt.Errorf("state_dir is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}
