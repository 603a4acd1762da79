package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/3leaps/parsecup/internal/config"
	"github.com/3leaps/parsecup/internal/observability"
	"github.com/3leaps/parsecup/pkg/launch"
	"github.com/3leaps/parsecup/pkg/launchconfig"
	"github.com/3leaps/parsecup/pkg/logsink"
)

// exitFailure is the only non-zero exit code parsecup uses.
const exitFailure = foundry.ExitFailure

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "parsecup",
	Short: "Launch a local parsec batch",
	Long: `parsecup starts one storage shard, one ticket machine and one agent on
this host, in dependency order, waiting for each endpoint to accept TCP
connections before starting the processes that need it.

Each process writes to its own file under the log directory. The previous
log directory is archived with a timestamp on every launch. If any stage
fails, every process started by the launch is terminated.

Example:
  parsecup
  parsecup --runner_type lua --log_level INFO
  parsecup --port 9000 --json
  parsecup --kill_pids`,
	Args:              cobra.NoArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
	RunE:              runLaunch,
}

// settingFlags maps flag names to settings keys. Only flags the operator
// actually set are applied, so unset flags never mask env or file values.
// --kill_pids is deliberately absent: it is read from the command line only.
var settingFlags = map[string]string{
	"ip":                "ip",
	"port":              "port",
	"log_level":         "log_level",
	"runner_type":       "runner_type",
	"num_agents":        "num_agents",
	"num_shards":        "num_shards",
	"num_tmcs":          "num_tmcs",
	"repl_factor":       "repl_factor",
	"log_dir":           "log_dir",
	"state_dir":         "state_dir",
	"bin_dir":           "bin_dir",
	"readiness_timeout": "readiness.timeout",
	"preflight":         "preflight",
}

func init() {
	defaults := launchconfig.DefaultParams()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: first of the user config dir, ~/.parsecup, ./parsecup.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug diagnostics on stderr")
	pf.BoolVar(&jsonOutput, "json", false, "Emit JSONL records on stdout")

	pf.String("ip", defaults.IP, "Bind address for every endpoint (dotted quad or localhost)")
	pf.Int("port", defaults.Port, "Agent endpoint port (1024-65535)")
	pf.String("log_level", defaults.LogLevel, "Log level: DEBUG, INFO, WARN, ERROR, CRITICAL")
	pf.String("runner_type", defaults.RunnerType, "Agent runner: lua, evm, pyrunner")
	pf.Int("num_agents", defaults.NumAgents, "Number of agents")
	pf.Int("num_shards", defaults.NumShards, "Number of logical shards")
	pf.Int("num_tmcs", defaults.NumTMCs, "Number of ticket machines")
	pf.Int("repl_factor", defaults.ReplFactor, "Replication factor")
	pf.String("log_dir", logsink.DefaultRoot, "Log directory")
	pf.String("state_dir", config.DefaultStateDir(), "Directory for the PID ledger and launch lock")
	pf.String("bin_dir", launch.DefaultBinDir, "Directory containing the parsec executables")

	rootCmd.Flags().Bool("kill_pids", false, "Kill every parsec process on this host instead of launching")
	rootCmd.Flags().Duration("readiness_timeout", launch.DefaultReadinessTimeout, "Maximum wait for each endpoint")
	rootCmd.Flags().String("preflight", "warn", "Pre-launch checks: off, warn, or strict")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return exitFailure
	}
	return foundry.ExitSuccess
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	observability.InitCLILogger("parsecup", verbose)

	config.SetConfigFile(cfgFile)
	if _, err := config.Load(cmd.Context(), flagOverrides(cmd.Flags())); err != nil {
		return exitError(exitFailure, "Failed to load configuration", err)
	}
	return nil
}

func flagOverrides(fs *pflag.FlagSet) map[string]any {
	overrides := make(map[string]any)
	fs.VisitAll(func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		if key, ok := settingFlags[f.Name]; ok {
			overrides[key] = f.Value.String()
		}
	})
	return overrides
}

func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}
