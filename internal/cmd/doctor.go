package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/parsecup/internal/config"
	"github.com/3leaps/parsecup/internal/lock"
	"github.com/3leaps/parsecup/internal/observability"
	"github.com/3leaps/parsecup/pkg/launch"
	"github.com/3leaps/parsecup/pkg/launchconfig"
	"github.com/3leaps/parsecup/pkg/pidtrack"
	"github.com/3leaps/parsecup/pkg/preflight"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on this host and suggest fixes for common issues:
configuration, executables, ports, the state directory and process
discovery.

Examples:
  parsecup doctor
  parsecup doctor --bin_dir ./build/src/parsec`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// errDoctorFailed is returned when at least one check failed.
var errDoctorFailed = errors.New("diagnostic checks failed")

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := observability.CLILogger
	cfg := config.GetConfig()

	log.Info("=== parsecup doctor ===")
	log.Info("Running diagnostic checks...")

	const totalChecks = 6
	ok := true
	step := func(n int, name string) string { return fmt.Sprintf("[%d/%d] Checking %s...", n, totalChecks, name) }

	// 1: environment
	version := crucible.GetVersion()
	log.Info(step(1, "environment")+" ✅ "+runtime.GOOS+"/"+runtime.GOARCH,
		zap.String("go_version", runtime.Version()),
		zap.String("gofulmen_version", version.Gofulmen),
		zap.String("crucible_version", version.Crucible))

	// 2: configuration
	lc, err := launchconfig.Validate(cfg.Launch)
	if err != nil {
		log.Error(step(2, "configuration")+" ❌ invalid", zap.Error(err))
		log.Warn("⚠️  Skipping executable and port checks until the configuration is valid.")
		return exitError(exitFailure, "Doctor failed", errors.Join(errDoctorFailed, err))
	}
	log.Info(step(2, "configuration")+" ✅ valid",
		zap.String("ip", lc.IP()), zap.Int("port", lc.Port()), zap.String("runner_type", string(lc.RunnerKind())))

	// 3 and 4: executables and ports
	ports, err := launchconfig.PortAssignmentFor(lc)
	if err != nil {
		return exitError(exitFailure, "Doctor failed", err)
	}
	plan, err := launch.BuildPlan(lc, ports, launch.Binaries{Dir: cfg.BinDir})
	if err != nil {
		return exitError(exitFailure, "Doctor failed", err)
	}
	rec, _ := preflight.Run(ctx, preflight.ModeStrict, plan, preflight.Options{DialTimeout: cfg.Readiness.DialTimeout})
	execOK, portsOK := true, true
	for _, r := range rec.Results {
		if r.Passed {
			continue
		}
		log.Warn("  "+r.Check+" failed", zap.String("target", r.Target), zap.String("code", r.ErrorCode), zap.String("detail", r.Detail))
		if strings.HasPrefix(r.Check, preflight.CheckExec) {
			execOK = false
		} else {
			portsOK = false
		}
	}
	if execOK {
		log.Info(step(3, "executables")+" ✅ "+cfg.BinDir, zap.String("bin_dir", cfg.BinDir))
	} else {
		log.Error(step(3, "executables")+" ❌ missing or not executable", zap.String("bin_dir", cfg.BinDir))
		log.Info("  Build parsec first or point --bin_dir at the build output.")
		ok = false
	}
	if portsOK {
		log.Info(step(4, "ports") + " ✅ free")
	} else {
		log.Error(step(4, "ports") + " ❌ in use")
		log.Info("  A previous batch may still be running. Try 'parsecup kill'.")
		ok = false
	}

	// 5: state directory
	if lk, err := lock.Acquire(cfg.StateDir); err != nil {
		log.Error(step(5, "state directory")+" ❌ "+cfg.StateDir, zap.Error(err))
		ok = false
	} else {
		_ = lk.Release()
		abs, _ := filepath.Abs(cfg.StateDir)
		log.Info(step(5, "state directory")+" ✅ "+abs, zap.String("state_dir", abs))
	}

	// 6: process discovery
	procs, err := pidtrack.SystemLister{}.List(ctx)
	if err != nil {
		log.Error(step(6, "process discovery")+" ❌ process table unreadable", zap.Error(err))
		log.Info("  'parsecup kill' cannot find stray processes without it.")
		ok = false
	} else {
		log.Info(step(6, "process discovery") + fmt.Sprintf(" ✅ %d processes visible", len(procs)))
	}

	if !ok {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
		return exitError(exitFailure, "Doctor failed", errDoctorFailed)
	}
	log.Info("✅ All checks passed!")
	log.Info("=== End Diagnostics ===")
	return nil
}
