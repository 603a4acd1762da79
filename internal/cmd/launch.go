package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/parsecup/internal/config"
	"github.com/3leaps/parsecup/internal/lock"
	"github.com/3leaps/parsecup/internal/observability"
	"github.com/3leaps/parsecup/pkg/launch"
	"github.com/3leaps/parsecup/pkg/launchconfig"
	"github.com/3leaps/parsecup/pkg/logsink"
	"github.com/3leaps/parsecup/pkg/output"
	"github.com/3leaps/parsecup/pkg/pidledger"
	"github.com/3leaps/parsecup/pkg/pidtrack"
	"github.com/3leaps/parsecup/pkg/preflight"
	"github.com/3leaps/parsecup/pkg/readiness"
)

// killCommand is printed after a launch so operators know how to stop it.
const killCommand = "parsecup kill"

func runLaunch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	cfg := config.GetConfig()
	log := observability.CLILogger

	var records *output.JSONLWriter
	if jsonOutput {
		records = output.NewJSONLWriter(out, "")
		defer func() { _ = records.Close() }()
	}

	params := cfg.Launch
	params.KillPIDs, _ = cmd.Flags().GetBool("kill_pids")

	lc, err := launchconfig.Validate(params)
	if err != nil {
		log.Error("Invalid configuration", zap.Error(err))
		emitError(ctx, records, err)
		return exitError(exitFailure, "Invalid configuration", err)
	}

	if lc.KillAll() {
		return runKillAll(ctx, cfg, out, records)
	}

	ports, err := launchconfig.PortAssignmentFor(lc)
	if err != nil {
		log.Error("Invalid port assignment", zap.Error(err))
		emitError(ctx, records, err)
		return exitError(exitFailure, "Invalid configuration", err)
	}
	bins := launch.Binaries{Dir: cfg.BinDir}
	plan, err := launch.BuildPlan(lc, ports, bins)
	if err != nil {
		emitError(ctx, records, err)
		return exitError(exitFailure, "Failed to build launch plan", err)
	}

	if err := runPreflight(ctx, cfg, plan, records); err != nil {
		return err
	}

	lk, err := lock.Acquire(cfg.StateDir)
	if err != nil {
		log.Error("Launch lock unavailable", zap.Error(err))
		emitError(ctx, records, err)
		return exitError(exitFailure, "Another parsecup invocation is running", err)
	}
	defer func() { _ = lk.Release() }()

	ledger := pidledger.Open(cfg.StateDir)
	if n, err := ledger.Prune(); err != nil {
		log.Warn("Failed to prune PID ledger", zap.String("path", ledger.Path()), zap.Error(err))
	} else if n > 0 {
		log.Debug("Pruned PID ledger", zap.Int("removed", n))
	}

	logs := logsink.NewManager(cfg.LogDir, cfg.ArchivePrefix, lc.LogLevel())
	if err := logs.Prepare(); err != nil {
		log.Error("Failed to prepare log directory", zap.Error(err))
		emitError(ctx, records, err)
		return exitError(exitFailure, "Log setup failed", err)
	}
	if archived := logs.Archived(); archived != "" {
		log.Info("Archived previous logs", zap.String("path", archived))
		if records != nil {
			_ = records.WriteArchive(ctx, &output.ArchiveRecord{Path: archived, CreatedAt: time.Now().UTC()})
		}
	}

	sinks, err := logs.Open(logsink.DefaultNames()...)
	if err != nil {
		log.Error("Failed to open log sinks", zap.Error(err))
		emitError(ctx, records, err)
		return exitError(exitFailure, "Log setup failed", err)
	}
	defer func() { _ = sinks.Close() }()

	batchID := uuid.NewString()
	if records != nil {
		records.SetBatchID(batchID)
	}

	var metrics *launch.Metrics
	if cfg.Metrics.Enabled {
		metrics = launch.NewMetrics("parsecup")
	}

	orch, err := launch.New(launch.Deps{
		Config:   lc,
		Ports:    ports,
		Binaries: bins,
		Sinks:    sinks,
		Tracker:  pidtrack.NewTracker(),
		Spawner:  launch.ExecSpawner{},
		Gate: readiness.New(readiness.Config{
			DialTimeout: cfg.Readiness.DialTimeout,
			Interval:    cfg.Readiness.Interval,
		}),
		Ledger:  ledger,
		Metrics: metrics,
		Logger:  log,
		Timings: launch.Timings{Readiness: cfg.Readiness.Timeout, Settle: cfg.SettleDelay},
		BatchID: batchID,
	})
	if err != nil {
		emitError(ctx, records, err)
		return exitError(exitFailure, "Failed to initialize launch", err)
	}

	log.Info("Starting batch",
		zap.String("batch_id", batchID),
		zap.String("ip", lc.IP()),
		zap.Int("port", lc.Port()),
		zap.String("runner_type", string(lc.RunnerKind())))

	// Reporting must not be cut short by the interrupt that ended the run.
	reportCtx := context.WithoutCancel(ctx)

	res, runErr := orch.Run(ctx)

	if metrics != nil {
		path := filepath.Join(logs.Root(), launch.MetricsFileName)
		if err := metrics.WriteTextfile(path); err != nil {
			log.Warn("Failed to write metrics", zap.String("path", path), zap.Error(err))
		}
	}

	if records != nil {
		writeLaunchRecords(reportCtx, records, res, runErr)
	} else {
		printLaunchReport(out, res, runErr)
	}

	if runErr != nil {
		if launch.IsInterrupted(runErr) {
			// An interrupt ends the launcher cleanly; whatever started keeps running.
			log.Warn("Launch interrupted; started processes left running", zap.Int("processes", len(res.Processes)))
			return nil
		}
		log.Error("Launch failed", zap.String("state", res.State), zap.Error(runErr))
		return exitError(exitFailure, "Launch failed", runErr)
	}
	return nil
}

func runPreflight(ctx context.Context, cfg *config.Config, plan []launch.Command, records *output.JSONLWriter) error {
	log := observability.CLILogger

	mode, err := preflight.ParseMode(cfg.Preflight)
	if err != nil {
		emitError(ctx, records, err)
		return exitError(exitFailure, "Invalid preflight mode", err)
	}

	rec, pfErr := preflight.Run(ctx, mode, plan, preflight.Options{DialTimeout: cfg.Readiness.DialTimeout})
	if records != nil && mode != preflight.ModeOff {
		if err := records.WritePreflight(ctx, rec); err != nil {
			log.Warn("Failed to write preflight record", zap.Error(err))
		}
	}
	for _, r := range rec.Results {
		if r.Passed {
			continue
		}
		log.Warn("Preflight check failed",
			zap.String("check", r.Check),
			zap.String("target", r.Target),
			zap.String("code", r.ErrorCode),
			zap.String("detail", r.Detail))
	}

	if pfErr != nil && mode == preflight.ModeStrict {
		log.Error("Preflight failed", zap.Error(pfErr))
		return exitError(exitFailure, "Preflight failed", pfErr)
	}
	return nil
}

func printLaunchReport(w io.Writer, res launch.Result, runErr error) {
	leftRunning := runErr == nil || launch.IsInterrupted(runErr)
	if leftRunning && len(res.Processes) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ROLE\tPID\tENDPOINT\tLOG")
		for _, p := range res.Processes {
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", p.Role, p.PID, p.Endpoint, p.LogPath)
		}
		_ = tw.Flush()
	}

	if len(res.LogPaths) > 0 {
		_, _ = fmt.Fprintln(w, "Logs:")
		for _, name := range sortedKeys(res.LogPaths) {
			_, _ = fmt.Fprintf(w, "  %s: %s\n", name, res.LogPaths[name])
		}
	}

	switch {
	case runErr == nil:
		_, _ = fmt.Fprintf(w, "Batch %s running (%s). To stop it: %s\n", res.BatchID, res.Elapsed.Round(time.Millisecond), killCommand)
	case launch.IsInterrupted(runErr):
		_, _ = fmt.Fprintf(w, "Interrupted; started processes are still running. To stop them: %s\n", killCommand)
	}
}

func writeLaunchRecords(ctx context.Context, records *output.JSONLWriter, res launch.Result, runErr error) {
	log := observability.CLILogger
	state := string(pidledger.StateRunning)
	if runErr != nil && !launch.IsInterrupted(runErr) {
		state = string(pidledger.StateTerminated)
	}

	for _, p := range res.Processes {
		if err := records.WriteProcess(ctx, &output.ProcessRecord{
			Role:      p.Role.String(),
			PID:       p.PID,
			State:     state,
			Endpoint:  p.Endpoint,
			LogPath:   p.LogPath,
			StartedAt: p.StartedAt,
		}); err != nil {
			log.Warn("Failed to write process record", zap.Error(err))
		}
	}
	if runErr != nil {
		emitError(ctx, records, runErr)
	}

	summary := &output.SummaryRecord{
		State:         res.State,
		Processes:     len(res.Processes),
		Duration:      res.Elapsed,
		DurationHuman: res.Elapsed.Round(time.Millisecond).String(),
		LogPaths:      res.LogPaths,
	}
	if runErr == nil || launch.IsInterrupted(runErr) {
		summary.KillCommand = killCommand
	}
	if err := records.WriteSummary(ctx, summary); err != nil {
		log.Warn("Failed to write summary record", zap.Error(err))
	}
}

// emitError writes an error record when JSONL output is enabled.
func emitError(ctx context.Context, records *output.JSONLWriter, err error) {
	if records == nil || err == nil {
		return
	}
	code, role := classifyError(err)
	if werr := records.WriteError(ctx, &output.ErrorRecord{
		Code:    code,
		Message: err.Error(),
		Role:    role,
	}); werr != nil {
		observability.CLILogger.Debug("Failed to emit error record", zap.Error(werr))
	}
}

// classifyError maps an error to its JSONL error code and, when known, the
// role it concerns.
func classifyError(err error) (code, role string) {
	var (
		cfgErr   *launchconfig.ConfigError
		spawnErr *launch.SpawnError
		readyErr *launch.ReadinessTimeoutError
		logErr   *logsink.LogSetupError
	)
	switch {
	case errors.As(err, &cfgErr):
		return output.ErrCodeInvalidConfig, ""
	case errors.As(err, &readyErr):
		return output.ErrCodeTimeout, readyErr.Role.String()
	case errors.As(err, &spawnErr):
		return output.ErrCodeSpawn, spawnErr.Role.String()
	case errors.As(err, &logErr):
		return output.ErrCodeLogSetup, ""
	case errors.Is(err, launch.ErrInterrupted):
		return output.ErrCodeInterrupted, ""
	default:
		return output.ErrCodeInternal, ""
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
