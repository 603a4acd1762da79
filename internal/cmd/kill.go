package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/parsecup/internal/config"
	"github.com/3leaps/parsecup/internal/lock"
	"github.com/3leaps/parsecup/internal/observability"
	"github.com/3leaps/parsecup/pkg/launch"
	"github.com/3leaps/parsecup/pkg/output"
	"github.com/3leaps/parsecup/pkg/pidledger"
	"github.com/3leaps/parsecup/pkg/pidtrack"
)

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Kill every parsec process on this host",
	Long: `Force-kill every process whose executable matches the discovery
patterns, including processes started by earlier invocations or by hand.

This is the same as 'parsecup --kill_pids'. Matching ledger records are
marked terminated.`,
	Args: cobra.NoArgs,
	RunE: runKill,
}

func init() {
	rootCmd.AddCommand(killCmd)
}

func runKill(cmd *cobra.Command, _ []string) error {
	var records *output.JSONLWriter
	if jsonOutput {
		records = output.NewJSONLWriter(cmd.OutOrStdout(), "")
		defer func() { _ = records.Close() }()
	}
	return runKillAll(cmd.Context(), config.GetConfig(), cmd.OutOrStdout(), records)
}

func runKillAll(ctx context.Context, cfg *config.Config, out io.Writer, records *output.JSONLWriter) error {
	log := observability.CLILogger

	lk, err := lock.Acquire(cfg.StateDir)
	if err != nil {
		log.Error("Launch lock unavailable", zap.Error(err))
		emitError(ctx, records, err)
		return exitError(exitFailure, "Another parsecup invocation is running", err)
	}
	defer func() { _ = lk.Release() }()

	sweeper, err := pidtrack.NewSweeper(cfg.Discovery.Patterns)
	if err != nil {
		emitError(ctx, records, err)
		return exitError(exitFailure, "Invalid discovery patterns", err)
	}
	log.Debug("Sweeping processes", zap.Strings("patterns", sweeper.Patterns()))

	report, killErr := launch.KillAll(ctx, sweeper, pidledger.Open(cfg.StateDir), log)

	if records != nil {
		rec := &output.KillRecord{Killed: report.Killed, LedgerUpdated: report.LedgerMarks}
		if rec.Killed == nil {
			rec.Killed = []int{}
		}
		if killErr != nil {
			rec.Errors = killErr.Error()
		}
		if err := records.WriteKill(ctx, rec); err != nil {
			log.Warn("Failed to write kill record", zap.Error(err))
		}
	} else {
		_, _ = fmt.Fprintf(out, "killed=%d ledger_updated=%d\n", len(report.Killed), report.LedgerMarks)
	}

	if killErr != nil {
		log.Error("Kill completed with errors", zap.Error(killErr))
		return exitError(exitFailure, "Kill completed with errors", killErr)
	}
	return nil
}
