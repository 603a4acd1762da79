package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/parsecup/internal/config"
	"github.com/3leaps/parsecup/pkg/output"
	"github.com/3leaps/parsecup/pkg/pidledger"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show processes recorded in the PID ledger",
	Long: `Show every process recorded in the PID ledger. Records marked running
whose process no longer exists are reported (and persisted) as unknown.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var statusRunningOnly bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusRunningOnly, "running", false, "Only show running processes")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	store := pidledger.Open(config.GetConfig().StateDir)
	list := store.Live
	if statusRunningOnly {
		list = store.Running
	}
	recs, err := list()
	if err != nil {
		return exitError(exitFailure, "Failed to read PID ledger", err)
	}

	if jsonOutput {
		w := output.NewJSONLWriter(out, "")
		defer func() { _ = w.Close() }()
		for _, r := range recs {
			w.SetBatchID(r.BatchID)
			if err := w.WriteProcess(ctx, &output.ProcessRecord{
				Role:      r.Role.String(),
				PID:       r.PID,
				State:     string(r.State),
				Endpoint:  r.Endpoint,
				LogPath:   r.LogPath,
				StartedAt: r.StartedAt,
			}); err != nil {
				return err
			}
		}
		return nil
	}

	if len(recs) == 0 {
		_, _ = fmt.Fprintln(out, "No processes recorded")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "BATCH\tROLE\tPID\tSTATE\tENDPOINT\tSTARTED\tENDED")
	for _, r := range recs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			shortID(r.BatchID), r.Role, r.PID, r.State, r.Endpoint,
			formatTime(r.StartedAt), formatOptionalTime(r.EndedAt))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}
