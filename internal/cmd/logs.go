package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/parsecup/internal/config"
	"github.com/3leaps/parsecup/pkg/launchconfig"
	"github.com/3leaps/parsecup/pkg/logsink"
	"github.com/3leaps/parsecup/pkg/output"
)

var logsCmd = &cobra.Command{
	Use:   "logs <main|storage|ticketing|agent>",
	Short: "Show a log file from the current run",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

var logsArchivesCmd = &cobra.Command{
	Use:   "archives",
	Short: "List archived log directories",
	Args:  cobra.NoArgs,
	RunE:  runLogsArchives,
}

var logsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete archived log directories older than --max-age",
	Args:  cobra.NoArgs,
	RunE:  runLogsGC,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsArchivesCmd)
	logsCmd.AddCommand(logsGCCmd)

	logsCmd.Flags().Int("tail", 200, "Show last N lines (0 = whole file)")
	logsGCCmd.Flags().String("max-age", "168h", "Delete archives older than this duration")
	logsGCCmd.Flags().Bool("dry-run", false, "Show how many archives would be deleted")
}

func logManager() *logsink.Manager {
	cfg := config.GetConfig()
	return logsink.NewManager(cfg.LogDir, cfg.ArchivePrefix, launchconfig.LogLevel(cfg.Launch.LogLevel))
}

func runLogs(cmd *cobra.Command, args []string) error {
	name := strings.ToLower(strings.TrimSpace(args[0]))
	if !slices.Contains(logsink.DefaultNames(), name) {
		return fmt.Errorf("unknown log %q (expected one of: %s)", name, strings.Join(logsink.DefaultNames(), ", "))
	}

	tailN, _ := cmd.Flags().GetInt("tail")
	if tailN < 0 {
		tailN = 0
	}
	return printLogTail(cmd.OutOrStdout(), logManager().SinkPath(name), tailN)
}

func runLogsArchives(cmd *cobra.Command, _ []string) error {
	archives, err := logManager().ListArchives()
	if err != nil {
		return err
	}
	return writeArchives(cmd.Context(), cmd.OutOrStdout(), archives, false)
}

func runLogsGC(cmd *cobra.Command, _ []string) error {
	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	maxAgeStr = strings.TrimSpace(maxAgeStr)
	if maxAgeStr == "" {
		maxAgeStr = "168h"
	}
	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil {
		return fmt.Errorf("invalid --max-age: %w", err)
	}
	if maxAge <= 0 {
		return fmt.Errorf("--max-age must be > 0")
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	pruned, err := logManager().PruneArchives(maxAge, dryRun)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeArchives(cmd.Context(), out, pruned, !dryRun)
	}

	if dryRun {
		_, _ = fmt.Fprintf(out, "would_delete=%d\n", len(pruned))
		return nil
	}
	_, _ = fmt.Fprintf(out, "deleted=%d\n", len(pruned))
	return nil
}

func writeArchives(ctx context.Context, out io.Writer, archives []logsink.Archive, removed bool) error {
	if jsonOutput {
		w := output.NewJSONLWriter(out, "")
		defer func() { _ = w.Close() }()
		for _, a := range archives {
			if err := w.WriteArchive(ctx, &output.ArchiveRecord{Path: a.Path, CreatedAt: a.CreatedAt, Removed: removed}); err != nil {
				return err
			}
		}
		return nil
	}

	if len(archives) == 0 {
		_, _ = fmt.Fprintln(out, "No archives found")
		return nil
	}
	for _, a := range archives {
		_, _ = fmt.Fprintf(out, "%s\t%s\n", a.CreatedAt.Format(time.RFC3339), a.Path)
	}
	return nil
}

func printLogTail(out io.Writer, path string, tailN int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if tailN <= 0 {
		_, err := io.Copy(out, f)
		return err
	}

	lines, err := tailLines(f, tailN)
	if err != nil {
		return err
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}

// tailLines returns the last n lines of r. Lines of any length are kept
// whole; a final line without a newline still counts.
func tailLines(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	br := bufio.NewReader(r)
	buf := make([]string, 0, n)

	for {
		line, err := br.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			if len(buf) < n {
				buf = append(buf, line)
			} else {
				copy(buf, buf[1:])
				buf[n-1] = line
			}
		}
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
