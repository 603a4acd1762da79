package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/parsecup/internal/config"
	"github.com/3leaps/parsecup/pkg/launch"
	"github.com/3leaps/parsecup/pkg/launchconfig"
	"github.com/3leaps/parsecup/pkg/output"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the commands a launch would run, without running them",
	Long: `Validate the configuration and print the resolved ports and the exact
command line of each process, in launch order. Nothing is started and the
log directory is left untouched.

Example:
  parsecup plan
  parsecup plan --runner_type lua --output yaml`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

var planOutput string

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "text", "Output format: text, yaml, or json")
}

type planDoc struct {
	Params   launchconfig.Params         `json:"params" yaml:"params"`
	Topology launchconfig.Topology       `json:"topology" yaml:"topology"`
	Ports    launchconfig.PortAssignment `json:"ports" yaml:"ports"`
	Commands []output.PlanRecord         `json:"commands" yaml:"commands"`
}

func runPlan(cmd *cobra.Command, _ []string) error {
	format := strings.ToLower(strings.TrimSpace(planOutput))
	if jsonOutput {
		format = "jsonl"
	}

	cfg := config.GetConfig()
	doc, err := buildPlanDoc(cfg.Launch, cfg.BinDir)
	if err != nil {
		return exitError(exitFailure, "Invalid configuration", err)
	}
	return renderPlan(cmd.Context(), cmd.OutOrStdout(), format, doc)
}

func buildPlanDoc(params launchconfig.Params, binDir string) (*planDoc, error) {
	lc, err := launchconfig.Validate(params)
	if err != nil {
		return nil, err
	}
	ports, err := launchconfig.PortAssignmentFor(lc)
	if err != nil {
		return nil, err
	}
	cmds, err := launch.BuildPlan(lc, ports, launch.Binaries{Dir: binDir})
	if err != nil {
		return nil, err
	}

	doc := &planDoc{
		Params:   lc.Params(),
		Topology: lc.Topology(),
		Ports:    ports,
		Commands: make([]output.PlanRecord, 0, len(cmds)),
	}
	for _, c := range cmds {
		doc.Commands = append(doc.Commands, output.PlanRecord{
			Role:     c.Role.String(),
			Path:     c.Path,
			Args:     c.Args,
			Endpoint: c.Endpoint,
		})
	}
	return doc, nil
}

func renderPlan(ctx context.Context, w io.Writer, format string, doc *planDoc) error {
	switch format {
	case "", "text":
		_, _ = fmt.Fprintln(w, "=== Launch Plan (dry-run) ===")
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintf(w, "Topology:    %d logical shards, %d physical shards, %d physical ticket machines, %d agents\n",
			doc.Topology.LogicalShards, doc.Topology.PhysicalShards, doc.Topology.PhysicalTicketMachines, doc.Topology.Agents)
		_, _ = fmt.Fprintf(w, "Runner:      %s\n", doc.Params.RunnerType)
		_, _ = fmt.Fprintf(w, "Log level:   %s\n", doc.Params.LogLevel)
		_, _ = fmt.Fprintln(w)
		for i, c := range doc.Commands {
			_, _ = fmt.Fprintf(w, "%d. %s (%s)\n", i+1, c.Role, c.Endpoint)
			_, _ = fmt.Fprintf(w, "   %s %s\n", c.Path, strings.Join(c.Args, " "))
		}
		return nil
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "jsonl":
		// One parsecup.plan.v1 record per command, in launch order.
		records := output.NewJSONLWriter(w, "")
		for i := range doc.Commands {
			if err := records.WritePlan(ctx, &doc.Commands[i]); err != nil {
				_ = records.Close()
				return err
			}
		}
		return records.Close()
	default:
		return fmt.Errorf("invalid --output %q (expected text, yaml, or json)", format)
	}
}
