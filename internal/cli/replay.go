package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/atomsched/internal/workload"
)

func newReplayCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Replay a workload scenario locally",
		Long: `Replay a scenario against an in-process scheduler and simulated device.
The daemon is not involved: replay builds its own scheduler from the
scenario's knobs, runs the timeline in real time, and prints a report.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser := workload.NewParser(logger)
			sc, err := parser.ParseFile(args[0])
			if err != nil {
				return fmt.Errorf("parse scenario: %w", err)
			}

			runner := workload.NewRunner(logger)
			report, err := runner.Run(cmd.Context(), sc)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			fmt.Print(report.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the report as JSON")
	return cmd
}
