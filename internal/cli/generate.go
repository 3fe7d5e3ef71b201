package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/me/atomsched/internal/workload"
)

func newGenerateCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "generate <scenario.yaml>",
		Short: "Expand and validate a scenario without running it",
		Long: `Parse a scenario, run its generator script, validate the result, and
print the fully expanded scenario. Useful for checking what a scripted
scenario actually submits before replaying it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser := workload.NewParser(logger)
			sc, err := parser.ParseFile(args[0])
			if err != nil {
				return fmt.Errorf("parse scenario: %w", err)
			}

			v := workload.NewValidator(logger)
			if apiErr := v.Validate(sc); apiErr != nil {
				return fmt.Errorf("validate scenario: %w", apiErr)
			}

			// The expansion already ran; drop the script so the output
			// replays byte-for-byte without re-generating.
			sc.Script = ""
			sc.Params = nil

			data, err := yaml.Marshal(sc)
			if err != nil {
				return fmt.Errorf("marshal scenario: %w", err)
			}

			if output != "" {
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				fmt.Printf("Expanded scenario written to %s (%d atoms)\n", output, len(sc.Atoms))
				return nil
			}
			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the expanded scenario to a file instead of stdout")
	return cmd
}
