package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var (
		priority   string
		protected  bool
		count      int
		dependsOn  uint64
		chain      bool
		durationMS int
		result     string
		hang       bool
		softOp     string
		semaphore  uint64
	)

	cmd := &cobra.Command{
		Use:   "submit <connection_id>",
		Short: "Submit atoms to the scheduler",
		Long: `Submit one or more atoms against a connection. Hard atoms carry an
execution profile for the simulated device; a soft_op plus a semaphore key
makes soft atoms instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			connID := args[0]

			if count < 1 {
				count = 1
			}

			atoms := make([]map[string]any, 0, count)
			for i := 0; i < count; i++ {
				atom := map[string]any{}
				if priority != "" {
					atom["priority"] = priority
				}
				if protected {
					atom["protected"] = true
				}
				if softOp != "" {
					atom["soft_op"] = softOp
					atom["semaphore"] = semaphore
				} else if durationMS > 0 || result != "" || hang {
					profile := map[string]any{}
					if durationMS > 0 {
						profile["duration_ms"] = durationMS
					}
					if result != "" {
						profile["result"] = result
					}
					if hang {
						profile["hang"] = true
					}
					atom["profile"] = profile
				}
				switch {
				case chain && i > 0:
					prev := i - 1
					atom["depends_on_index"] = prev
				case dependsOn != 0 && i == 0:
					atom["depends_on"] = dependsOn
				}
				atoms = append(atoms, atom)
			}

			resp, err := client.Post("/api/v1/connections/"+connID+"/atoms", map[string]any{"atoms": atoms})
			if err != nil {
				return fmt.Errorf("submit atoms: %w", err)
			}

			var data struct {
				Atoms []struct {
					ID       uint64 `json:"id"`
					Priority string `json:"priority"`
					State    string `json:"state"`
				} `json:"atoms"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			for _, a := range data.Atoms {
				fmt.Printf("Atom %d submitted (priority %s, state %s)\n", a.ID, a.Priority, a.State)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Priority: low, default, high, higher")
	cmd.Flags().BoolVar(&protected, "protected", false, "Require protected mode")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of identical atoms to submit")
	cmd.Flags().Uint64Var(&dependsOn, "depends-on", 0, "Atom ID the first atom depends on")
	cmd.Flags().BoolVar(&chain, "chain", false, "Make each atom depend on the previous one in this batch")
	cmd.Flags().IntVar(&durationMS, "duration-ms", 0, "Simulated execution time")
	cmd.Flags().StringVar(&result, "result", "", "Forced device result code (e.g. JOB_FAULT)")
	cmd.Flags().BoolVar(&hang, "hang", false, "Make the device hang until the watchdog fires")
	cmd.Flags().StringVar(&softOp, "soft-op", "", "Soft operation: semaphore_set, semaphore_reset, semaphore_wait, semaphore_wait_and_reset")
	cmd.Flags().Uint64Var(&semaphore, "semaphore", 0, "Semaphore key for soft atoms")
	return cmd
}
