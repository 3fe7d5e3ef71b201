package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSemaphoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "semaphore",
		Short: "Manage platform semaphores for soft atoms",
	}
	cmd.AddCommand(
		newSemaphoreCreateCmd(),
		newSemaphoreListCmd(),
		newSemaphoreSignalCmd(),
		newSemaphoreResetCmd(),
	)
	return cmd
}

func newSemaphoreCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create [name]",
		Short: "Register a new semaphore",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if len(args) == 1 {
				body["name"] = args[0]
			}

			resp, err := client.Post("/api/v1/semaphores/", body)
			if err != nil {
				return fmt.Errorf("create semaphore: %w", err)
			}

			var sem semaphoreData
			if err := json.Unmarshal(resp.Data, &sem); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			fmt.Printf("Semaphore created: key %d\n", sem.Key)
			return nil
		},
	}
}

func newSemaphoreListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered semaphores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/semaphores/")
			if err != nil {
				return fmt.Errorf("list semaphores: %w", err)
			}

			var sems []semaphoreData
			if err := json.Unmarshal(resp.Data, &sems); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(sems) == 0 {
				fmt.Println("No semaphores.")
				return nil
			}
			fmt.Printf("%-10s %-20s %s\n", "KEY", "NAME", "SIGNALED")
			for _, sem := range sems {
				fmt.Printf("%-10d %-20s %v\n", sem.Key, sem.Name, sem.Signaled)
			}
			return nil
		},
	}
}

func newSemaphoreSignalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signal <key>",
		Short: "Signal a semaphore, releasing atoms waiting on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return putSemaphore(args[0], "signal")
		},
	}
}

func newSemaphoreResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <key>",
		Short: "Reset a semaphore to unsignaled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return putSemaphore(args[0], "reset")
		},
	}
}

type semaphoreData struct {
	Key      uint64 `json:"key"`
	Name     string `json:"name"`
	Signaled bool   `json:"signaled"`
}

func putSemaphore(key, op string) error {
	resp, err := client.Put("/api/v1/semaphores/"+key+"/"+op, nil)
	if err != nil {
		return fmt.Errorf("%s semaphore: %w", op, err)
	}

	var sem semaphoreData
	if err := json.Unmarshal(resp.Data, &sem); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	fmt.Printf("Semaphore %d: signaled=%v\n", sem.Key, sem.Signaled)
	return nil
}
