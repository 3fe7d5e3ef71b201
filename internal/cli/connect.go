package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect [name]",
		Short: "Open a new client connection",
		Long:  "Register a connection with the daemon. Atoms are submitted against a connection and withdrawn together when it is cancelled.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if len(args) == 1 {
				body["name"] = args[0]
			}

			resp, err := client.Post("/api/v1/connections/", body)
			if err != nil {
				return fmt.Errorf("create connection: %w", err)
			}

			var data map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			id, _ := data["id"].(string)
			fmt.Printf("Connection created: %s\n", id)
			return nil
		},
	}
}

func newConnectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connections",
		Short: "List registered connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/connections/")
			if err != nil {
				return fmt.Errorf("list connections: %w", err)
			}

			var conns []struct {
				ID        string `json:"id"`
				Name      string `json:"name"`
				Cancelled bool   `json:"cancelled"`
				Atoms     int    `json:"atoms"`
			}
			if err := json.Unmarshal(resp.Data, &conns); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(conns) == 0 {
				fmt.Println("No connections.")
				return nil
			}
			fmt.Printf("%-42s %-20s %-10s %s\n", "ID", "NAME", "STATE", "ATOMS")
			for _, c := range conns {
				state := "open"
				if c.Cancelled {
					state = "cancelled"
				}
				fmt.Printf("%-42s %-20s %-10s %d\n", c.ID, c.Name, state, c.Atoms)
			}
			return nil
		},
	}
}
