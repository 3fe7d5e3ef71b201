package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newTraceCmd() *cobra.Command {
	var (
		kind    string
		atomID  uint64
		connID  string
		limit   int
		offset  int
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show recorded scheduler trace events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if summary {
				return printTraceSummary()
			}

			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			if kind != "" {
				q.Set("kind", kind)
			}
			if atomID != 0 {
				q.Set("atom_id", strconv.FormatUint(atomID, 10))
			}
			if connID != "" {
				q.Set("connection_id", connID)
			}

			resp, err := client.Get("/api/v1/events/?" + q.Encode())
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}

			var events []struct {
				Time         time.Time `json:"time"`
				Kind         string    `json:"kind"`
				AtomID       uint64    `json:"atom_id"`
				ConnectionID string    `json:"connection_id"`
				Slot         int       `json:"slot"`
				Result       string    `json:"result"`
				Detail       string    `json:"detail"`
			}
			if err := json.Unmarshal(resp.Data, &events); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(events) == 0 {
				fmt.Println("No events.")
				return nil
			}
			for _, ev := range events {
				fmt.Printf("%s %-20s", ev.Time.Format("15:04:05.000"), ev.Kind)
				if ev.AtomID != 0 {
					fmt.Printf(" atom=%d", ev.AtomID)
				}
				if ev.Slot >= 0 {
					fmt.Printf(" slot=%d", ev.Slot)
				}
				if ev.Result != "" {
					fmt.Printf(" result=%s", ev.Result)
				}
				if ev.Detail != "" {
					fmt.Printf(" %s", ev.Detail)
				}
				fmt.Println()
			}
			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Printf("(%d of %d events; use --offset %d for more)\n",
					len(events), resp.Pagination.Total, offset+len(events))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Filter by event kind (e.g. dispatched, completed)")
	cmd.Flags().Uint64Var(&atomID, "atom", 0, "Filter by atom ID")
	cmd.Flags().StringVar(&connID, "connection", "", "Filter by connection ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum events to fetch")
	cmd.Flags().IntVar(&offset, "offset", 0, "Events to skip")
	cmd.Flags().BoolVar(&summary, "summary", false, "Show per-kind event counts instead of events")
	return cmd
}

func printTraceSummary() error {
	resp, err := client.Get("/api/v1/events/summary")
	if err != nil {
		return fmt.Errorf("event summary: %w", err)
	}

	var data struct {
		Total int            `json:"total"`
		Kinds map[string]int `json:"kinds"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	fmt.Printf("%d events recorded\n", data.Total)
	kinds := make([]string, 0, len(data.Kinds))
	for k := range data.Kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-22s %d\n", k, data.Kinds[k])
	}
	return nil
}
