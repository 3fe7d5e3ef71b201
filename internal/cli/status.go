package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [atom_id]",
		Short: "Show scheduler status, or the status of one atom",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return printAtomStatus(args[0])
			}
			return printSchedulerStatus()
		},
	}
}

func printSchedulerStatus() error {
	resp, err := client.Get("/api/v1/status")
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	var st struct {
		JobSlots      int            `json:"job_slots"`
		Tracked       int            `json:"tracked"`
		Queued        int            `json:"queued"`
		Runnable      map[string]int `json:"runnable"`
		Waiting       int            `json:"waiting"`
		Executing     int            `json:"executing"`
		ProtectedMode bool           `json:"protected_mode"`
		PendingSwitch string         `json:"pending_switch"`
		GpuActive     bool           `json:"gpu_active"`
		Slots         []struct {
			Slot            int    `json:"slot"`
			AtomID          uint64 `json:"atom_id"`
			ConnectionID    string `json:"connection_id"`
			Priority        string `json:"priority"`
			Protected       bool   `json:"protected"`
			RunningFor      int64  `json:"running_for_ns"`
			SoftStopPending bool   `json:"soft_stop_pending"`
		} `json:"slots"`
	}
	if err := json.Unmarshal(resp.Data, &st); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	mode := "normal"
	if st.ProtectedMode {
		mode = "protected"
	}
	power := "idle"
	if st.GpuActive {
		power = "active"
	}
	fmt.Printf("Scheduler: %d slots, GPU %s, mode %s", st.JobSlots, power, mode)
	if st.PendingSwitch != "" {
		fmt.Printf(" (switch to %s pending)", st.PendingSwitch)
	}
	fmt.Println()
	fmt.Printf("  Atoms:   %d tracked, %d queued, %d waiting, %d executing\n",
		st.Tracked, st.Queued, st.Waiting, st.Executing)

	if len(st.Runnable) > 0 {
		prios := make([]string, 0, len(st.Runnable))
		for p := range st.Runnable {
			prios = append(prios, p)
		}
		sort.Strings(prios)
		fmt.Printf("  Runnable:")
		for _, p := range prios {
			fmt.Printf(" %s=%d", p, st.Runnable[p])
		}
		fmt.Println()
	}

	for _, slot := range st.Slots {
		if slot.AtomID == 0 {
			fmt.Printf("  Slot %d: idle\n", slot.Slot)
			continue
		}
		fmt.Printf("  Slot %d: atom %d (%s, priority %s, running %s",
			slot.Slot, slot.AtomID, slot.ConnectionID, slot.Priority,
			time.Duration(slot.RunningFor).Round(time.Millisecond))
		if slot.Protected {
			fmt.Printf(", protected")
		}
		if slot.SoftStopPending {
			fmt.Printf(", soft stop pending")
		}
		fmt.Println(")")
	}
	return nil
}

func printAtomStatus(id string) error {
	resp, err := client.Get("/api/v1/atoms/" + id)
	if err != nil {
		return fmt.Errorf("get atom: %w", err)
	}

	var atom struct {
		ID           uint64 `json:"id"`
		ConnectionID string `json:"connection_id"`
		Priority     string `json:"priority"`
		Protected    bool   `json:"protected"`
		SoftOp       string `json:"soft_op"`
		State        string `json:"state"`
		Slot         int    `json:"slot"`
		Result       string `json:"result"`
	}
	if err := json.Unmarshal(resp.Data, &atom); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	fmt.Printf("Atom %d\n", atom.ID)
	fmt.Printf("  Connection: %s\n", atom.ConnectionID)
	fmt.Printf("  Priority:   %s\n", atom.Priority)
	if atom.SoftOp != "" {
		fmt.Printf("  Soft op:    %s\n", atom.SoftOp)
	}
	if atom.Protected {
		fmt.Printf("  Protected:  yes\n")
	}
	fmt.Printf("  State:      %s\n", atom.State)
	if atom.Slot >= 0 {
		fmt.Printf("  Slot:       %d\n", atom.Slot)
	}
	if atom.Result != "" {
		fmt.Printf("  Result:     %s\n", atom.Result)
	}
	return nil
}
