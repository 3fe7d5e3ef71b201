package workload

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/me/atomsched/pkg/model"
)

// AtomOutcome records how one scenario atom ended.
type AtomOutcome struct {
	ID         string        `json:"id"`
	AtomID     uint64        `json:"atom_id"`
	Connection string        `json:"connection"`
	Result     string        `json:"result"`
	Latency    time.Duration `json:"latency_ns"`
}

// Report summarizes a finished replay. Counters are derived from the final
// atom results; the stop and mode-switch tallies come from the event stream.
type Report struct {
	Scenario     string         `json:"scenario"`
	Duration     time.Duration  `json:"duration_ns"`
	Atoms        int            `json:"atoms"`
	Completed    int            `json:"completed"`
	Failed       int            `json:"failed"`
	Cancelled    int            `json:"cancelled"`
	SoftStops    int            `json:"soft_stops"`
	HardStops    int            `json:"hard_stops"`
	Hangs        int            `json:"hangs"`
	ModeSwitches int            `json:"mode_switches"`
	Events       int            `json:"events"`
	ByResult     map[string]int `json:"by_result"`
	Outcomes     []AtomOutcome  `json:"outcomes"`
}

func buildReport(sc *Scenario, atoms map[string]*model.Atom, events []model.Event, duration time.Duration) *Report {
	rep := &Report{
		Scenario: sc.Name,
		Duration: duration,
		Atoms:    len(atoms),
		Events:   len(events),
		ByResult: make(map[string]int),
	}

	terminal := make(map[uint64]model.Event, len(atoms))
	for _, ev := range events {
		switch ev.Kind {
		case model.EventCompleted, model.EventFailed, model.EventDependencyFailed, model.EventCancelled:
			terminal[ev.AtomID] = ev
		case model.EventSoftStopRequested:
			rep.SoftStops++
		case model.EventHardStopRequested:
			rep.HardStops++
		case model.EventTimedOut:
			rep.Hangs++
		case model.EventModeSwitch:
			if ev.Detail == "protected" || ev.Detail == "normal" {
				rep.ModeSwitches++
			}
		}
	}

	for _, spec := range sc.Atoms {
		atom := atoms[spec.ID]
		out := AtomOutcome{
			ID:         spec.ID,
			AtomID:     atom.ID,
			Connection: spec.Connection,
		}
		result, done := atom.Result()
		if done {
			out.Result = result.String()
			rep.ByResult[out.Result]++
			switch {
			case result == model.ResultSuccess:
				rep.Completed++
			case result == model.ResultAtomTerminated:
				rep.Cancelled++
			case result.IsFailure():
				rep.Failed++
			}
		}
		if ev, ok := terminal[atom.ID]; ok {
			out.Latency = ev.Latency
		}
		rep.Outcomes = append(rep.Outcomes, out)
	}
	return rep
}

// String renders the report for terminal output.
func (rep *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %q finished in %s\n",
		rep.Scenario, rep.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "atoms %s: %s completed, %s failed, %s cancelled (%s events)\n",
		humanize.Comma(int64(rep.Atoms)),
		humanize.Comma(int64(rep.Completed)),
		humanize.Comma(int64(rep.Failed)),
		humanize.Comma(int64(rep.Cancelled)),
		humanize.Comma(int64(rep.Events)))
	fmt.Fprintf(&b, "soft stops %d, hard stops %d, hangs %d, mode switches %d\n",
		rep.SoftStops, rep.HardStops, rep.Hangs, rep.ModeSwitches)

	if len(rep.ByResult) > 0 {
		codes := make([]string, 0, len(rep.ByResult))
		for code := range rep.ByResult {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		b.WriteString("results:\n")
		for _, code := range codes {
			fmt.Fprintf(&b, "  %-16s %s\n", code, humanize.Comma(int64(rep.ByResult[code])))
		}
	}

	if len(rep.Outcomes) > 0 {
		b.WriteString("atoms:\n")
		for _, out := range rep.Outcomes {
			fmt.Fprintf(&b, "  %-16s %-12s %-16s latency %s\n",
				out.ID, out.Connection, out.Result,
				out.Latency.Round(time.Millisecond))
		}
	}
	return b.String()
}
