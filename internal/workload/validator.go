package workload

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/me/atomsched/pkg/model"
)

// Validator performs semantic validation on a parsed Scenario.
type Validator struct {
	logger *slog.Logger
}

// NewValidator creates a Validator with the given logger.
func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{logger: logger.With("component", "validator")}
}

// Validate checks semantic correctness of a scenario.
// Returns nil if valid, or an *model.APIError with FieldError details.
func (v *Validator) Validate(sc *Scenario) *model.APIError {
	var errs []model.FieldError

	errs = append(errs, v.validateScenario(sc)...)
	errs = append(errs, v.validateConnections(sc)...)
	errs = append(errs, v.validateSemaphores(sc)...)
	errs = append(errs, v.validateAtoms(sc)...)
	errs = append(errs, v.validateDependencies(sc)...)
	errs = append(errs, v.validateSignals(sc)...)
	errs = append(errs, v.validateCancels(sc)...)

	if len(errs) == 0 {
		return nil
	}
	return model.NewValidationError("scenario validation failed", errs...)
}

func (v *Validator) validateScenario(sc *Scenario) []model.FieldError {
	var errs []model.FieldError
	if sc.Name == "" {
		errs = append(errs, model.FieldError{Field: "name", Message: "name is required"})
	}
	nonNegative := []struct {
		field string
		value int
	}{
		{"job_slots", sc.JobSlots},
		{"job_tick_ms", sc.JobTickMS},
		{"timeout_ms", sc.TimeoutMS},
		{"semaphore_timeout_ms", sc.SemaphoreTimeoutMS},
		{"default_duration_ms", sc.DefaultDurationMS},
	}
	for _, f := range nonNegative {
		if f.value < 0 {
			errs = append(errs, model.FieldError{
				Field:   f.field,
				Message: fmt.Sprintf("%s must not be negative", f.field),
			})
		}
	}
	return errs
}

func (v *Validator) validateConnections(sc *Scenario) []model.FieldError {
	var errs []model.FieldError
	if len(sc.Connections) == 0 {
		return []model.FieldError{{Field: "connections", Message: "at least one connection is required"}}
	}
	seen := make(map[string]bool, len(sc.Connections))
	for i, c := range sc.Connections {
		if c.ID == "" {
			errs = append(errs, model.FieldError{
				Field:   fmt.Sprintf("connections[%d].id", i),
				Message: "connection id is required",
			})
			continue
		}
		if seen[c.ID] {
			errs = append(errs, model.FieldError{
				Field:   fmt.Sprintf("connections[%d].id", i),
				Message: fmt.Sprintf("duplicate connection id %q", c.ID),
			})
		}
		seen[c.ID] = true
	}
	return errs
}

func (v *Validator) validateSemaphores(sc *Scenario) []model.FieldError {
	var errs []model.FieldError
	seen := make(map[string]bool, len(sc.Semaphores))
	for i, s := range sc.Semaphores {
		if s.ID == "" {
			errs = append(errs, model.FieldError{
				Field:   fmt.Sprintf("semaphores[%d].id", i),
				Message: "semaphore id is required",
			})
			continue
		}
		if seen[s.ID] {
			errs = append(errs, model.FieldError{
				Field:   fmt.Sprintf("semaphores[%d].id", i),
				Message: fmt.Sprintf("duplicate semaphore id %q", s.ID),
			})
		}
		seen[s.ID] = true
	}
	return errs
}

func (v *Validator) validateAtoms(sc *Scenario) []model.FieldError {
	var errs []model.FieldError
	conns := connectionIDs(sc)
	sems := semaphoreIDs(sc)

	seen := make(map[string]bool, len(sc.Atoms))
	for i, a := range sc.Atoms {
		field := func(name string) string { return fmt.Sprintf("atoms[%d].%s", i, name) }

		if a.ID == "" {
			errs = append(errs, model.FieldError{Field: field("id"), Message: "atom id is required"})
		} else if seen[a.ID] {
			errs = append(errs, model.FieldError{
				Field:   field("id"),
				Message: fmt.Sprintf("duplicate atom id %q", a.ID),
			})
		}
		seen[a.ID] = true

		if a.Connection == "" {
			errs = append(errs, model.FieldError{Field: field("connection"), Message: "connection is required"})
		} else if !conns[a.Connection] {
			errs = append(errs, model.FieldError{
				Field:   field("connection"),
				Message: fmt.Sprintf("connection %q is not declared", a.Connection),
			})
		}

		if a.Priority != "" {
			if _, err := model.ParsePriority(a.Priority); err != nil {
				errs = append(errs, model.FieldError{Field: field("priority"), Message: err.Error()})
			}
		}
		if a.Result != "" {
			if _, err := model.ParseResultCode(a.Result); err != nil {
				errs = append(errs, model.FieldError{Field: field("result"), Message: err.Error()})
			}
		}
		if a.SubmitAtMS < 0 {
			errs = append(errs, model.FieldError{Field: field("submit_at_ms"), Message: "submit_at_ms must not be negative"})
		}
		if a.DurationMS < 0 {
			errs = append(errs, model.FieldError{Field: field("duration_ms"), Message: "duration_ms must not be negative"})
		}

		op := model.SoftOp(a.SoftOp)
		if !op.Valid() {
			errs = append(errs, model.FieldError{
				Field:   field("soft_op"),
				Message: fmt.Sprintf("unknown soft operation %q", a.SoftOp),
			})
			continue
		}
		if op == model.SoftOpNone {
			if a.Semaphore != "" {
				errs = append(errs, model.FieldError{
					Field:   field("semaphore"),
					Message: "semaphore is only valid with a soft_op",
				})
			}
			continue
		}

		// Soft atom checks. Soft atoms never touch the hardware, so the
		// device-facing knobs make no sense on them.
		if a.Semaphore == "" {
			errs = append(errs, model.FieldError{Field: field("semaphore"), Message: "soft atoms require a semaphore"})
		} else if !sems[a.Semaphore] {
			errs = append(errs, model.FieldError{
				Field:   field("semaphore"),
				Message: fmt.Sprintf("semaphore %q is not declared", a.Semaphore),
			})
		}
		if a.Protected {
			errs = append(errs, model.FieldError{Field: field("protected"), Message: "soft atoms cannot be protected"})
		}
		if a.Hang {
			errs = append(errs, model.FieldError{Field: field("hang"), Message: "soft atoms cannot hang"})
		}
	}
	return errs
}

// validateDependencies checks that depends_on references resolve and that the
// dependency edges form a DAG. Kahn's algorithm over the single-parent edges
// reports any atoms stuck in a cycle.
func (v *Validator) validateDependencies(sc *Scenario) []model.FieldError {
	var errs []model.FieldError
	atomIDs := make(map[string]bool, len(sc.Atoms))
	for _, a := range sc.Atoms {
		atomIDs[a.ID] = true
	}

	forward := make(map[string][]string, len(sc.Atoms))
	inDegree := make(map[string]int, len(sc.Atoms))
	for _, a := range sc.Atoms {
		inDegree[a.ID] = 0
	}

	for i, a := range sc.Atoms {
		if a.DependsOn == "" {
			continue
		}
		if a.DependsOn == a.ID {
			errs = append(errs, model.FieldError{
				Field:   fmt.Sprintf("atoms[%d].depends_on", i),
				Message: fmt.Sprintf("atom %q depends on itself", a.ID),
			})
			continue
		}
		if !atomIDs[a.DependsOn] {
			errs = append(errs, model.FieldError{
				Field:   fmt.Sprintf("atoms[%d].depends_on", i),
				Message: fmt.Sprintf("dependency %q is not declared", a.DependsOn),
			})
			continue
		}
		forward[a.DependsOn] = append(forward[a.DependsOn], a.ID)
		inDegree[a.ID]++
	}
	if len(errs) > 0 {
		return errs
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	resolved := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		resolved++

		successors := forward[node]
		sort.Strings(successors)
		for _, succ := range successors {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
		sort.Strings(queue)
	}

	if resolved != len(inDegree) {
		var cycleNodes []string
		for id, deg := range inDegree {
			if deg > 0 {
				cycleNodes = append(cycleNodes, id)
			}
		}
		sort.Strings(cycleNodes)
		errs = append(errs, model.FieldError{
			Field:   "atoms",
			Message: fmt.Sprintf("dependency cycle involving atoms: %s", strings.Join(cycleNodes, ", ")),
		})
	}
	return errs
}

func (v *Validator) validateSignals(sc *Scenario) []model.FieldError {
	var errs []model.FieldError
	sems := semaphoreIDs(sc)
	for i, sig := range sc.Signals {
		if sig.Semaphore == "" {
			errs = append(errs, model.FieldError{
				Field:   fmt.Sprintf("signals[%d].semaphore", i),
				Message: "semaphore is required",
			})
		} else if !sems[sig.Semaphore] {
			errs = append(errs, model.FieldError{
				Field:   fmt.Sprintf("signals[%d].semaphore", i),
				Message: fmt.Sprintf("semaphore %q is not declared", sig.Semaphore),
			})
		}
		if sig.AtMS < 0 {
			errs = append(errs, model.FieldError{
				Field:   fmt.Sprintf("signals[%d].at_ms", i),
				Message: "at_ms must not be negative",
			})
		}
	}
	return errs
}

func (v *Validator) validateCancels(sc *Scenario) []model.FieldError {
	var errs []model.FieldError
	conns := connectionIDs(sc)
	for i, c := range sc.Cancels {
		if c.Connection == "" {
			errs = append(errs, model.FieldError{
				Field:   fmt.Sprintf("cancels[%d].connection", i),
				Message: "connection is required",
			})
		} else if !conns[c.Connection] {
			errs = append(errs, model.FieldError{
				Field:   fmt.Sprintf("cancels[%d].connection", i),
				Message: fmt.Sprintf("connection %q is not declared", c.Connection),
			})
		}
		if c.AtMS < 0 {
			errs = append(errs, model.FieldError{
				Field:   fmt.Sprintf("cancels[%d].at_ms", i),
				Message: "at_ms must not be negative",
			})
		}
	}
	return errs
}

func connectionIDs(sc *Scenario) map[string]bool {
	ids := make(map[string]bool, len(sc.Connections))
	for _, c := range sc.Connections {
		ids[c.ID] = true
	}
	return ids
}

func semaphoreIDs(sc *Scenario) map[string]bool {
	ids := make(map[string]bool, len(sc.Semaphores))
	for _, s := range sc.Semaphores {
		ids[s.ID] = true
	}
	return ids
}
