package workload

import (
	"fmt"

	"github.com/dop251/goja"
)

// runGenerator executes the scenario's JavaScript generator. The script body
// is wrapped in a function and must return an array of atom objects using
// the YAML field names. It sees the declared connection and semaphore
// handles plus the scenario's params object.
func runGenerator(script string, sc *Scenario) ([]AtomSpec, error) {
	vm := goja.New()

	conns := make([]string, len(sc.Connections))
	for i, c := range sc.Connections {
		conns[i] = c.ID
	}
	sems := make([]string, len(sc.Semaphores))
	for i, s := range sc.Semaphores {
		sems[i] = s.ID
	}
	params := sc.Params
	if params == nil {
		params = map[string]any{}
	}

	if err := vm.Set("connections", conns); err != nil {
		return nil, fmt.Errorf("set connections: %w", err)
	}
	if err := vm.Set("semaphores", sems); err != nil {
		return nil, fmt.Errorf("set semaphores: %w", err)
	}
	if err := vm.Set("params", params); err != nil {
		return nil, fmt.Errorf("set params: %w", err)
	}

	wrapped := fmt.Sprintf("(function() { %s })()", script)
	val, err := vm.RunString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("JavaScript error: %w", err)
	}

	items, ok := val.Export().([]any)
	if !ok {
		return nil, fmt.Errorf("script must return an array of atoms, got %T", val.Export())
	}

	atoms := make([]AtomSpec, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("atoms[%d]: expected an object, got %T", i, item)
		}
		spec, err := atomSpecFromJS(m)
		if err != nil {
			return nil, fmt.Errorf("atoms[%d]: %w", i, err)
		}
		atoms = append(atoms, spec)
	}
	return atoms, nil
}

// atomSpecFromJS converts one exported JavaScript object into an AtomSpec.
// Unknown fields are errors so typos in scripts surface at parse time.
func atomSpecFromJS(m map[string]any) (AtomSpec, error) {
	var spec AtomSpec
	for key, raw := range m {
		switch key {
		case "id":
			s, ok := raw.(string)
			if !ok {
				return spec, fmt.Errorf("id: expected string, got %T", raw)
			}
			spec.ID = s
		case "connection":
			s, ok := raw.(string)
			if !ok {
				return spec, fmt.Errorf("connection: expected string, got %T", raw)
			}
			spec.Connection = s
		case "priority":
			s, ok := raw.(string)
			if !ok {
				return spec, fmt.Errorf("priority: expected string, got %T", raw)
			}
			spec.Priority = s
		case "depends_on":
			s, ok := raw.(string)
			if !ok {
				return spec, fmt.Errorf("depends_on: expected string, got %T", raw)
			}
			spec.DependsOn = s
		case "result":
			s, ok := raw.(string)
			if !ok {
				return spec, fmt.Errorf("result: expected string, got %T", raw)
			}
			spec.Result = s
		case "soft_op":
			s, ok := raw.(string)
			if !ok {
				return spec, fmt.Errorf("soft_op: expected string, got %T", raw)
			}
			spec.SoftOp = s
		case "semaphore":
			s, ok := raw.(string)
			if !ok {
				return spec, fmt.Errorf("semaphore: expected string, got %T", raw)
			}
			spec.Semaphore = s
		case "submit_at_ms":
			n, ok := toInt(raw)
			if !ok {
				return spec, fmt.Errorf("submit_at_ms: expected number, got %T", raw)
			}
			spec.SubmitAtMS = n
		case "duration_ms":
			n, ok := toInt(raw)
			if !ok {
				return spec, fmt.Errorf("duration_ms: expected number, got %T", raw)
			}
			spec.DurationMS = n
		case "gpu_address":
			n, ok := toInt(raw)
			if !ok || n < 0 {
				return spec, fmt.Errorf("gpu_address: expected non-negative number, got %v", raw)
			}
			spec.GPUAddress = uint64(n)
		case "protected":
			b, ok := raw.(bool)
			if !ok {
				return spec, fmt.Errorf("protected: expected bool, got %T", raw)
			}
			spec.Protected = b
		case "hang":
			b, ok := raw.(bool)
			if !ok {
				return spec, fmt.Errorf("hang: expected bool, got %T", raw)
			}
			spec.Hang = b
		default:
			return spec, fmt.Errorf("unknown field %q", key)
		}
	}
	return spec, nil
}

// toInt accepts the numeric types goja exports for JavaScript numbers.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
