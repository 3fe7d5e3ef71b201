package workload

import (
	"strings"
	"testing"

	"github.com/me/atomsched/pkg/model"
)

func testValidator() *Validator {
	return NewValidator(testLogger())
}

// validScenario returns a minimal valid scenario for mutation tests.
func validScenario() *Scenario {
	return &Scenario{
		Name:     "valid",
		JobSlots: 2,
		Connections: []ConnectionSpec{
			{ID: "c1"},
			{ID: "c2"},
		},
		Semaphores: []SemaphoreSpec{
			{ID: "s1"},
		},
		Atoms: []AtomSpec{
			{ID: "a1", Connection: "c1", Priority: "high", DurationMS: 5},
			{ID: "a2", Connection: "c1", DependsOn: "a1"},
			{ID: "w1", Connection: "c2", SoftOp: "semaphore_wait", Semaphore: "s1"},
		},
		Signals: []SignalSpec{
			{Semaphore: "s1", AtMS: 20},
		},
		Cancels: []CancelSpec{
			{Connection: "c2", AtMS: 50},
		},
	}
}

func hasFieldError(errs []model.FieldError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func hasFieldErrorMsg(errs []model.FieldError, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func TestValidate_ValidScenario(t *testing.T) {
	v := testValidator()
	if apiErr := v.Validate(validScenario()); apiErr != nil {
		t.Errorf("expected nil, got %v", apiErr)
	}
}

func TestValidate_MissingName(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Name = ""
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldError(apiErr.Details, "name") {
		t.Errorf("expected name error, got %v", apiErr.Details)
	}
}

func TestValidate_NegativeKnobs(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.TimeoutMS = -1
	sc.JobSlots = -2
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldError(apiErr.Details, "timeout_ms") || !hasFieldError(apiErr.Details, "job_slots") {
		t.Errorf("expected knob errors, got %v", apiErr.Details)
	}
}

func TestValidate_NoConnections(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Connections = nil
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldError(apiErr.Details, "connections") {
		t.Errorf("expected connections error, got %v", apiErr.Details)
	}
}

func TestValidate_DuplicateConnection(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Connections = append(sc.Connections, ConnectionSpec{ID: "c1"})
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldErrorMsg(apiErr.Details, `duplicate connection id "c1"`) {
		t.Errorf("expected duplicate error, got %v", apiErr.Details)
	}
}

func TestValidate_DuplicateSemaphore(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Semaphores = append(sc.Semaphores, SemaphoreSpec{ID: "s1"})
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldErrorMsg(apiErr.Details, `duplicate semaphore id "s1"`) {
		t.Errorf("expected duplicate error, got %v", apiErr.Details)
	}
}

func TestValidate_DuplicateAtom(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Atoms = append(sc.Atoms, AtomSpec{ID: "a1", Connection: "c1"})
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldErrorMsg(apiErr.Details, `duplicate atom id "a1"`) {
		t.Errorf("expected duplicate error, got %v", apiErr.Details)
	}
}

func TestValidate_UnknownConnectionRef(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Atoms[0].Connection = "nope"
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldError(apiErr.Details, "atoms[0].connection") {
		t.Errorf("expected connection ref error, got %v", apiErr.Details)
	}
}

func TestValidate_BadPriority(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Atoms[0].Priority = "urgent"
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldError(apiErr.Details, "atoms[0].priority") {
		t.Errorf("expected priority error, got %v", apiErr.Details)
	}
}

func TestValidate_BadResult(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Atoms[0].Result = "EXPLODED"
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldError(apiErr.Details, "atoms[0].result") {
		t.Errorf("expected result error, got %v", apiErr.Details)
	}
}

func TestValidate_UnknownSoftOp(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Atoms[2].SoftOp = "semaphore_destroy"
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldErrorMsg(apiErr.Details, "unknown soft operation") {
		t.Errorf("expected soft op error, got %v", apiErr.Details)
	}
}

func TestValidate_SoftAtomNeedsSemaphore(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Atoms[2].Semaphore = ""
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldErrorMsg(apiErr.Details, "require a semaphore") {
		t.Errorf("expected semaphore error, got %v", apiErr.Details)
	}
}

func TestValidate_SemaphoreOnHardAtom(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Atoms[0].Semaphore = "s1"
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldErrorMsg(apiErr.Details, "only valid with a soft_op") {
		t.Errorf("expected semaphore error, got %v", apiErr.Details)
	}
}

func TestValidate_SoftAtomCannotHang(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Atoms[2].Hang = true
	sc.Atoms[2].Protected = true
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldError(apiErr.Details, "atoms[2].hang") || !hasFieldError(apiErr.Details, "atoms[2].protected") {
		t.Errorf("expected hang/protected errors, got %v", apiErr.Details)
	}
}

func TestValidate_UnknownSemaphoreRef(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Atoms[2].Semaphore = "ghost"
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldError(apiErr.Details, "atoms[2].semaphore") {
		t.Errorf("expected semaphore ref error, got %v", apiErr.Details)
	}
}

func TestValidate_UnknownDependency(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Atoms[1].DependsOn = "ghost"
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldErrorMsg(apiErr.Details, `dependency "ghost" is not declared`) {
		t.Errorf("expected dependency error, got %v", apiErr.Details)
	}
}

func TestValidate_SelfDependency(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Atoms[1].DependsOn = "a2"
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldErrorMsg(apiErr.Details, "depends on itself") {
		t.Errorf("expected self dependency error, got %v", apiErr.Details)
	}
}

func TestValidate_DependencyCycle(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Atoms[0].DependsOn = "a2"
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldErrorMsg(apiErr.Details, "dependency cycle involving atoms: a1, a2") {
		t.Errorf("expected cycle error, got %v", apiErr.Details)
	}
}

func TestValidate_SignalUnknownSemaphore(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Signals[0].Semaphore = "ghost"
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldError(apiErr.Details, "signals[0].semaphore") {
		t.Errorf("expected signal error, got %v", apiErr.Details)
	}
}

func TestValidate_CancelUnknownConnection(t *testing.T) {
	v := testValidator()
	sc := validScenario()
	sc.Cancels[0].Connection = "ghost"
	sc.Cancels[0].AtMS = -5
	apiErr := v.Validate(sc)
	if apiErr == nil {
		t.Fatal("expected error")
	}
	if !hasFieldError(apiErr.Details, "cancels[0].connection") || !hasFieldError(apiErr.Details, "cancels[0].at_ms") {
		t.Errorf("expected cancel errors, got %v", apiErr.Details)
	}
}
