package model

import "testing"

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: ErrNotFound, Message: "Connection 'conn_123' not found"}
	want := "NOT_FOUND: Connection 'conn_123' not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("Semaphore", "frame-done")
	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Message != "Semaphore 'frame-done' not found" {
		t.Errorf("Message = %q, want %q", err.Message, "Semaphore 'frame-done' not found")
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("Invalid request",
		FieldError{Field: "priority", Message: "must be one of: low, default, high, higher"},
		FieldError{Field: "dependency", Message: "unknown atom"},
	)
	if err.Code != ErrValidation {
		t.Errorf("Code = %q, want %q", err.Code, ErrValidation)
	}
	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{
		Entity: "Atom",
		ID:     "17",
		From:   "COMPLETED",
		To:     "RUNNABLE",
	}
	want := "invalid Atom state transition: COMPLETED → RUNNABLE (entity 17)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
