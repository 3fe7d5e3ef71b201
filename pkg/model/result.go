package model

import (
	"encoding/json"
	"fmt"
)

// ResultCode is the completion status reported for an atom, mirroring the
// status codes a Mali-family job slot raises. Values are stable and appear
// in traces, so new codes must not reuse old numbers.
type ResultCode uint32

const (
	ResultSuccess        ResultCode = 0x1
	ResultSoftStopped    ResultCode = 0x3
	ResultAtomTerminated ResultCode = 0x4
	ResultTimedOut       ResultCode = 0x5
	ResultJobInvalid     ResultCode = 0x40
	ResultJobFault       ResultCode = 0x41
	ResultUnknownFault   ResultCode = 0x7f
)

var resultNames = map[ResultCode]string{
	ResultSuccess:        "SUCCESS",
	ResultSoftStopped:    "SOFT_STOPPED",
	ResultAtomTerminated: "ATOM_TERMINATED",
	ResultTimedOut:       "TIMED_OUT",
	ResultJobInvalid:     "JOB_INVALID",
	ResultJobFault:       "JOB_FAULT",
	ResultUnknownFault:   "UNKNOWN_FAULT",
}

// String returns the symbolic name of the result code, or a hex rendering
// for codes without one.
func (r ResultCode) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RESULT_0X%X", uint32(r))
}

// IsFailure reports whether the code counts as a failure for dependency
// propagation. Soft-stopped is not a failure: the atom will run again.
func (r ResultCode) IsFailure() bool {
	switch r {
	case ResultSuccess, ResultSoftStopped:
		return false
	}
	return true
}

// ParseResultCode converts a symbolic name back to a ResultCode.
func ParseResultCode(s string) (ResultCode, error) {
	for code, name := range resultNames {
		if name == s {
			return code, nil
		}
	}
	return 0, fmt.Errorf("unknown result code %q", s)
}

// MarshalJSON renders the result code as its symbolic name.
func (r ResultCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts either a symbolic name or a bare number.
func (r *ResultCode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		code, err := ParseResultCode(s)
		if err != nil {
			return err
		}
		*r = code
		return nil
	}
	var n uint32
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("result code must be a name or number: %w", err)
	}
	*r = ResultCode(n)
	return nil
}
