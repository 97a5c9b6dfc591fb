package saga

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state of a saga run.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCompensating Status = "COMPENSATING"
	StatusCompensated  Status = "COMPENSATED"
)

func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed,
		StatusCompensating, StatusCompensated:
		return true
	}
	return false
}

// Terminal reports whether no further transition is expected from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCompensated
}

// UnmarshalJSON rejects unknown statuses so corrupted state is caught on load.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	st := Status(str)
	if !st.Valid() {
		return fmt.Errorf("invalid saga status: %q", str)
	}
	*s = st
	return nil
}

// StepState is the state of a single step within a run, as derived from the
// run journal.
type StepState int

const (
	StateNeverStarted StepState = iota
	StateStarted
	StateSucceeded
	StateFailed
	StateCompensating
	StateCompensated
	StateCompensationFailed
)

func (s StepState) String() string {
	switch s {
	case StateNeverStarted:
		return "never_started"
	case StateStarted:
		return "started"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCompensating:
		return "compensating"
	case StateCompensated:
		return "compensated"
	case StateCompensationFailed:
		return "compensation_failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s StepState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *StepState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	switch str {
	case "never_started":
		*s = StateNeverStarted
	case "started":
		*s = StateStarted
	case "succeeded":
		*s = StateSucceeded
	case "failed":
		*s = StateFailed
	case "compensating":
		*s = StateCompensating
	case "compensated":
		*s = StateCompensated
	case "compensation_failed":
		*s = StateCompensationFailed
	default:
		return fmt.Errorf("invalid StepState: %s", str)
	}

	return nil
}
