package saga

import (
	"github.com/pkg/errors"
)

// Status of a saga instance
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusRunning      Status = "RUNNING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCompensating Status = "COMPENSATING"
	StatusCompensated  Status = "COMPENSATED"
	StatusCancelled    Status = "CANCELLED"
)

// StepStatus is a status of a single step of a saga instance
type StepStatus string

const (
	StepStatusPending     StepStatus = "PENDING"
	StepStatusRunning     StepStatus = "RUNNING"
	StepStatusCompleted   StepStatus = "COMPLETED"
	StepStatusFailed      StepStatus = "FAILED"
	StepStatusCompensated StepStatus = "COMPENSATED"
)

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether nothing can happen to a saga anymore. FAILED is not terminal, it's retry-eligible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompensated || s == StatusCancelled
}

// Active reports whether steps of the saga may still be executed
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

func (s Status) in(statuses ...Status) bool {
	for _, st := range statuses {
		if s == st {
			return true
		}
	}

	return false
}

func (s StepStatus) String() string {
	return string(s)
}

// ParseStatus validates a saga status received from outside, e.g. from a query string
func ParseStatus(str string) (Status, error) {
	return statusFromStr(str)
}

func statusFromStr(str string) (Status, error) {
	switch s := Status(str); s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCompensating, StatusCompensated, StatusCancelled:
		return s, nil
	default:
		return "", errors.Errorf("unknown saga status %s", str)
	}
}

func stepStatusFromStr(str string) (StepStatus, error) {
	switch s := StepStatus(str); s {
	case StepStatusPending, StepStatusRunning, StepStatusCompleted, StepStatusFailed, StepStatusCompensated:
		return s, nil
	default:
		return "", errors.Errorf("unknown step status %s", str)
	}
}
