package saga

import (
	"context"
	"time"
)

const (
	ExecuteJobName    = "saga-execute"
	CompensateJobName = "saga-compensate"
	TimeoutJobName    = "saga-timeout"
)

// Job is a unit of work sent to an external at-least-once queue
type Job struct {
	Name    string
	Payload interface{}
	// StartAfter delays the delivery of the job, nil means as soon as possible
	StartAfter *time.Time
	// Priority of the job, zero means the default one
	Priority int
}

// JobDispatcher hands jobs over to a queue. A nil error means the queue has accepted the job.
type JobDispatcher interface {
	Send(ctx context.Context, job *Job) error
}

type ExecuteJob struct {
	SagaID    string `json:"sagaId"`
	StepIndex int    `json:"stepIndex"`
}

type CompensateJob struct {
	SagaID        string `json:"sagaId"`
	FromStepIndex int    `json:"fromStepIndex"`
}

type TimeoutJob struct {
	SagaID string `json:"sagaId"`
}

func newExecuteJob(sagaID string, stepIndex int) *Job {
	return &Job{
		Name:    ExecuteJobName,
		Payload: ExecuteJob{SagaID: sagaID, StepIndex: stepIndex},
	}
}

func newCompensateJob(sagaID string, fromStepIndex int) *Job {
	return &Job{
		Name:    CompensateJobName,
		Payload: CompensateJob{SagaID: sagaID, FromStepIndex: fromStepIndex},
	}
}

func newTimeoutJob(sagaID string, startAfter time.Time) *Job {
	return &Job{
		Name:       TimeoutJobName,
		Payload:    TimeoutJob{SagaID: sagaID},
		StartAfter: &startAfter,
	}
}
