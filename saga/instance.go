package saga

import (
	"time"

	"github.com/google/uuid"
)

// Instance is a persisted execution of a saga definition
type Instance struct {
	ID               string     `json:"id"`
	Type             string     `json:"type"`
	CorrelationID    string     `json:"correlationId,omitempty"`
	Status           Status     `json:"status"`
	CurrentStepIndex int        `json:"currentStepIndex"`
	TotalSteps       int        `json:"totalSteps"`
	Input            Payload    `json:"input,omitempty"`
	Output           Payload    `json:"output,omitempty"`
	Context          Payload    `json:"context,omitempty"`
	Error            string     `json:"error,omitempty"`
	RetryCount       int        `json:"retryCount"`
	MaxRetries       int        `json:"maxRetries"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	CreatedAt        *time.Time `json:"createdAt,omitempty"`
	UpdatedAt        *time.Time `json:"updatedAt,omitempty"`
	// CancelledAt is set when the saga is cancelled by the user
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`

	Steps []*StepInstance `json:"steps"`
}

// StepInstance is a persisted state of one step of a saga instance
type StepInstance struct {
	ID             string     `json:"id"`
	SagaID         string     `json:"sagaId"`
	Name           string     `json:"name"`
	StepIndex      int        `json:"stepIndex"`
	Status         StepStatus `json:"status"`
	Input          Payload    `json:"input,omitempty"`
	Output         Payload    `json:"output,omitempty"`
	Error          string     `json:"error,omitempty"`
	RetryCount     int        `json:"retryCount"`
	IdempotencyKey string     `json:"idempotencyKey,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// newInstance builds a pending saga with one pending step per definition step
func newInstance(def Definition, input Payload, correlationID string, now time.Time) *Instance {
	sagaID := uuid.New().String()

	instance := &Instance{
		ID:            sagaID,
		Type:          def.Type,
		CorrelationID: correlationID,
		Status:        StatusPending,
		TotalSteps:    len(def.Steps),
		Input:         input,
		Context:       Payload{},
		MaxRetries:    def.maxRetries(),
		CreatedAt:     &now,
		UpdatedAt:     &now,
		Steps:         make([]*StepInstance, len(def.Steps)),
	}

	for i, stepDef := range def.Steps {
		instance.Steps[i] = &StepInstance{
			ID:        uuid.New().String(),
			SagaID:    sagaID,
			Name:      stepDef.Name,
			StepIndex: i,
			Status:    StepStatusPending,
		}
	}

	return instance
}

// Step returns a step by its index or nil if the index is out of range
func (s *Instance) Step(index int) *StepInstance {
	if index < 0 || index >= len(s.Steps) {
		return nil
	}

	return s.Steps[index]
}

// lastCompletedStep returns the highest index of a completed step, -1 if there is none
func (s *Instance) lastCompletedStep() int {
	for i := len(s.Steps) - 1; i >= 0; i-- {
		if s.Steps[i].Status == StepStatusCompleted {
			return i
		}
	}

	return -1
}

func (s *Instance) touch(now time.Time) {
	s.UpdatedAt = &now
}

func timePtr(t time.Time) *time.Time {
	return &t
}
