package saga

import (
	"context"
)

const (
	sagaTableName     = "sagas"
	sagaStepTableName = "saga_steps"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../testing/mocks/saga/store.go -package saga . Store,JobDispatcher

// Store persists saga instances together with their steps
type Store interface {
	// Create inserts the saga and all its steps atomically
	Create(ctx context.Context, instance *Instance) error
	// GetByID returns the saga with steps ordered by index, nil if it does not exist
	GetByID(ctx context.Context, sagaID string) (*Instance, error)
	GetByFilter(ctx context.Context, filters ...FilterOption) ([]*Instance, error)
	// Update writes mutable fields of the saga, except the cancellation time, and the given steps in one transaction.
	// When expected statuses are passed, nothing is written unless the stored status is one of them, and false is returned.
	// False is also returned when the saga does not exist anymore.
	Update(ctx context.Context, instance *Instance, steps []*StepInstance, expected ...Status) (bool, error)
	// UpdateStatus writes status, error, retry count, completion and cancellation times of the saga and the given steps in one transaction.
	// Progress of the saga (current step, context, output) is left as stored. Expected statuses work as in Update.
	UpdateStatus(ctx context.Context, instance *Instance, steps []*StepInstance, expected ...Status) (bool, error)
	UpdateStep(ctx context.Context, step *StepInstance) error
	// Delete removes the saga and its steps, ErrSagaNotFound is returned when there is nothing to delete
	Delete(ctx context.Context, sagaID string) error
}

type FilterOption func(opts *filterOptions)

func WithStatus(status Status) FilterOption {
	return func(opts *filterOptions) {
		opts.status = status
	}
}

func WithSagaType(sagaType string) FilterOption {
	return func(opts *filterOptions) {
		opts.sagaType = sagaType
	}
}

func WithCorrelationID(correlationID string) FilterOption {
	return func(opts *filterOptions) {
		opts.correlationID = correlationID
	}
}

func WithOffsetAndLimit(offset, limit int) FilterOption {
	return func(opts *filterOptions) {
		opts.offset = offset
		opts.limit = limit
	}
}

type filterOptions struct {
	status        Status
	sagaType      string
	correlationID string
	offset        int
	limit         int
}

func (o filterOptions) empty() bool {
	return o.status == "" && o.sagaType == "" && o.correlationID == "" && o.limit <= 0
}
