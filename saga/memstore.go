package saga

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStore keeps sagas in process memory. Loaded instances are copies, so their mutations are not visible until they are stored.
// It's meant for tests and single process deployments, everything is lost on restart.
type MemoryStore struct {
	mu    sync.Mutex
	sagas map[string]*Instance
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sagas: make(map[string]*Instance)}
}

func (m *MemoryStore) Create(_ context.Context, instance *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sagas[instance.ID]; exists {
		return errors.Errorf("saga %s already exists", instance.ID)
	}

	m.sagas[instance.ID] = copyInstance(instance)
	m.order = append(m.order, instance.ID)

	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, sagaID string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	instance, exists := m.sagas[sagaID]
	if !exists {
		return nil, nil
	}

	return copyInstance(instance), nil
}

// GetByFilter returns the newest sagas first like the sql store does
func (m *MemoryStore) GetByFilter(_ context.Context, filters ...FilterOption) ([]*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	opts := &filterOptions{}
	for _, filter := range filters {
		filter(opts)
	}

	if opts.empty() {
		return nil, errors.Errorf("all specified filters are empty, you have to specify at least one so result won't be whole store")
	}

	var (
		res     []*Instance
		skipped int
	)

	for i := len(m.order) - 1; i >= 0; i-- {
		instance, exists := m.sagas[m.order[i]]
		if !exists {
			continue
		}

		if opts.status != "" && instance.Status != opts.status {
			continue
		}

		if opts.sagaType != "" && instance.Type != opts.sagaType {
			continue
		}

		if opts.correlationID != "" && instance.CorrelationID != opts.correlationID {
			continue
		}

		if opts.limit > 0 {
			if skipped < opts.offset {
				skipped++
				continue
			}

			if len(res) == opts.limit {
				break
			}
		}

		res = append(res, copyInstance(instance))
	}

	return res, nil
}

func (m *MemoryStore) Update(_ context.Context, instance *Instance, steps []*StepInstance, expected ...Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.sagas[instance.ID]
	if !exists {
		return false, nil
	}

	if len(expected) > 0 && !stored.Status.in(expected...) {
		return false, nil
	}

	stored.Status = instance.Status
	stored.CurrentStepIndex = instance.CurrentStepIndex
	stored.Output = instance.Output.Clone()
	stored.Context = instance.Context.Clone()
	stored.Error = instance.Error
	stored.RetryCount = instance.RetryCount
	stored.StartedAt = instance.StartedAt
	stored.CompletedAt = instance.CompletedAt
	stored.UpdatedAt = instance.UpdatedAt

	for _, step := range steps {
		m.storeStep(stored, step)
	}

	return true, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, instance *Instance, steps []*StepInstance, expected ...Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.sagas[instance.ID]
	if !exists {
		return false, nil
	}

	if len(expected) > 0 && !stored.Status.in(expected...) {
		return false, nil
	}

	stored.Status = instance.Status
	stored.Error = instance.Error
	stored.RetryCount = instance.RetryCount
	stored.CompletedAt = instance.CompletedAt
	stored.CancelledAt = instance.CancelledAt
	stored.UpdatedAt = instance.UpdatedAt

	for _, step := range steps {
		for _, s := range stored.Steps {
			if s.ID != step.ID {
				continue
			}

			s.Status = step.Status
			s.Error = step.Error
			s.RetryCount = step.RetryCount
			s.CompletedAt = step.CompletedAt
		}
	}

	return true, nil
}

func (m *MemoryStore) UpdateStep(_ context.Context, step *StepInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stored, exists := m.sagas[step.SagaID]; exists {
		m.storeStep(stored, step)
	}

	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sagaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sagas[sagaID]; !exists {
		return ErrSagaNotFound
	}

	delete(m.sagas, sagaID)

	for i, id := range m.order {
		if id == sagaID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	return nil
}

func (m *MemoryStore) storeStep(stored *Instance, step *StepInstance) {
	for i, s := range stored.Steps {
		if s.ID == step.ID {
			stored.Steps[i] = copyStep(step)
		}
	}
}

func copyInstance(instance *Instance) *Instance {
	res := *instance
	res.Input = instance.Input.Clone()
	res.Output = instance.Output.Clone()
	res.Context = instance.Context.Clone()
	res.Steps = make([]*StepInstance, len(instance.Steps))

	for i, step := range instance.Steps {
		res.Steps[i] = copyStep(step)
	}

	return &res
}

func copyStep(step *StepInstance) *StepInstance {
	res := *step
	res.Input = step.Input.Clone()
	res.Output = step.Output.Clone()

	return &res
}
