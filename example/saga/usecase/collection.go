package usecase

import (
	"github.com/go-foreman/conductor/saga"
)

// SagasCollection gathers saga definitions of all use cases, so they are registered in the component at once
type SagasCollection struct {
	sagas []saga.Definition
}

func (c *SagasCollection) AddSaga(definitions ...saga.Definition) {
	c.sagas = append(c.sagas, definitions...)
}

func (c *SagasCollection) Sagas() []saga.Definition {
	return c.sagas
}
