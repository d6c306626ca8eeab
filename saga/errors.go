package saga

import (
	"github.com/pkg/errors"
)

var ErrSagaTypeNotRegistered = errors.New("saga type is not registered")

const (
	cancelledReason = "user cancelled"
	timedOutReason  = "saga timed out"
)

var ErrSagaNotFound = errors.New("saga not found")
