package mutex

import (
	"context"
)

// MutexErr marks failures of acquiring or releasing a saga lock
type MutexErr struct {
	error
}

func WithMutexErr(err error) error {
	return MutexErr{err}
}

func (e MutexErr) Unwrap() error {
	return e.error
}

//go:generate mockgen --build_flags=--mod=mod -destination ../../testing/mocks/saga/mutex/mutex.go -package mutex . Mutex,Lock

// Lock is held by a single handler of a saga until released
type Lock interface {
	Release(ctx context.Context) error
}

// Mutex serializes handlers working on the same saga, across goroutines and processes depending on the backend
type Mutex interface {
	Lock(ctx context.Context, sagaID string) (Lock, error)
}
