package mutex

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// NewLocalMutex creates an in-process mutex. It serializes handlers of a single process only.
func NewLocalMutex() Mutex {
	return &localMutex{locks: make(map[string]*localLock)}
}

type localMutex struct {
	mapLock sync.Mutex
	locks   map[string]*localLock
}

type localLock struct {
	m      *localMutex
	sagaID string
	ch     chan struct{}
	// waiters counts holders and waiters, the entry is removed when it drops to zero
	waiters int
}

func (m *localMutex) Lock(ctx context.Context, sagaID string) (Lock, error) {
	m.mapLock.Lock()

	l, exists := m.locks[sagaID]
	if !exists {
		l = &localLock{m: m, sagaID: sagaID, ch: make(chan struct{}, 1)}
		m.locks[sagaID] = l
	}

	l.waiters++

	m.mapLock.Unlock()

	select {
	case l.ch <- struct{}{}:
		return &localHandle{lock: l}, nil
	case <-ctx.Done():
		m.forget(l)
		return nil, WithMutexErr(errors.Wrapf(ctx.Err(), "waiting for lock of saga %s", sagaID))
	}
}

func (m *localMutex) forget(l *localLock) {
	m.mapLock.Lock()
	defer m.mapLock.Unlock()

	l.waiters--
	if l.waiters == 0 {
		delete(m.locks, l.sagaID)
	}
}

type localHandle struct {
	once sync.Once
	lock *localLock
}

func (h *localHandle) Release(_ context.Context) error {
	released := false

	h.once.Do(func() {
		<-h.lock.ch
		h.lock.m.forget(h.lock)
		released = true
	})

	if !released {
		return WithMutexErr(errors.Errorf("lock of saga %s is already released", h.lock.sagaID))
	}

	return nil
}
