package syncutil

import (
	"context"
	"sync"
)

// KeyedMutex provides an independent, context-aware mutex per string key.
// The monitor serializes mutations per call session with one: at most one
// mutation is in flight per session ID, different sessions never contend
// with each other, and a caller waiting on a busy session can bail out when
// its context is cancelled. An entry is dropped as soon as the last holder
// or waiter for its key is gone, so memory tracks live keys only.
//
// The zero value is ready to use.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is a mutex implemented as a one-slot token channel so acquisition
// can select against context cancellation. refs counts holders plus waiters.
type keyLock struct {
	ch   chan struct{}
	refs int
}

// Lock acquires the mutex for key, waiting until it is free or ctx is done.
// On success it returns an unlock function the caller must invoke exactly
// once. On cancellation it returns nil and the context error.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	if m.locks == nil {
		m.locks = make(map[string]*keyLock)
	}
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		l.ch <- struct{}{} // start unlocked
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case <-l.ch:
		return func() {
			l.ch <- struct{}{}
			m.release(key, l)
		}, nil
	case <-ctx.Done():
		m.release(key, l)
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) release(key string, l *keyLock) {
	m.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}
