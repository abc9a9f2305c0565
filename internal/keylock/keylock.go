// Package keylock provides keyed mutual exclusion with a bounded wait.
//
// Keys are plain strings such as "item:42" or "serial:E-". Holding a key
// excludes every other holder of the same key and nobody else.
package keylock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBusy is returned when the wait for a key exceeds its deadline.
var ErrBusy = errors.New("keylock: key busy")

// Locker acquires keyed locks. Lock blocks until the key is free or ctx is
// done, and returns a release function that is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// Acquire locks key on l, waiting at most wait. A wait timeout yields ErrBusy.
func Acquire(ctx context.Context, l Locker, key string, wait time.Duration) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	release, err := l.Lock(ctx, key)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrBusy, key)
		}
		return nil, err
	}
	return release, nil
}

// Instrument wraps l so that every acquisition reports its wait time.
func Instrument(l Locker, observe func(time.Duration)) Locker {
	return instrumented{next: l, observe: observe}
}

type instrumented struct {
	next    Locker
	observe func(time.Duration)
}

func (i instrumented) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	release, err := i.next.Lock(ctx, key)
	i.observe(time.Since(start))
	return release, err
}

// Memory is an in-process Locker.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewMemory creates an in-process Locker.
func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*entry)}
}

func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.forget(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			m.forget(key, e)
		})
	}, nil
}

// forget drops a waiter's reference and the entry once nobody uses it.
func (m *Memory) forget(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Len returns how many keys are held or waited on.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
