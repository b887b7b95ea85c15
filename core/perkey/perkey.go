// Package perkey serializes work per key while work for different keys
// runs concurrently.
//
// Keys are unbounded (aggregate ids), so a key only holds state while
// somebody is running or waiting on it.
package perkey

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Do once the Locker is closed.
var ErrClosed = errors.New("perkey: closed")

// Locker runs functions such that at most one runs per key at a time.
type Locker[K comparable] struct {
	mu     sync.Mutex
	slots  map[K]*slot
	closed bool
}

type slot struct {
	sem  chan struct{}
	refs int
}

func New[K comparable]() *Locker[K] {
	return &Locker[K]{slots: make(map[K]*slot)}
}

// Do blocks until key is free, then runs fn and returns its error. Waiting
// stops when ctx is done; a running fn is never interrupted.
func (l *Locker[K]) Do(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s, err := l.acquire(key)
	if err != nil {
		return err
	}
	defer l.release(key, s)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	return fn()
}

// Len returns the number of keys currently held or waited on.
func (l *Locker[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

// Close makes later calls to Do fail. Calls already waiting still run.
func (l *Locker[K]) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *Locker[K]) acquire(key K) (*slot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	s, ok := l.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s, nil
}

func (l *Locker[K]) release(key K, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
