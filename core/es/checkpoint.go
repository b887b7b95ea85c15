package es

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// CpStore persists the id of the last notification a consumer has handled.
type CpStore interface {
	// Get returns ErrCheckpointNotFound when nothing was stored yet.
	Get(ctx context.Context) (lastID uint64, err error)
	Set(ctx context.Context, lastID uint64) error
}

type CpStoreOption valueOption[CpStore]

type InMemCpStore struct {
	mu  sync.RWMutex
	v   uint64
	set bool
}

func NewInMemCpStore() *InMemCpStore {
	return &InMemCpStore{}
}

func (s *InMemCpStore) Get(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return 0, ErrCheckpointNotFound
	}
	return s.v, nil
}

func (s *InMemCpStore) Set(_ context.Context, v uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
	s.set = true
	return nil
}

var _ CpStore = (*InMemCpStore)(nil)
