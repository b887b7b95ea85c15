package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/codewandler/chronicle-go/core/es"
)

// Checkpoint keeps the last handled notification id of one consumer under key.
type Checkpoint struct {
	store Store
	key   string
}

func NewCheckpoint(store Store, key string) (*Checkpoint, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}
	return &Checkpoint{store: store, key: key}, nil
}

func (c *Checkpoint) Get(ctx context.Context) (uint64, error) {
	lastID, err := Get[uint64](ctx, c.store, c.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, es.ErrCheckpointNotFound
		}
		return 0, fmt.Errorf("get checkpoint %s: %w", c.key, err)
	}
	return lastID, nil
}

func (c *Checkpoint) Set(ctx context.Context, lastID uint64) error {
	return Put(ctx, c.store, c.key, lastID)
}

var _ es.CpStore = (*Checkpoint)(nil)
