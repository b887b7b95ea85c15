// Package kv is the key-value port consumer checkpoints are kept in.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
)

type Entry struct {
	Key  string
	Data []byte
	// Revision increases with every put of the key.
	Revision uint64
}

type Store interface {
	Put(ctx context.Context, key string, data []byte) (revision uint64, err error)
	Get(ctx context.Context, key string) (entry Entry, err error)
	Delete(ctx context.Context, key string) error
}

func Put[T any](ctx context.Context, store Store, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = store.Put(ctx, key, data)
	return err
}

func Get[T any](ctx context.Context, store Store, key string) (out T, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return
	}
	if err = json.Unmarshal(entry.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return
}
