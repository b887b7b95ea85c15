package es

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var ErrNoCipher = errors.New("no cipher configured")

// Env wires a RecordStore, a Cipher and the shared options into an EventStore
// and hands out repositories that share them.
type Env struct {
	id        string
	log       *slog.Logger
	records   RecordStore
	store     *EventStore
	metrics   ESMetrics
	repoOpts  []RepositoryOption
	closeOnce sync.Once
}

func (e *Env) ID() string                      { return e.id }
func (e *Env) Store() *EventStore              { return e.store }
func (e *Env) RecordStore() RecordStore        { return e.records }
func (e *Env) Notifications() *NotificationLog { return e.store.Notifications() }
func (e *Env) Registry() *EventRegistry        { return e.store.Registry() }

func NewEnv(opts ...EnvOption) (*Env, error) {
	var (
		id      = gonanoid.Must(6)
		options = newEnvOptions(opts...)
	)

	log := options.log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("env", id))

	c := options.cipher
	if c == nil && options.key != nil {
		var err error
		c, err = NewCipher(options.key.alg, options.key.key)
		if err != nil {
			return nil, fmt.Errorf("build cipher: %w", err)
		}
	}
	if c == nil {
		return nil, ErrNoCipher
	}

	storeOpts := []EventStoreOption{
		WithLog(log),
		WithHasher(options.hasher),
		WithMetrics(options.metrics),
		WithPageSize(options.pageSize),
	}
	if options.registry != nil {
		storeOpts = append(storeOpts, WithRegistry(options.registry))
	}

	e := &Env{
		id:       id,
		log:      log,
		records:  options.records,
		store:    NewEventStore(options.records, c, storeOpts...),
		metrics:  options.metrics,
		repoOpts: []RepositoryOption{WithLog(log), WithMetrics(options.metrics)},
	}
	if options.idGenerator != nil {
		e.repoOpts = append(e.repoOpts, WithIDGenerator(options.idGenerator))
	}
	if options.now != nil {
		e.repoOpts = append(e.repoOpts, WithClock(options.now))
	}

	e.log.Debug(
		"env ready",
		slog.String("records", fmt.Sprintf("%T", options.records)),
		slog.String("hash", string(options.hasher.Algorithm())),
	)

	return e, nil
}

// NewRepo returns a repository for schema sharing the env's store and options.
func NewRepo[S any](e *Env, schema *Schema[S], opts ...RepositoryOption) *Repository[S] {
	return NewRepository(e.store, schema, append(append([]RepositoryOption{}, e.repoOpts...), opts...)...)
}

// Close closes the RecordStore if it holds resources.
func (e *Env) Close() (err error) {
	e.closeOnce.Do(func() {
		if c, ok := e.records.(io.Closer); ok {
			err = c.Close()
		}
		e.log.Debug("env closed")
	})
	return
}
