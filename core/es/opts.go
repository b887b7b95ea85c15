package es

import (
	"log/slog"
	"time"
)

const defaultPageSize = 100

type (
	valueOption[T any] struct{ v T }
	MultiOption[T any] struct{ opts []T }

	LogOption         valueOption[*slog.Logger]
	RecordStoreOption valueOption[RecordStore]
	CipherOption      valueOption[Cipher]
	HasherOption      valueOption[Hasher]
	RegistryOption    valueOption[*EventRegistry]
	ESMetricsOption   valueOption[ESMetrics]
	PageSizeOption    valueOption[int]
	IDGeneratorOption valueOption[IDGenerator]
	ClockOption       valueOption[func() time.Time]
	EnvOpts           MultiOption[EnvOption]

	KeyOption struct {
		alg CipherAlgorithm
		key Key
	}
)

func WithLog(l *slog.Logger) LogOption                  { return LogOption{v: l} }
func WithRecordStore(s RecordStore) RecordStoreOption   { return RecordStoreOption{v: s} }
func WithInMemory() RecordStoreOption                   { return WithRecordStore(NewInMemoryStore()) }
func WithCipher(c Cipher) CipherOption                  { return CipherOption{v: c} }
func WithHasher(h Hasher) HasherOption                  { return HasherOption{v: h} }
func WithRegistry(r *EventRegistry) RegistryOption      { return RegistryOption{v: r} }
func WithMetrics(m ESMetrics) ESMetricsOption           { return ESMetricsOption{v: m} }
func WithPageSize(n int) PageSizeOption                 { return PageSizeOption{v: n} }
func WithIDGenerator(gen IDGenerator) IDGeneratorOption { return IDGeneratorOption{v: gen} }
func WithClock(now func() time.Time) ClockOption        { return ClockOption{v: now} }
func WithEnvOpts(opts ...EnvOption) EnvOpts             { return EnvOpts{opts: opts} }

// WithKey builds the cipher from alg and key when the environment is created.
func WithKey(alg CipherAlgorithm, key Key) KeyOption { return KeyOption{alg: alg, key: key} }

// === event store ===

type (
	storeOptions struct {
		log      *slog.Logger
		hasher   Hasher
		registry *EventRegistry
		metrics  ESMetrics
		pageSize int
	}

	EventStoreOption interface{ applyToStore(*storeOptions) }
)

func newStoreOptions(opts ...EventStoreOption) storeOptions {
	options := storeOptions{
		log:      slog.Default(),
		hasher:   DefaultHasher(),
		metrics:  NopESMetrics(),
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt.applyToStore(&options)
	}
	if options.registry == nil {
		options.registry = NewRegistry()
	}
	return options
}

func (o LogOption) applyToStore(s *storeOptions) {
	if o.v != nil {
		s.log = o.v
	}
}
func (o HasherOption) applyToStore(s *storeOptions)   { s.hasher = o.v }
func (o RegistryOption) applyToStore(s *storeOptions) { s.registry = o.v }
func (o ESMetricsOption) applyToStore(s *storeOptions) {
	if o.v != nil {
		s.metrics = o.v
	}
}
func (o PageSizeOption) applyToStore(s *storeOptions) {
	if o.v > 0 {
		s.pageSize = o.v
	}
}

// === load ===

type (
	loadOptions struct {
		fromVersion  Version
		toVersion    *Version
		verifyHashes bool
	}

	LoadOption         interface{ applyToLoad(*loadOptions) }
	FromVersionOption  valueOption[Version]
	ToVersionOption    valueOption[Version]
	VerifyHashesOption struct{}
)

// WithFromVersion starts reading a stream at v.
func WithFromVersion(v Version) FromVersionOption { return FromVersionOption{v: v} }

// WithToVersion stops reading a stream after v (inclusive).
func WithToVersion(v Version) ToVersionOption { return ToVersionOption{v: v} }

// AtVersion loads the state an aggregate had once event v was applied.
func AtVersion(v Version) ToVersionOption { return WithToVersion(v) }

// WithVerifyHashes recomputes every event hash during replay.
func WithVerifyHashes() VerifyHashesOption { return VerifyHashesOption{} }

func (o FromVersionOption) applyToLoad(l *loadOptions) { l.fromVersion = o.v }
func (o ToVersionOption) applyToLoad(l *loadOptions) {
	v := o.v
	l.toVersion = &v
}
func (VerifyHashesOption) applyToLoad(l *loadOptions) { l.verifyHashes = true }

func newLoadOptions(opts ...LoadOption) loadOptions {
	options := loadOptions{}
	for _, opt := range opts {
		opt.applyToLoad(&options)
	}
	return options
}
