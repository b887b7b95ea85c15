package es

import (
	"log/slog"
	"time"
)

type (
	envOptions struct {
		log         *slog.Logger
		records     RecordStore
		cipher      Cipher
		key         *KeyOption
		hasher      Hasher
		registry    *EventRegistry
		metrics     ESMetrics
		pageSize    int
		idGenerator IDGenerator
		now         func() time.Time
	}

	EnvOption interface {
		applyToEnv(*envOptions)
	}
)

func newEnvOptions(opts ...EnvOption) envOptions {
	options := envOptions{
		hasher:   DefaultHasher(),
		metrics:  NopESMetrics(),
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt.applyToEnv(&options)
	}
	if options.records == nil {
		options.records = NewInMemoryStore()
	}
	return options
}

func (o LogOption) applyToEnv(options *envOptions)         { options.log = o.v }
func (o RecordStoreOption) applyToEnv(options *envOptions) { options.records = o.v }
func (o CipherOption) applyToEnv(options *envOptions)      { options.cipher = o.v }
func (o KeyOption) applyToEnv(options *envOptions)         { options.key = &o }
func (o HasherOption) applyToEnv(options *envOptions)      { options.hasher = o.v }
func (o RegistryOption) applyToEnv(options *envOptions)    { options.registry = o.v }
func (o ESMetricsOption) applyToEnv(options *envOptions) {
	if o.v != nil {
		options.metrics = o.v
	}
}
func (o PageSizeOption) applyToEnv(options *envOptions) {
	if o.v > 0 {
		options.pageSize = o.v
	}
}
func (o IDGeneratorOption) applyToEnv(options *envOptions) { options.idGenerator = o.v }
func (o ClockOption) applyToEnv(options *envOptions)       { options.now = o.v }
func (o EnvOpts) applyToEnv(options *envOptions) {
	for _, opt := range o.opts {
		opt.applyToEnv(options)
	}
}
