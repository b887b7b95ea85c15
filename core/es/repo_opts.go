package es

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// IDGenerator is a function that generates unique aggregate ids.
type IDGenerator func() string

// DefaultIDGenerator returns the default ID generator using nanoid.
func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}

// UUIDGenerator returns random (v4) UUIDs.
func UUIDGenerator() IDGenerator {
	return uuid.NewString
}

// NewIDGenerator returns the generator for format, "nanoid" or "uuid".
func NewIDGenerator(format string) (IDGenerator, error) {
	switch format {
	case "", "nanoid":
		return DefaultIDGenerator(), nil
	case "uuid":
		return UUIDGenerator(), nil
	}
	return nil, fmt.Errorf("unsupported id format %q", format)
}

type (
	repoOpts struct {
		log         *slog.Logger
		idGenerator IDGenerator
		metrics     ESMetrics
		now         func() time.Time
	}

	RepositoryOption interface{ applyToRepository(*repoOpts) }
)

func (o LogOption) applyToRepository(options *repoOpts) {
	if o.v != nil {
		options.log = o.v
	}
}
func (o IDGeneratorOption) applyToRepository(options *repoOpts) {
	if o.v != nil {
		options.idGenerator = o.v
	}
}
func (o ESMetricsOption) applyToRepository(options *repoOpts) {
	if o.v != nil {
		options.metrics = o.v
	}
}
func (o ClockOption) applyToRepository(options *repoOpts) {
	if o.v != nil {
		options.now = o.v
	}
}

func newRepoOpts(opts ...RepositoryOption) repoOpts {
	var options = repoOpts{
		log:         slog.Default(),
		idGenerator: DefaultIDGenerator(),
		metrics:     NopESMetrics(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	return options
}
