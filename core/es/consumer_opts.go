package es

import (
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type (
	consumerOpts struct {
		startID         uint64
		mws             []HandlerMiddleware
		log             *slog.Logger
		name            string
		metrics         ESMetrics
		pollInterval    time.Duration
		shutdownTimeout time.Duration
		raw             bool
	}

	ConsumerOption interface {
		applyToConsumerOpts(*consumerOpts)
	}

	ConsumerNameOption valueOption[string]
	StartIDOption      valueOption[uint64]
	PollIntervalOption valueOption[time.Duration]
	MiddlewareOption   valueOption[[]HandlerMiddleware]
	ConsumerOptions    MultiOption[ConsumerOption]
	RawOption          struct{}
)

func (o ConsumerNameOption) applyToConsumerOpts(opts *consumerOpts) { opts.name = o.v }
func (o StartIDOption) applyToConsumerOpts(opts *consumerOpts)      { opts.startID = max(o.v, 1) }
func (o PollIntervalOption) applyToConsumerOpts(opts *consumerOpts) {
	if o.v > 0 {
		opts.pollInterval = o.v
	}
}
func (o MiddlewareOption) applyToConsumerOpts(opts *consumerOpts) {
	opts.mws = append(opts.mws, o.v...)
}
func (o LogOption) applyToConsumerOpts(opts *consumerOpts) {
	if o.v != nil {
		opts.log = o.v
	}
}
func (o ESMetricsOption) applyToConsumerOpts(opts *consumerOpts) {
	if o.v != nil {
		opts.metrics = o.v
	}
}
func (RawOption) applyToConsumerOpts(opts *consumerOpts) { opts.raw = true }
func (o ConsumerOptions) applyToConsumerOpts(opts *consumerOpts) {
	for _, opt := range o.opts {
		opt.applyToConsumerOpts(opts)
	}
}

func WithMiddlewares(mws ...HandlerMiddleware) MiddlewareOption {
	return MiddlewareOption{
		v: mws,
	}
}
func WithConsumerOpts(opts ...ConsumerOption) ConsumerOptions { return ConsumerOptions{opts: opts} }
func WithConsumerName(name string) ConsumerNameOption         { return ConsumerNameOption{name} }

// WithStartID makes a consumer without checkpoint start at notification id.
func WithStartID(id uint64) StartIDOption { return StartIDOption{v: id} }

func WithPollInterval(d time.Duration) PollIntervalOption { return PollIntervalOption{v: d} }

// WithRaw hands notifications to the handler without decrypting them. The
// event types need not be registered; MsgCtx.Event carries only the record
// metadata and hashes.
func WithRaw() RawOption { return RawOption{} }

func newConsumerOpts(opts ...ConsumerOption) consumerOpts {
	options := consumerOpts{
		log:             slog.Default(),
		startID:         1,
		name:            fmt.Sprintf("consumer-%s", gonanoid.Must(6)),
		metrics:         NopESMetrics(),
		pollInterval:    time.Second,
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt.applyToConsumerOpts(&options)
	}
	return options
}

// WithCheckpoint persists the consumer position in cp; see NewCheckpointMiddleware.
func WithCheckpoint(cp CpStore) CpStoreOption { return CpStoreOption{v: cp} }

func (o CpStoreOption) applyToConsumerOpts(opts *consumerOpts) {
	opts.mws = append(opts.mws, NewCheckpointMiddleware(o.v))
}
