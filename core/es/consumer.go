package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Checkpoint is implemented by handlers that track their processing progress.
// When a handler implements this interface, the Consumer resumes after the id
// it returns.
type Checkpoint interface {
	// LastNotificationID returns ErrCheckpointNotFound if no checkpoint exists.
	LastNotificationID(ctx context.Context) (uint64, error)
}

// MsgCtx provides context for handling a single notification. It carries the
// raw notification and the decoded event, and tells whether the consumer had
// caught up with the log (live) when the notification was read.
type MsgCtx struct {
	ctx  context.Context
	log  *slog.Logger
	n    Notification
	ev   DomainEvent
	live bool
}

func (c *MsgCtx) Log() *slog.Logger        { return c.log }
func (c *MsgCtx) Context() context.Context { return c.ctx }
func (c *MsgCtx) Live() bool               { return c.live }

func (c *MsgCtx) Notification() Notification { return c.n }
func (c *MsgCtx) NotificationID() uint64     { return c.n.ID }
func (c *MsgCtx) Event() DomainEvent         { return c.ev }
func (c *MsgCtx) Payload() Event             { return c.ev.Payload }
func (c *MsgCtx) OriginatorID() string       { return c.n.OriginatorID }
func (c *MsgCtx) Version() Version           { return c.n.OriginatorVersion }
func (c *MsgCtx) Type() string               { return c.n.EventType }
func (c *MsgCtx) Timestamp() time.Time       { return c.ev.Timestamp }

// Consumer follows the notification log and dispatches every notification to a
// Handler, in id order. A failing notification is retried on the next poll, so
// delivery is at least once.
type Consumer struct {
	store           *EventStore
	handler         Handler
	inner           Handler
	log             *slog.Logger
	name            string
	metrics         ESMetrics
	pollInterval    time.Duration
	shutdownTimeout time.Duration

	mu       sync.Mutex
	next     uint64
	resumed  bool
	startID  uint64
	raw      bool
	isLive   atomic.Bool
	live     chan struct{}
	liveOnce sync.Once

	started   atomic.Bool
	closeChan chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func NewConsumer(store *EventStore, handler Handler, opts ...ConsumerOption) *Consumer {
	options := newConsumerOpts(opts...)
	return &Consumer{
		store:           store,
		handler:         applyMiddlewares(handler, options.mws),
		inner:           handler,
		log:             options.log.With(slog.String("consumer", options.name)),
		name:            options.name,
		metrics:         options.metrics,
		pollInterval:    options.pollInterval,
		shutdownTimeout: options.shutdownTimeout,
		startID:         options.startID,
		next:            options.startID,
		raw:             options.raw,
		live:            make(chan struct{}),
		closeChan:       make(chan struct{}),
		done:            make(chan struct{}),
	}
}

func (c *Consumer) Name() string { return c.name }

// Position is the id of the next notification the consumer will handle.
func (c *Consumer) Position() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

func (c *Consumer) resume(ctx context.Context) error {
	if c.resumed {
		return nil
	}
	c.next = c.startID
	if cp, ok := c.handler.(Checkpoint); ok {
		last, err := cp.LastNotificationID(ctx)
		switch {
		case errors.Is(err, ErrCheckpointNotFound):
		case err != nil:
			return fmt.Errorf("read checkpoint: %w", err)
		default:
			c.next = last + 1
		}
	}
	c.resumed = true
	c.log.Info("resuming", slog.Uint64("next_id", c.next))
	return nil
}

// RunOnce handles everything committed up to now and returns how many
// notifications were handled. It stops at the first handler error.
func (c *Consumer) RunOnce(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.resume(ctx); err != nil {
		return 0, err
	}

	maxID, err := c.store.Notifications().MaxID(ctx)
	if err != nil {
		return 0, err
	}

	handled := 0
	for c.next <= maxID {
		page, err := c.store.Notifications().Read(ctx, c.next, int(min(maxID-c.next+1, uint64(c.store.pageSize))))
		if err != nil {
			return handled, err
		}
		if len(page) == 0 {
			break
		}
		for _, n := range page {
			if err := c.handle(ctx, n); err != nil {
				return handled, err
			}
			c.next = n.ID + 1
			handled++
			c.metrics.ConsumerLag(c.name, int64(maxID-n.ID))
		}
	}

	if !c.isLive.Load() && c.next > maxID {
		c.isLive.Store(true)
		c.liveOnce.Do(func() { close(c.live) })
	}
	return handled, nil
}

func (c *Consumer) handle(ctx context.Context, n Notification) error {
	live := c.isLive.Load()

	// instrument
	defer c.metrics.ConsumerEventDuration(n.EventType, live).ObserveDuration()

	ev, err := c.decode(n)
	if err != nil {
		c.metrics.ConsumerEventProcessed(n.EventType, live, false)
		return fmt.Errorf("decode notification %d: %w", n.ID, err)
	}
	msgCtx := MsgCtx{
		ctx:  ctx,
		n:    n,
		ev:   ev,
		live: live,
		log: c.log.With(
			slog.Group(
				"notification",
				slog.Uint64("id", n.ID),
				slog.String("originator_id", n.OriginatorID),
				n.OriginatorVersion.SlogAttr(),
				slog.String("type", n.EventType),
			),
		),
	}
	if err := c.handler.Handle(msgCtx); err != nil {
		c.metrics.ConsumerEventProcessed(n.EventType, live, false)
		return fmt.Errorf("handle notification %d: %w", n.ID, err)
	}
	c.metrics.ConsumerEventProcessed(n.EventType, live, true)
	return nil
}

func (c *Consumer) decode(n Notification) (DomainEvent, error) {
	if !c.raw {
		return c.store.DecodeNotification(n)
	}
	return DomainEvent{
		OriginatorID:      n.OriginatorID,
		OriginatorVersion: n.OriginatorVersion,
		PreviousHash:      n.PreviousHash,
		EventHash:         n.EventHash,
		Type:              n.EventType,
	}, nil
}

// Start catches up with the log and then keeps polling in the background
// until ctx is done or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	c.log.Info("starting consumer", slog.String("handler", fmt.Sprintf("%T", c.inner)))

	if lc, ok := c.inner.(HandlerLifecycleStart); ok {
		if err := lc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start consumer lifecycle: %w", err)
		}
		c.log.Debug("handler started")
	}

	if _, err := c.RunOnce(ctx); err != nil {
		c.log.Error("catch-up failed", slog.Any("error", err))
	}

	c.started.Store(true)
	go func() {
		defer func() {
			if lc, ok := c.inner.(HandlerLifecycleShutdown); ok {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.shutdownTimeout)
				defer cancel()
				if err := lc.Shutdown(shutdownCtx); err != nil {
					c.log.Error("failed to shutdown consumer lifecycle", slog.Any("error", err))
				}
			}
			c.log.Info("stopped")
			close(c.done)
		}()

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closeChan:
				return
			case <-ticker.C:
				if n, err := c.RunOnce(ctx); err != nil {
					c.log.Error("poll failed", slog.Any("error", err))
				} else if n > 0 {
					c.log.Debug("polled", slog.Int("handled", n))
				}
			}
		}
	}()

	return nil
}

// Live is closed once the consumer has caught up with the log.
func (c *Consumer) Live() <-chan struct{} { return c.live }

func (c *Consumer) Stop() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		if c.started.Load() {
			<-c.done
		}
	})
}

// NewConsumer returns a consumer of the env's notification log.
func (e *Env) NewConsumer(handler Handler, opts ...ConsumerOption) *Consumer {
	return NewConsumer(
		e.store,
		handler,
		WithLog(e.log),
		WithMetrics(e.metrics),
		WithConsumerOpts(opts...),
	)
}
