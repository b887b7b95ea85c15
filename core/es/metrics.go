package es

import "github.com/codewandler/chronicle-go/core/metrics"

// ESMetrics defines the metrics interface for the event store, repositories
// and notification consumers. Implementations must be thread-safe.
type ESMetrics interface {
	// Store operations
	StoreLoadDuration() metrics.Timer
	StoreAppendDuration() metrics.Timer
	EventsAppended(eventType string, count int)
	ConcurrencyConflict()
	IntegrityViolation()

	// Repository operations
	RepoGetDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer

	// Notification log
	NotificationsRead(count int)

	// Consumer operations
	ConsumerEventDuration(eventType string, live bool) metrics.Timer
	ConsumerEventProcessed(eventType string, live bool, success bool)
	ConsumerLag(consumer string, lag int64)
}

// nopESMetrics is a no-op implementation of ESMetrics.
type nopESMetrics struct{}

func (nopESMetrics) StoreLoadDuration() metrics.Timer   { return metrics.NopTimer() }
func (nopESMetrics) StoreAppendDuration() metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)         {}
func (nopESMetrics) ConcurrencyConflict()               {}
func (nopESMetrics) IntegrityViolation()                {}

func (nopESMetrics) RepoGetDuration(string) metrics.Timer  { return metrics.NopTimer() }
func (nopESMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }

func (nopESMetrics) NotificationsRead(int) {}

func (nopESMetrics) ConsumerEventDuration(string, bool) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) ConsumerEventProcessed(string, bool, bool)        {}
func (nopESMetrics) ConsumerLag(string, int64)                        {}

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }
