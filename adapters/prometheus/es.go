package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/chronicle-go/core/es"
	"github.com/codewandler/chronicle-go/core/metrics"
)

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	// Store metrics
	storeLoadDuration    prometheus.Histogram
	storeAppendDuration  prometheus.Histogram
	eventsAppended       *prometheus.CounterVec
	concurrencyConflicts prometheus.Counter
	integrityViolations  prometheus.Counter

	// Repository metrics
	repoGetDuration  *prometheus.HistogramVec
	repoSaveDuration *prometheus.HistogramVec

	// Notification log metrics
	notificationsRead prometheus.Counter

	// Consumer metrics
	consumerEventDuration *prometheus.HistogramVec
	consumerEvents        *prometheus.CounterVec
	consumerLag           *prometheus.GaugeVec
}

// NewESMetrics creates a new Prometheus implementation of ESMetrics.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		storeLoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_load_duration_seconds",
			Help:      "Record store read latency in seconds",
			Buckets:   defaultBuckets,
		}),

		storeAppendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_append_duration_seconds",
			Help:      "Event store append latency in seconds",
			Buckets:   defaultBuckets,
		}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Total number of events appended",
		}, []string{"event_type"}),

		concurrencyConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_conflicts_total",
			Help:      "Total number of rejected appends due to a stale expected version",
		}),

		integrityViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_violations_total",
			Help:      "Total number of records that failed decryption or hash verification",
		}),

		repoGetDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repo_get_duration_seconds",
			Help:      "Repository replay latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		repoSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repo_save_duration_seconds",
			Help:      "Repository save latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		notificationsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_read_total",
			Help:      "Total number of notifications read from the log",
		}),

		consumerEventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consumer_event_duration_seconds",
			Help:      "Notification processing time in seconds",
			Buckets:   defaultBuckets,
		}, []string{"event_type", "live"}),

		consumerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_events_total",
			Help:      "Total number of notifications processed",
		}, []string{"event_type", "live", "success"}),

		consumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumer_lag",
			Help:      "Notifications committed but not yet handled",
		}, []string{"consumer"}),
	}

	reg.MustRegister(
		m.storeLoadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.concurrencyConflicts,
		m.integrityViolations,
		m.repoGetDuration,
		m.repoSaveDuration,
		m.notificationsRead,
		m.consumerEventDuration,
		m.consumerEvents,
		m.consumerLag,
	)

	return m
}

func (m *esMetrics) StoreLoadDuration() metrics.Timer   { return newTimer(m.storeLoadDuration) }
func (m *esMetrics) StoreAppendDuration() metrics.Timer { return newTimer(m.storeAppendDuration) }

func (m *esMetrics) EventsAppended(eventType string, count int) {
	m.eventsAppended.WithLabelValues(eventType).Add(float64(count))
}

func (m *esMetrics) ConcurrencyConflict() { m.concurrencyConflicts.Inc() }
func (m *esMetrics) IntegrityViolation()  { m.integrityViolations.Inc() }

func (m *esMetrics) RepoGetDuration(aggType string) metrics.Timer {
	return newTimer(m.repoGetDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) NotificationsRead(count int) {
	m.notificationsRead.Add(float64(count))
}

func (m *esMetrics) ConsumerEventDuration(eventType string, live bool) metrics.Timer {
	return newTimer(m.consumerEventDuration.WithLabelValues(eventType, boolToStr(live)))
}

func (m *esMetrics) ConsumerEventProcessed(eventType string, live bool, success bool) {
	m.consumerEvents.WithLabelValues(eventType, boolToStr(live), boolToStr(success)).Inc()
}

func (m *esMetrics) ConsumerLag(consumer string, lag int64) {
	m.consumerLag.WithLabelValues(consumer).Set(float64(lag))
}

var _ es.ESMetrics = (*esMetrics)(nil)
