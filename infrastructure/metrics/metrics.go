// Package metrics provides Prometheus metrics collection
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the trigger pipeline
type Metrics struct {
	// Event processing metrics
	EventsProcessed  *prometheus.CounterVec
	EventDuration    prometheus.Histogram
	TriggersMatched  prometheus.Counter
	TriggerCapHits   prometheus.Counter
	TasksInFlight    prometheus.Gauge
	TaskOutcomes     *prometheus.CounterVec
	ListenerErrors   *prometheus.CounterVec

	// Circuit breaker metrics
	BreakerTransitions     *prometheus.CounterVec
	BreakerPersistFailures prometheus.Counter
	BreakerRejections      prometheus.Counter

	// State cache metrics
	StateCacheHits   prometheus.Counter
	StateCacheMisses prometheus.Counter
	StateCacheErrors *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitChecks   *prometheus.CounterVec
	RateLimitFallback prometheus.Counter

	// Action pipeline metrics
	ActionsEnqueued       *prometheus.CounterVec
	ActionEnqueueFailures prometheus.Counter
	ActionParseFailures   prometheus.Counter
	JobsCompleted         *prometheus.CounterVec
	JobDuration           *prometheus.HistogramVec
	DLQDepth              prometheus.Counter
}

// New creates a new Metrics instance registered on the default registerer
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	constLabels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "events_processed_total",
				Help:        "Total number of events run through the processor",
				ConstLabels: constLabels,
			},
			[]string{"outcome"}, // processed | replayed | failed
		),
		EventDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "event_processing_duration_seconds",
				Help:        "End-to-end per-event processing duration in seconds",
				Buckets:     []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
				ConstLabels: constLabels,
			},
		),
		TriggersMatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "triggers_matched_total",
				Help:        "Total number of trigger matches",
				ConstLabels: constLabels,
			},
		),
		TriggerCapHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "trigger_count_exceeded_total",
				Help:        "Events whose trigger set was truncated at the per-event cap",
				ConstLabels: constLabels,
			},
		),
		TasksInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "processor_tasks_in_flight",
				Help:        "Current number of in-flight event processing tasks",
				ConstLabels: constLabels,
			},
		),
		TaskOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "processor_tasks_total",
				Help:        "Processor task terminal outcomes",
				ConstLabels: constLabels,
			},
			[]string{"outcome"}, // succeeded | failed | timeout | panic
		),
		ListenerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "listener_errors_total",
				Help:        "Notification listener errors by class",
				ConstLabels: constLabels,
			},
			[]string{"class"}, // transient | fatal
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "circuit_breaker_transitions_total",
				Help:        "Circuit breaker state transitions",
				ConstLabels: constLabels,
			},
			[]string{"to"}, // closed | open | half_open
		),
		BreakerPersistFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "circuit_breaker_persistence_failures_total",
				Help:        "Circuit breaker state writes that failed and were absorbed",
				ConstLabels: constLabels,
			},
		),
		BreakerRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "circuit_breaker_rejections_total",
				Help:        "Trigger evaluations rejected by an open circuit",
				ConstLabels: constLabels,
			},
		),
		StateCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "state_cache_hits_total",
				Help:        "Trigger state cache hits",
				ConstLabels: constLabels,
			},
		),
		StateCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "state_cache_misses_total",
				Help:        "Trigger state cache misses",
				ConstLabels: constLabels,
			},
		),
		StateCacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "state_cache_errors_total",
				Help:        "Trigger state cache errors by operation",
				ConstLabels: constLabels,
			},
			[]string{"operation"}, // read | write | delete
		),
		RateLimitChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "rate_limit_checks_total",
				Help:        "Rate limit checks by result",
				ConstLabels: constLabels,
			},
			[]string{"result"}, // allowed | rejected
		),
		RateLimitFallback: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "rate_limit_fallback_total",
				Help:        "Rate limit checks served by the in-memory fallback",
				ConstLabels: constLabels,
			},
		),
		ActionsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "actions_enqueued_total",
				Help:        "Action jobs enqueued by action type",
				ConstLabels: constLabels,
			},
			[]string{"action_type"},
		),
		ActionEnqueueFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "action_enqueue_failures_total",
				Help:        "Action jobs that failed to enqueue",
				ConstLabels: constLabels,
			},
		),
		ActionParseFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "action_type_parse_failures_total",
				Help:        "Trigger actions with an unparseable action type",
				ConstLabels: constLabels,
			},
		),
		JobsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "action_jobs_total",
				Help:        "Action job terminal outcomes by action type",
				ConstLabels: constLabels,
			},
			[]string{"action_type", "status"}, // status: success | failed
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "action_job_duration_seconds",
				Help:        "Action job processing duration in seconds, including retries",
				Buckets:     []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
				ConstLabels: constLabels,
			},
			[]string{"action_type"},
		),
		DLQDepth: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "dlq_entries_total",
				Help:        "Jobs pushed to the dead letter queue",
				ConstLabels: constLabels,
			},
		),
	}

	registerer.MustRegister(
		m.EventsProcessed, m.EventDuration, m.TriggersMatched, m.TriggerCapHits,
		m.TasksInFlight, m.TaskOutcomes, m.ListenerErrors,
		m.BreakerTransitions, m.BreakerPersistFailures, m.BreakerRejections,
		m.StateCacheHits, m.StateCacheMisses, m.StateCacheErrors,
		m.RateLimitChecks, m.RateLimitFallback,
		m.ActionsEnqueued, m.ActionEnqueueFailures, m.ActionParseFailures,
		m.JobsCompleted, m.JobDuration, m.DLQDepth,
	)

	return m
}
