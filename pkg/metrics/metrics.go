package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Storage metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sched_tasks_total",
			Help: "Total number of tasks known to storage by status",
		},
		[]string{"status"},
	)

	JobsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sched_jobs_total",
			Help: "Total number of job configurations known to storage",
		},
	)

	StorageSlowQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sched_storage_slow_queries_total",
			Help: "Total number of storage operations exceeding the slow query threshold",
		},
		[]string{"op"},
	)

	StorageOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sched_storage_operation_duration_seconds",
			Help:    "Duration of storage read/write operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Scheduling metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sched_scheduling_latency_seconds",
			Help:    "Time taken to assign a PENDING task to an offer, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sched_tasks_scheduled_total",
			Help: "Total number of tasks transitioned from PENDING to ASSIGNED",
		},
	)

	TasksVetoedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sched_tasks_vetoed_total",
			Help: "Total number of veto reasons produced while matching tasks against offers",
		},
		[]string{"reason"},
	)

	OffersExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sched_offers_exhausted_total",
			Help: "Total number of scheduling rounds where no offer satisfied a PENDING task",
		},
	)

	// State machine metrics
	TaskStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sched_task_state_transitions_total",
			Help: "Total number of task state transitions by from/to status",
		},
		[]string{"from", "to"},
	)

	IllegalTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sched_illegal_transitions_total",
			Help: "Total number of rejected illegal state transitions by attempted to-status",
		},
		[]string{"to"},
	)

	// Preemption metrics
	PreemptionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sched_preemptions_total",
			Help: "Total number of tasks preempted to make room for a higher-priority candidate",
		},
	)

	PreemptionSearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sched_preemption_search_duration_seconds",
			Help:    "Time taken for a preemption search cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Cron metrics
	CronJobLaunchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sched_cron_job_launch_failures_total",
			Help: "Total number of cron-triggered launches that failed, by job key",
		},
		[]string{"job_key"},
	)

	CronCollisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sched_cron_collisions_total",
			Help: "Total number of cron collisions encountered by collision policy",
		},
		[]string{"policy"},
	)

	// Update metrics
	UpdateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sched_update_transitions_total",
			Help: "Total number of shard update results by outcome",
		},
		[]string{"result"},
	)

	ActiveUpdatesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sched_active_updates_total",
			Help: "Number of job updates currently in progress",
		},
	)

	UpdateFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sched_update_finished_total",
			Help: "Total number of finished job updates by terminal result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(StorageSlowQueriesTotal)
	prometheus.MustRegister(StorageOperationDuration)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(TasksScheduled)
	prometheus.MustRegister(TasksVetoedTotal)
	prometheus.MustRegister(OffersExhaustedTotal)
	prometheus.MustRegister(TaskStateTransitionsTotal)
	prometheus.MustRegister(IllegalTransitionsTotal)
	prometheus.MustRegister(PreemptionsTotal)
	prometheus.MustRegister(PreemptionSearchDuration)
	prometheus.MustRegister(CronJobLaunchFailuresTotal)
	prometheus.MustRegister(CronCollisionsTotal)
	prometheus.MustRegister(UpdateTransitionsTotal)
	prometheus.MustRegister(ActiveUpdatesTotal)
	prometheus.MustRegister(UpdateFinishedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
