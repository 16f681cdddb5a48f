// Package metrics instruments a campaign with Prometheus metrics,
// grounded on the teacher's pkg/metrics/metrics.go (gauge/histogram
// declarations registered in init, a Handler() for promhttp, and a Timer
// helper), re-targeted from cluster/raft/ingress metrics at task-level
// scheduling metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camp_tasks_total",
			Help: "Total number of tasks that reached a terminal state, by state",
		},
		[]string{"state"},
	)

	ActiveTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "camp_active_tasks",
			Help: "Current number of tasks in the active set",
		},
	)

	QueuedTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "camp_queued_tasks",
			Help: "Current number of tasks waiting in the FIFO queue",
		},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "camp_scheduling_latency_seconds",
			Help:    "Time from task submission to spawn",
			Buckets: prometheus.DefBuckets,
		},
	)

	PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "camp_poll_duration_seconds",
			Help:    "Wall-clock duration of one Manager poll iteration",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
	)

	StopConditionsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camp_stop_conditions_fired_total",
			Help: "Number of times a stop condition fired, by condition name",
		},
		[]string{"condition"},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(ActiveTasks)
	prometheus.MustRegister(QueuedTasks)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(PollDuration)
	prometheus.MustRegister(StopConditionsFired)
}

// Handler exposes the registered metrics over HTTP in Prometheus text
// format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an elapsed duration for a histogram observation.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
