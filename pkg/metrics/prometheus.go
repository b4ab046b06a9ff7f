package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements Recorder using prometheus counters and
// histograms registered on the default registry.
type PrometheusRecorder struct {
	missionsIngested prometheus.Counter
	tasksDispatched  *prometheus.CounterVec
	missionsResolved *prometheus.CounterVec
	publishes        *prometheus.CounterVec
	monitorPolls     *prometheus.CounterVec
	monitorOutcomes  *prometheus.CounterVec
	queryDuration    prometheus.Histogram
}

// NewPrometheusRecorder registers and returns the orchestrator metric set.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		missionsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "missions_ingested_total",
			Help: "Total number of missions accepted for dispatch",
		}),
		tasksDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_dispatched_total",
			Help: "Total task dispatch attempts by agent and status",
		}, []string{"agent", "status"}),
		missionsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "missions_resolved_total",
			Help: "Total missions reaching a terminal status",
		}, []string{"status"}),
		publishes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "result_publishes_total",
			Help: "Total outbound result and notification messages by kind",
		}, []string{"kind"}),
		monitorPolls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_polls_total",
			Help: "Total monitoring poll iterations by outcome",
		}, []string{"outcome"}),
		monitorOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_outcomes_total",
			Help: "Total monitoring loops reaching a terminal state",
		}, []string{"state"}),
		queryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_query_duration_seconds",
			Help:    "Duration of external status queries in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (r *PrometheusRecorder) RecordMissionIngested() {
	r.missionsIngested.Inc()
}

func (r *PrometheusRecorder) RecordTaskDispatched(agent, status string) {
	r.tasksDispatched.WithLabelValues(agent, status).Inc()
}

func (r *PrometheusRecorder) RecordMissionResolved(status string) {
	r.missionsResolved.WithLabelValues(status).Inc()
}

func (r *PrometheusRecorder) RecordPublish(kind string) {
	r.publishes.WithLabelValues(kind).Inc()
}

func (r *PrometheusRecorder) RecordMonitorPoll(outcome string) {
	r.monitorPolls.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) RecordMonitorOutcome(state string) {
	r.monitorOutcomes.WithLabelValues(state).Inc()
}

func (r *PrometheusRecorder) ObserveQueryDuration(d time.Duration) {
	r.queryDuration.Observe(d.Seconds())
}
