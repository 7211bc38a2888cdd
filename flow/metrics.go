package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the engine's Prometheus instrumentation. A nil *Metrics
// in Options disables collection entirely; no guard is needed at call
// sites beyond the nil check.
type Metrics struct {
	pumps           prometheus.Counter
	queueDepth      *prometheus.GaugeVec
	steps           *prometheus.CounterVec
	stepLatency     *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	guardVetoes     *prometheus.CounterVec
	bridgeCalls     *prometheus.CounterVec
	bridgeCacheHits prometheus.Counter
	snapshotSaves   *prometheus.CounterVec
}

// NewMetrics registers the engine's collectors against the given
// registerer. Pass prometheus.DefaultRegisterer for the process-global
// registry, or a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		pumps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "pumps_total",
			Help:      "Number of pump invocations that acquired the running guard.",
		}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stepflow",
			Name:      "queue_depth",
			Help:      "Current number of pending queue items per instance.",
		}, []string{"instance"}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "steps_total",
			Help:      "Step executions by terminal status.",
		}, []string{"instance", "step", "status"}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stepflow",
			Name:      "step_duration_seconds",
			Help:      "Wall time of successful step executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"instance", "step"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "step_retries_total",
			Help:      "Retry executions scheduled after step failures.",
		}, []string{"instance", "step"}),
		guardVetoes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "guard_vetoes_total",
			Help:      "Step executions skipped by a guard predicate.",
		}, []string{"instance", "step"}),
		bridgeCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "bridge_calls_total",
			Help:      "Cross-domain bridge round trips by outcome.",
		}, []string{"outcome"}),
		bridgeCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "bridge_cache_hits_total",
			Help:      "Bridge calls answered from the idempotency cache.",
		}),
		snapshotSaves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "snapshot_saves_total",
			Help:      "Instance snapshots persisted, by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) setQueueDepth(instanceID string, depth int) {
	m.queueDepth.WithLabelValues(instanceID).Set(float64(depth))
}

func (m *Metrics) observeStep(instanceID, step, status string, elapsed time.Duration) {
	m.steps.WithLabelValues(instanceID, step, status).Inc()
	if status == "success" {
		m.stepLatency.WithLabelValues(instanceID, step).Observe(elapsed.Seconds())
	}
}
