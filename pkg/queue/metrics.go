package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the pipeline executor and worker pool. These
// mirror the figures PoolHealth reports over JSON, in scrapeable form.
var (
	stageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reviewpipeline",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Wall-clock duration of each pipeline stage.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reviewpipeline",
		Subsystem: "pipeline",
		Name:      "cache_lookups_total",
		Help:      "Result cache lookups by outcome (hit, miss, disabled).",
	}, []string{"result"})

	runsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reviewpipeline",
		Subsystem: "pipeline",
		Name:      "runs_completed_total",
		Help:      "Review runs reaching a terminal status.",
	}, []string{"status"})

	runsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reviewpipeline",
		Subsystem: "queue",
		Name:      "runs_in_flight",
		Help:      "Runs currently being processed by this instance.",
	})

	orphansRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "reviewpipeline",
		Subsystem: "queue",
		Name:      "orphans_recovered_total",
		Help:      "Stuck running runs reaped into the failed state.",
	})
)

func observeStage(stage string, millis int) {
	stageDurationSeconds.WithLabelValues(stage).Observe(float64(millis) / 1000.0)
}
