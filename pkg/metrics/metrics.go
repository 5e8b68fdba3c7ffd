// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal tracks pipeline operations by outcome (ok, degraded, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "pipeline",
			Name:      "operations_total",
			Help:      "Total number of pipeline operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// OperationDuration tracks pipeline operation duration in seconds
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "pipeline",
			Name:      "operation_duration_seconds",
			Help:      "Duration of pipeline operations in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	// ProbeFailuresTotal tracks failed store health probes
	ProbeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "store",
			Name:      "probe_failures_total",
			Help:      "Total number of failed store health probes",
		},
	)

	// SchemaHealsTotal tracks schema ensure runs by trigger and status
	SchemaHealsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "store",
			Name:      "schema_heals_total",
			Help:      "Total number of schema ensure runs",
		},
		[]string{"trigger", "status"},
	)

	// SyncMismatchesTotal tracks instance steps that matched no template step
	SyncMismatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "workflow",
			Name:      "sync_mismatches_total",
			Help:      "Total number of steps that could not be matched to a template step",
		},
		[]string{"source"},
	)

	// TemplateWeightWarningsTotal tracks templates whose weights do not total 100
	TemplateWeightWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "workflow",
			Name:      "template_weight_warnings_total",
			Help:      "Total number of template writes leaving a weight total other than 100",
		},
	)

	// EntityProbability tracks recomputed entity probabilities
	EntityProbability = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "workflow",
			Name:      "entity_probability",
			Help:      "Distribution of recomputed entity probabilities",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"kind"},
	)

	// StepCacheLookups tracks step cache hits and misses
	StepCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "cache",
			Name:      "step_lookups_total",
			Help:      "Total number of step cache lookups by result",
		},
		[]string{"result"},
	)

	// EventsPublishedTotal tracks published pipeline events
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of pipeline events published by type and status",
		},
		[]string{"event_type", "status"},
	)
)

func RecordOperation(operation, outcome string, durationSeconds float64) {
	OperationsTotal.WithLabelValues(operation, outcome).Inc()
	OperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

func RecordProbeFailure() {
	ProbeFailuresTotal.Inc()
}

func RecordSchemaHeal(trigger, status string) {
	SchemaHealsTotal.WithLabelValues(trigger, status).Inc()
}

func RecordSyncMismatches(source string, count int) {
	if count <= 0 {
		return
	}
	SyncMismatchesTotal.WithLabelValues(source).Add(float64(count))
}

func RecordTemplateWeightWarning() {
	TemplateWeightWarningsTotal.Inc()
}

func ObserveProbability(kind string, probability int) {
	EntityProbability.WithLabelValues(kind).Observe(float64(probability))
}

func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	StepCacheLookups.WithLabelValues(result).Inc()
}

func RecordEventPublished(eventType, status string) {
	EventsPublishedTotal.WithLabelValues(eventType, status).Inc()
}
