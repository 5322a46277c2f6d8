package cleanup

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type CleanupMetrics struct {
	runsTotal          *prometheus.CounterVec
	duration           prometheus.Histogram
	errorsTotal        *prometheus.CounterVec
	entriesInvalidated prometheus.Counter
	filesDeleted       prometheus.Counter
	bytesFreed         prometheus.Counter
	eventsPruned       prometheus.Counter
	logger             *zap.Logger
}

func NewCleanupMetrics(namespace string, logger *zap.Logger) *CleanupMetrics {
	return NewCleanupMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

func NewCleanupMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *CleanupMetrics {
	cm := &CleanupMetrics{
		logger: logger,
	}

	cm.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "cleanup_runs_total",
			Help:      "Total cleanup runs by final status",
		},
		[]string{"status"},
	)

	cm.duration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "cleanup_duration_seconds",
			Help:      "Duration of cleanup runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	cm.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "cleanup_errors_total",
			Help:      "Cleanup errors by type",
		},
		[]string{"error_type"},
	)

	cm.entriesInvalidated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "cleanup_entries_invalidated_total",
			Help:      "Total cache entries invalidated or removed by cleanup",
		},
	)

	cm.filesDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "cleanup_files_deleted_total",
			Help:      "Total content files deleted by cleanup",
		},
	)

	cm.bytesFreed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "cleanup_bytes_freed_total",
			Help:      "Total bytes freed on disk by cleanup",
		},
	)

	cm.eventsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "cleanup_events_pruned_total",
			Help:      "Total request journal events pruned by cleanup",
		},
	)

	registerer.MustRegister(
		cm.runsTotal,
		cm.duration,
		cm.errorsTotal,
		cm.entriesInvalidated,
		cm.filesDeleted,
		cm.bytesFreed,
		cm.eventsPruned,
	)

	return cm
}

func (cm *CleanupMetrics) RecordRun(status string) {
	cm.runsTotal.WithLabelValues(status).Inc()
}

func (cm *CleanupMetrics) RecordDuration(seconds float64) {
	cm.duration.Observe(seconds)
}

func (cm *CleanupMetrics) RecordError(errorType string) {
	cm.errorsTotal.WithLabelValues(errorType).Inc()
}

func (cm *CleanupMetrics) RecordInvalidated(count int64) {
	if count > 0 {
		cm.entriesInvalidated.Add(float64(count))
	}
}

func (cm *CleanupMetrics) RecordFilesDeleted(count int64) {
	if count > 0 {
		cm.filesDeleted.Add(float64(count))
	}
}

func (cm *CleanupMetrics) RecordBytesFreed(bytes int64) {
	if bytes > 0 {
		cm.bytesFreed.Add(float64(bytes))
	}
}

func (cm *CleanupMetrics) RecordEventsPruned(count int64) {
	if count > 0 {
		cm.eventsPruned.Add(float64(count))
	}
}
