package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	FilesExtracted   prometheus.Counter
	ExtractionErrors prometheus.Counter
	GroupsLoaded     prometheus.Counter
	GroupsSkipped    prometheus.Counter
	RecordsLoaded    prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Cache metrics.
	CacheLookups *prometheus.CounterVec // labels: result={hit,miss}

	// Join and filter metrics.
	JoinConflicts  prometheus.Counter
	RecordsDropped prometheus.Counter

	// Timing.
	GroupDuration       prometheus.Histogram
	CorrelationDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FilesExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "accident_etl",
			Name:      "files_extracted_total",
			Help:      "Total source files parsed, cache hits included.",
		}),
		ExtractionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "accident_etl",
			Name:      "extraction_errors_total",
			Help:      "Total source files that failed to parse.",
		}),
		GroupsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "accident_etl",
			Name:      "groups_loaded_total",
			Help:      "Total source file groups handed to a loader.",
		}),
		GroupsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "accident_etl",
			Name:      "groups_skipped_total",
			Help:      "Total source file groups skipped due to extraction failures.",
		}),
		RecordsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "accident_etl",
			Name:      "records_loaded_total",
			Help:      "Total records written to destination tables.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "accident_etl",
			Name:      "pipeline_running",
			Help:      "1 while a batch run is active, 0 otherwise.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accident_etl",
			Name:      "cache_lookups_total",
			Help:      "Extraction cache lookups by result.",
		}, []string{"result"}),
		JoinConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "accident_etl",
			Name:      "join_conflicts_total",
			Help:      "Column collisions resolved last-write-wins during group joins.",
		}),
		RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "accident_etl",
			Name:      "records_dropped_total",
			Help:      "Records dropped for invalid coordinates or falling outside the region.",
		}),
		GroupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "accident_etl",
			Name:      "group_duration_seconds",
			Help:      "Duration of a complete group extract-join-load cycle.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		CorrelationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "accident_etl",
			Name:      "correlation_duration_seconds",
			Help:      "Duration of a full camera correlation recompute.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}

	prometheus.MustRegister(
		m.FilesExtracted,
		m.ExtractionErrors,
		m.GroupsLoaded,
		m.GroupsSkipped,
		m.RecordsLoaded,
		m.PipelineRunning,
		m.CacheLookups,
		m.JoinConflicts,
		m.RecordsDropped,
		m.GroupDuration,
		m.CorrelationDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		FilesExtracted:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "accident_etl", Name: "files_extracted_total"}),
		ExtractionErrors:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "accident_etl", Name: "extraction_errors_total"}),
		GroupsLoaded:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "accident_etl", Name: "groups_loaded_total"}),
		GroupsSkipped:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "accident_etl", Name: "groups_skipped_total"}),
		RecordsLoaded:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "accident_etl", Name: "records_loaded_total"}),
		PipelineRunning:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "accident_etl", Name: "pipeline_running"}),
		CacheLookups:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "accident_etl", Name: "cache_lookups_total"}, []string{"result"}),
		JoinConflicts:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "accident_etl", Name: "join_conflicts_total"}),
		RecordsDropped:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "accident_etl", Name: "records_dropped_total"}),
		GroupDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "accident_etl", Name: "group_duration_seconds"}),
		CorrelationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "accident_etl", Name: "correlation_duration_seconds"}),
	}
}
