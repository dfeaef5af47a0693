// Package metrics holds the Prometheus instrumentation for ingestion,
// schema provisioning and analytics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics, grouped by component.
// NOTE: no tenant labels, app ids are unbounded.
type Metrics struct {
	Ingest    IngestMetrics
	Schema    SchemaMetrics
	Registry  RegistryMetrics
	Analytics AnalyticsMetrics
}

// IngestMetrics tracks ingestion batches.
type IngestMetrics struct {
	// RowsWritten counts rows written to the analytical store. labels: kind (requests/logs)
	RowsWritten *prometheus.CounterVec

	// Batches counts ingest calls. labels: kind, status (success/failed)
	Batches *prometheus.CounterVec

	Duration *prometheus.HistogramVec // labels: kind
}

// SchemaMetrics tracks schema provisioning.
type SchemaMetrics struct {
	// ProvisionFailures counts failed provisioning attempts. labels: artifact
	ProvisionFailures *prometheus.CounterVec
}

// RegistryMetrics tracks endpoint auto-discovery.
type RegistryMetrics struct {
	EndpointsCreated prometheus.Counter
	SyncFailures     prometheus.Counter
}

// AnalyticsMetrics tracks analytics queries.
type AnalyticsMetrics struct {
	// Degraded counts views that fell back to their empty shape. labels: view
	Degraded *prometheus.CounterVec

	QueryDuration *prometheus.HistogramVec // labels: view
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewUnregistered creates metrics on a private registry. Components use it
// when no metrics were supplied.
func NewUnregistered() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

// NewMetricsWithRegistry creates metrics with a custom registry
// This is useful for testing to avoid conflicts with the default registry
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Ingest: IngestMetrics{
			RowsWritten: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "apilens_ingest_rows_total",
					Help: "Total number of rows written to the analytical store",
				},
				[]string{"kind"},
			),
			Batches: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "apilens_ingest_batches_total",
					Help: "Total number of ingest batches by outcome",
				},
				[]string{"kind", "status"},
			),
			Duration: factory.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "apilens_ingest_duration_seconds",
					Help:    "End-to-end ingest call duration",
					Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
				},
				[]string{"kind"},
			),
		},

		Schema: SchemaMetrics{
			ProvisionFailures: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "apilens_schema_provision_failures_total",
					Help: "Total number of failed schema provisioning attempts",
				},
				[]string{"artifact"},
			),
		},

		Registry: RegistryMetrics{
			EndpointsCreated: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "apilens_registry_endpoints_created_total",
					Help: "Total number of endpoints inserted by auto-discovery",
				},
			),
			SyncFailures: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "apilens_registry_sync_failures_total",
					Help: "Total number of endpoint registry sync failures",
				},
			),
		},

		Analytics: AnalyticsMetrics{
			Degraded: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "apilens_analytics_degraded_total",
					Help: "Total number of analytics calls answered with an empty result after a store failure",
				},
				[]string{"view"},
			),
			QueryDuration: factory.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "apilens_analytics_query_duration_seconds",
					Help:    "Time spent executing analytics queries",
					Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
				},
				[]string{"view"},
			),
		},
	}
}
