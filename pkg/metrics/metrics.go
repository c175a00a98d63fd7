// Package metrics defines the Prometheus metric collectors used by the sync
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the sync service.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	RowsFetched        prometheus.Counter
	RowsNormalized     prometheus.Counter
	RowsSkipped        prometheus.Counter
	RecordsAdded       prometheus.Counter
	RecordsUpdated     prometheus.Counter
	RecordsUnchanged   prometheus.Counter
	ConflictsTotal     prometheus.Counter
	AnomaliesTotal     prometheus.Counter
	RollbacksTotal     *prometheus.CounterVec
	SchemaChangesTotal prometheus.Counter
	WebhookFailures    prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_runs_total",
				Help: "Total sync runs by status and trigger.",
			},
			[]string{"status", "trigger"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_run_duration_seconds",
				Help:    "Wall-clock duration of sync runs in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),
		RowsFetched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_rows_fetched_total",
				Help: "Total raw rows fetched from the sheet source.",
			},
		),
		RowsNormalized: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_rows_normalized_total",
				Help: "Total rows successfully normalized into records.",
			},
		),
		RowsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_rows_skipped_total",
				Help: "Total rows skipped during normalization.",
			},
		),
		RecordsAdded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_records_added_total",
				Help: "Total records inserted by the upsert engine.",
			},
		),
		RecordsUpdated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_records_updated_total",
				Help: "Total records updated by the upsert engine.",
			},
		),
		RecordsUnchanged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_records_unchanged_total",
				Help: "Total records left untouched because the content hash matched.",
			},
		),
		ConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_conflicts_total",
				Help: "Total duplicate-identity conflicts within a batch.",
			},
		),
		AnomaliesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_anomalies_total",
				Help: "Total row-level anomalies recorded across runs.",
			},
		),
		RollbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_rollbacks_total",
				Help: "Total snapshot rollbacks on the fallback write path by outcome.",
			},
			[]string{"outcome"},
		),
		SchemaChangesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_schema_changes_total",
				Help: "Total runs that detected a column registry change.",
			},
		),
		WebhookFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_webhook_failures_total",
				Help: "Total failed schema-change webhook deliveries.",
			},
		),
	}

	prometheus.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RowsFetched,
		m.RowsNormalized,
		m.RowsSkipped,
		m.RecordsAdded,
		m.RecordsUpdated,
		m.RecordsUnchanged,
		m.ConflictsTotal,
		m.AnomaliesTotal,
		m.RollbacksTotal,
		m.SchemaChangesTotal,
		m.WebhookFailures,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
