// Package syncer sequences one sync run end to end: fetch, audit, normalize,
// registry diff, upsert, telemetry, and the optional schema-change
// notification. It owns run identity and the run's terminal status.
package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/swooshie/sheetsync/internal/audit"
	"github.com/swooshie/sheetsync/internal/sheet"
	"github.com/swooshie/sheetsync/internal/store"
	"github.com/swooshie/sheetsync/internal/upsert"
	"github.com/swooshie/sheetsync/pkg/kafka"
)

// Status is the terminal outcome of one run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusBlocked Status = "blocked"
	StatusFailed  Status = "failed"
)

// Trigger identifies what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerBackfill  Trigger = "backfill"
)

// anomalySampleCap bounds the anomaly sample carried in telemetry.
const anomalySampleCap = 25

// PhaseTiming records how long one pipeline phase took.
type PhaseTiming struct {
	Phase      string `json:"phase"`
	DurationMs int64  `json:"durationMs"`
}

// SchemaChange describes detected schema drift for telemetry and the
// outbound notification.
type SchemaChange struct {
	PreviousVersion string   `json:"previousVersion"`
	CurrentVersion  string   `json:"currentVersion"`
	AddedColumns    []string `json:"addedColumns,omitempty"`
	RemovedColumns  []string `json:"removedColumns,omitempty"`
	RenamedColumns  []string `json:"renamedColumns,omitempty"`
	AnomaliesSample []string `json:"anomaliesSample,omitempty"`
}

// RunTelemetry is the immutable record of one orchestration attempt. It is
// created once per run and never updated in place.
type RunTelemetry struct {
	RunID          string             `json:"runId"`
	Origin         string             `json:"origin"`
	Trigger        Trigger            `json:"trigger"`
	StartedAt      time.Time          `json:"startedAt"`
	FinishedAt     time.Time          `json:"finishedAt"`
	DurationMs     int64              `json:"durationMs"`
	QueueLatencyMs int64              `json:"queueLatencyMs,omitempty"`
	Phases         []PhaseTiming      `json:"phases,omitempty"`
	FetchMetrics   sheet.FetchMetrics `json:"fetchMetrics"`
	RowsFetched    int                `json:"rowsFetched"`
	RowsNormalized int                `json:"rowsNormalized"`
	RowsSkipped    int                `json:"rowsSkipped"`
	Status         Status             `json:"status"`
	ErrorKind      string             `json:"errorKind,omitempty"`
	Error          string             `json:"error,omitempty"`
	DryRun         bool               `json:"dryRun"`
	AuditReport    *audit.Report      `json:"auditReport,omitempty"`
	Upsert         *upsert.Summary    `json:"upsert,omitempty"`
	SchemaChange   *SchemaChange      `json:"schemaChange,omitempty"`
	// NotificationSuppressed records why the schema-change notification was
	// not (successfully) delivered.
	NotificationSuppressed string   `json:"notificationSuppressed,omitempty"`
	Anomalies              []string `json:"anomalies,omitempty"`
}

// Sink receives run telemetry. Implementations are best-effort: a sink that
// cannot record must not fail the run.
type Sink interface {
	Record(ctx context.Context, rec *RunTelemetry)
}

// StoreSink persists telemetry as JSON through the document store.
type StoreSink struct {
	store  store.Store
	logger *slog.Logger
}

// NewStoreSink creates a StoreSink on the given store.
func NewStoreSink(st store.Store) *StoreSink {
	return &StoreSink{
		store:  st,
		logger: slog.Default().With("component", "telemetry-store-sink"),
	}
}

func (s *StoreSink) Record(ctx context.Context, rec *RunTelemetry) {
	payload, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("marshaling run telemetry", "run_id", rec.RunID, "error", err)
		return
	}
	if err := s.store.SaveTelemetry(ctx, rec.Origin, payload); err != nil {
		s.logger.Error("persisting run telemetry", "run_id", rec.RunID, "error", err)
	}
}

// EventPublisher is the slice of the Kafka producer the sinks need.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// KafkaSink publishes each run record to the sync-runs topic.
type KafkaSink struct {
	producer EventPublisher
	logger   *slog.Logger
}

// NewKafkaSink creates a KafkaSink on the given producer.
func NewKafkaSink(producer EventPublisher) *KafkaSink {
	return &KafkaSink{
		producer: producer,
		logger:   slog.Default().With("component", "telemetry-kafka-sink"),
	}
}

func (s *KafkaSink) Record(ctx context.Context, rec *RunTelemetry) {
	err := s.producer.Publish(ctx, kafka.Event{Key: rec.Origin, Value: rec})
	if err != nil {
		s.logger.Error("publishing run telemetry", "run_id", rec.RunID, "error", err)
	}
}

// MultiSink fans one record out to several sinks.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, rec *RunTelemetry) {
	for _, s := range m {
		s.Record(ctx, rec)
	}
}
