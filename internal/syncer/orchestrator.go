package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/swooshie/sheetsync/internal/audit"
	"github.com/swooshie/sheetsync/internal/normalize"
	"github.com/swooshie/sheetsync/internal/registry"
	"github.com/swooshie/sheetsync/internal/sheet"
	"github.com/swooshie/sheetsync/internal/store"
	"github.com/swooshie/sheetsync/internal/upsert"
	syncerrors "github.com/swooshie/sheetsync/pkg/errors"
	"github.com/swooshie/sheetsync/pkg/logger"
	"github.com/swooshie/sheetsync/pkg/metrics"
)

// Options is the orchestration policy for one origin.
type Options struct {
	Origin             string
	DryRun             bool
	PauseNotifications bool
	// NotifyWait bounds how long a run waits for webhook delivery before
	// moving on; the delivery itself continues in the background.
	NotifyWait time.Duration
}

// Deps are the collaborators one Orchestrator sequences. Fetcher, Gate,
// Normalizer, Engine, and Store are required; Versions, Sink, Notifier, and
// Metrics may be nil.
type Deps struct {
	Fetcher    sheet.Fetcher
	Gate       *audit.Gate
	Normalizer *normalize.Normalizer
	Engine     *upsert.Engine
	Store      store.Store
	Versions   *registry.VersionCache
	Sink       Sink
	Notifier   Notifier
	Metrics    *metrics.Metrics
}

// Orchestrator runs the sync pipeline: fetching → auditing →
// (blocked|normalizing) → diffing-registry → upserting → (success|failed).
// It owns run identity and emits exactly one telemetry record per run.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.NotifyWait <= 0 {
		opts.NotifyWait = 3 * time.Second
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: slog.Default().With("component", "sync-orchestrator", "origin", opts.Origin),
	}
}

// Run executes one sync run. enqueuedAt, when non-zero, is the time the run
// was requested and feeds queue-latency telemetry. The returned telemetry
// record is always non-nil; the error is non-nil only for terminal outcomes
// (blocked and failed runs) and carries a machine-checkable kind.
func (o *Orchestrator) Run(ctx context.Context, trigger Trigger, enqueuedAt time.Time) (*RunTelemetry, error) {
	runID := uuid.NewString()
	ctx = logger.WithRun(ctx, runID)
	log := o.logger.With("run_id", runID, "trigger", string(trigger))

	started := time.Now()
	rec := &RunTelemetry{
		RunID:     runID,
		Origin:    o.opts.Origin,
		Trigger:   trigger,
		StartedAt: started.UTC(),
		DryRun:    o.opts.DryRun,
	}
	if !enqueuedAt.IsZero() {
		rec.QueueLatencyMs = started.Sub(enqueuedAt).Milliseconds()
	}
	log.Info("sync run started", "dry_run", o.opts.DryRun)

	phase := newPhaseClock()

	// fetching
	data, err := o.deps.Fetcher.Fetch(ctx)
	if err != nil {
		return o.fail(ctx, rec, log, fmt.Errorf("fetching sheet: %w", err))
	}
	rec.RowsFetched = len(data.Rows)
	rec.FetchMetrics = data.Metrics
	rec.Phases = phase.mark(rec.Phases, "fetching")

	// auditing
	report, err := o.deps.Gate.Audit(data)
	if err != nil {
		return o.fail(ctx, rec, log, err)
	}
	rec.AuditReport = report
	rec.Phases = phase.mark(rec.Phases, "auditing")
	if report.Status == audit.StatusBlocked {
		rec.Status = StatusBlocked
		blockErr := syncerrors.Newf(syncerrors.ErrAuditBlocked, runID,
			"%d of %d rows missing identity", report.MissingCount, report.RowsAudited)
		rec.ErrorKind = syncerrors.Kind(blockErr)
		rec.Error = blockErr.Error()
		o.finish(ctx, rec, log)
		return rec, blockErr
	}

	if len(data.Rows) == 0 {
		rec.Status = StatusSkipped
		log.Info("sheet is empty, nothing to sync")
		o.finish(ctx, rec, log)
		return rec, nil
	}

	// normalizing — the version tag is derived from the current headers
	// before any store round trip so every record carries it.
	entries := registry.Build(data.Headers, data.Rows)
	version := registry.DeriveVersion(entries)
	result := o.deps.Normalizer.Normalize(data, o.opts.Origin, version)
	rec.RowsNormalized = len(result.Records)
	rec.RowsSkipped = result.SkippedCount
	rec.Anomalies = sampleAnomalies(result.Anomalies)
	rec.Phases = phase.mark(rec.Phases, "normalizing")

	// diffing-registry
	previous, err := o.deps.Store.LoadRegistry(ctx, o.opts.Origin)
	if err != nil {
		return o.fail(ctx, rec, log, fmt.Errorf("loading previous registry: %w", err))
	}
	previousVersion := o.previousVersion(ctx, previous)
	diff := registry.Compare(entries, previous)
	rec.Phases = phase.mark(rec.Phases, "diffing-registry")

	// upserting
	summary, err := o.deps.Engine.Apply(ctx, upsert.Request{
		RunID:               runID,
		Origin:              o.opts.Origin,
		Records:             result.Records,
		SchemaVersion:       version,
		RegistryEntries:     entries,
		RegistryRemovedKeys: removedKeys(diff),
		DryRun:              o.opts.DryRun,
		SuppressTelemetry:   true,
	})
	if err != nil {
		return o.fail(ctx, rec, log, err)
	}
	rec.Upsert = summary
	rec.Phases = phase.mark(rec.Phases, "upserting")

	rec.Status = StatusSuccess
	if !diff.Empty() {
		rec.SchemaChange = buildSchemaChange(previousVersion, version, diff, rec.Anomalies)
		o.notify(ctx, rec, log)
		if !o.opts.DryRun {
			if o.deps.Versions != nil {
				o.deps.Versions.Invalidate(ctx, o.opts.Origin)
			}
			if o.deps.Metrics != nil {
				o.deps.Metrics.SchemaChangesTotal.Inc()
			}
		}
	}

	o.finish(ctx, rec, log)
	log.Info("sync run finished",
		"status", string(rec.Status),
		"added", summary.Added,
		"updated", summary.Updated,
		"unchanged", summary.Unchanged,
		"duration_ms", rec.DurationMs,
	)
	return rec, nil
}

// fail marks the run failed with the error's kind, emits the single
// telemetry record, and returns the error to the caller.
func (o *Orchestrator) fail(ctx context.Context, rec *RunTelemetry, log *slog.Logger, err error) (*RunTelemetry, error) {
	rec.Status = StatusFailed
	rec.ErrorKind = syncerrors.Kind(err)
	rec.Error = err.Error()
	log.Error("sync run failed", "kind", rec.ErrorKind, "error", err)
	o.finish(ctx, rec, log)
	return rec, err
}

// finish stamps timing, emits telemetry, and updates metrics. Called exactly
// once per run.
func (o *Orchestrator) finish(ctx context.Context, rec *RunTelemetry, log *slog.Logger) {
	rec.FinishedAt = time.Now().UTC()
	rec.DurationMs = rec.FinishedAt.Sub(rec.StartedAt).Milliseconds()
	if o.deps.Sink != nil {
		o.deps.Sink.Record(ctx, rec)
	}
	o.updateMetrics(rec)
}

func (o *Orchestrator) updateMetrics(rec *RunTelemetry) {
	m := o.deps.Metrics
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(rec.Status), string(rec.Trigger)).Inc()
	m.RunDuration.WithLabelValues(string(rec.Status)).Observe(float64(rec.DurationMs) / 1000)
	m.RowsFetched.Add(float64(rec.RowsFetched))
	m.RowsNormalized.Add(float64(rec.RowsNormalized))
	m.RowsSkipped.Add(float64(rec.RowsSkipped))
	if rec.Upsert != nil && !rec.Upsert.DryRun {
		m.RecordsAdded.Add(float64(rec.Upsert.Added))
		m.RecordsUpdated.Add(float64(rec.Upsert.Updated))
		m.RecordsUnchanged.Add(float64(rec.Upsert.Unchanged))
		m.ConflictsTotal.Add(float64(rec.Upsert.Conflicts))
		m.AnomaliesTotal.Add(float64(len(rec.Upsert.Anomalies)))
	}
}

// notify delivers the schema-change alert, best-effort. Suppression (dry
// run, paused, no channel) and delivery failure are recorded on the
// telemetry record; none of them can fail the run.
func (o *Orchestrator) notify(ctx context.Context, rec *RunTelemetry, log *slog.Logger) {
	switch {
	case o.opts.DryRun:
		rec.NotificationSuppressed = "dry-run"
		return
	case o.opts.PauseNotifications:
		rec.NotificationSuppressed = "notifications paused"
		return
	case o.deps.Notifier == nil:
		rec.NotificationSuppressed = "no notification channel configured"
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- o.deps.Notifier.NotifySchemaChange(context.WithoutCancel(ctx), rec.Origin, rec.SchemaChange)
	}()
	select {
	case err := <-done:
		if err != nil {
			rec.NotificationSuppressed = fmt.Sprintf("delivery failed: %v", err)
			if o.deps.Metrics != nil {
				o.deps.Metrics.WebhookFailures.Inc()
			}
			log.Warn("schema change notification failed", "error", err)
		}
	case <-time.After(o.opts.NotifyWait):
		// Delivery keeps going in the background; the run does not wait.
		rec.NotificationSuppressed = "delivery pending at run completion"
	}
}

// previousVersion resolves the last known registry version, preferring the
// cached lookup and falling back to deriving it from the loaded entries.
func (o *Orchestrator) previousVersion(ctx context.Context, previous []registry.ColumnDescriptor) string {
	if o.deps.Versions != nil {
		if v, err := o.deps.Versions.Current(ctx, o.opts.Origin); err == nil {
			return v
		}
	}
	if len(previous) == 0 {
		return ""
	}
	return registry.DeriveVersion(previous)
}

func removedKeys(diff registry.Diff) []string {
	keys := make([]string, 0, len(diff.Removed)+len(diff.Renamed))
	for _, e := range diff.Removed {
		keys = append(keys, e.Key)
	}
	for _, r := range diff.Renamed {
		keys = append(keys, r.From.Key)
	}
	return keys
}

func buildSchemaChange(previousVersion, currentVersion string, diff registry.Diff, anomalies []string) *SchemaChange {
	change := &SchemaChange{
		PreviousVersion: previousVersion,
		CurrentVersion:  currentVersion,
		AnomaliesSample: anomalies,
	}
	for _, e := range diff.Added {
		change.AddedColumns = append(change.AddedColumns, e.Label)
	}
	for _, e := range diff.Removed {
		change.RemovedColumns = append(change.RemovedColumns, e.Label)
	}
	for _, r := range diff.Renamed {
		change.RenamedColumns = append(change.RenamedColumns,
			fmt.Sprintf("%s -> %s", r.From.Label, r.To.Label))
	}
	return change
}

func sampleAnomalies(anomalies []string) []string {
	if len(anomalies) <= anomalySampleCap {
		return anomalies
	}
	return anomalies[:anomalySampleCap]
}

// phaseClock measures successive phase durations.
type phaseClock struct {
	last time.Time
}

func newPhaseClock() *phaseClock {
	return &phaseClock{last: time.Now()}
}

func (c *phaseClock) mark(phases []PhaseTiming, name string) []PhaseTiming {
	now := time.Now()
	phases = append(phases, PhaseTiming{Phase: name, DurationMs: now.Sub(c.last).Milliseconds()})
	c.last = now
	return phases
}
