// Package upsert computes the minimal set of insert/update operations for a
// normalized batch and applies it to the document store: atomically when the
// store supports transactions, otherwise through a snapshot-guarded
// non-transactional path with rollback on failure.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/swooshie/sheetsync/internal/normalize"
	"github.com/swooshie/sheetsync/internal/registry"
	"github.com/swooshie/sheetsync/internal/store"
	syncerrors "github.com/swooshie/sheetsync/pkg/errors"
	"github.com/swooshie/sheetsync/pkg/metrics"
)

// Summary is the immutable result of one engine invocation.
type Summary struct {
	RunID                 string        `json:"runId"`
	Added                 int           `json:"added"`
	Updated               int           `json:"updated"`
	Unchanged             int           `json:"unchanged"`
	Conflicts             int           `json:"conflicts"`
	Skipped               int           `json:"skipped"`
	LegacyIdentityChanges int           `json:"legacyIdentityChanges"`
	DryRun                bool          `json:"dryRun"`
	Transactional         bool          `json:"transactional"`
	Duration              time.Duration `json:"-"`
	DurationMs            int64         `json:"durationMs"`
	Anomalies             []string      `json:"anomalies,omitempty"`
}

// Request carries one batch into the engine.
type Request struct {
	RunID               string
	Origin              string
	Records             []normalize.Record
	SchemaVersion       string
	RegistryEntries     []registry.ColumnDescriptor
	RegistryRemovedKeys []string
	DryRun              bool
	// SuppressTelemetry stops the engine's own telemetry emission; the
	// orchestrator sets it to emit a single consolidated record instead.
	SuppressTelemetry bool
}

// Recorder receives one summary per non-suppressed engine invocation.
type Recorder interface {
	RecordUpsert(ctx context.Context, origin string, summary *Summary)
}

// Engine applies normalized batches to the document store.
type Engine struct {
	store    store.Store
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates an Engine. recorder may be nil.
func New(st store.Store, recorder Recorder) *Engine {
	return &Engine{
		store:    st,
		recorder: recorder,
		logger:   slog.Default().With("component", "upsert-engine"),
	}
}

// WithMetrics attaches rollback counters to the engine. m may be nil.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// Apply loads the existing records for the batch's identities, plans the
// minimal write set, and applies it. In dry-run mode all computation happens
// but no write is issued. The returned error, if any, is a WriteFailure (or
// a ConfigurationError surfaced from planning); row-level problems are
// anomalies in the summary, never errors.
func (e *Engine) Apply(ctx context.Context, req Request) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: req.RunID, DryRun: req.DryRun}

	identities := make([]string, 0, len(req.Records))
	seen := make(map[string]bool, len(req.Records))
	for _, rec := range req.Records {
		id := strings.ToLower(strings.TrimSpace(rec.Identity))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		identities = append(identities, id)
	}

	existing, err := e.store.FetchExisting(ctx, req.Origin, identities)
	if err != nil {
		return nil, syncerrors.Newf(syncerrors.ErrWriteFailure, req.RunID,
			"loading existing records: %v", err)
	}

	batch := e.plan(req, existing, summary)

	summary.Transactional = e.store.SupportsTransactions()
	if req.DryRun {
		e.finish(ctx, req, summary, start)
		return summary, nil
	}

	if summary.Transactional {
		err = e.store.ApplyBatch(ctx, batch)
		if err != nil && isTxUnsupported(err) {
			e.logger.Warn("store refused transactional apply, using fallback", "error", err)
			summary.Transactional = false
			err = e.applyFallback(ctx, req, batch)
		} else if err != nil {
			err = syncerrors.Newf(syncerrors.ErrWriteFailure, req.RunID,
				"transactional apply: %v", err)
		}
	} else {
		err = e.applyFallback(ctx, req, batch)
	}
	if err != nil {
		return nil, err
	}

	e.finish(ctx, req, summary, start)
	return summary, nil
}

// plan classifies each record: blank identity → anomaly, duplicate identity
// in the batch → conflict (first occurrence wins), unknown identity →
// insert, identical content hash → unchanged, otherwise update.
func (e *Engine) plan(req Request, existing map[string]store.Document, summary *Summary) store.WriteBatch {
	batch := store.WriteBatch{
		Origin:              req.Origin,
		SchemaVersion:       req.SchemaVersion,
		RegistryEntries:     req.RegistryEntries,
		RegistryRemovedKeys: req.RegistryRemovedKeys,
	}
	claimed := make(map[string]bool, len(req.Records))
	for i, rec := range req.Records {
		id := strings.ToLower(strings.TrimSpace(rec.Identity))
		if id == "" {
			summary.Skipped++
			summary.Anomalies = append(summary.Anomalies,
				fmt.Sprintf("record %d: blank identity", i))
			continue
		}
		if claimed[id] {
			summary.Conflicts++
			summary.Anomalies = append(summary.Anomalies,
				fmt.Sprintf("record %d: duplicate identity %q", i, id))
			continue
		}
		claimed[id] = true

		prev, exists := existing[id]
		if !exists {
			summary.Added++
			batch.Inserts = append(batch.Inserts, documentFrom(rec, id))
			continue
		}
		if prev.ContentHash == rec.ContentHash {
			summary.Unchanged++
			continue
		}
		if prev.LegacyIdentity != rec.LegacyIdentity {
			summary.LegacyIdentityChanges++
		}
		summary.Updated++
		batch.Updates = append(batch.Updates, documentFrom(rec, id))
	}
	return batch
}

// applyFallback is the non-transactional path: snapshot the partition, apply
// writes one by one, and restore the snapshot if anything fails mid-way. A
// failed restore is logged as a rollback failure with elevated severity but
// never masks the original write error.
func (e *Engine) applyFallback(ctx context.Context, req Request, batch store.WriteBatch) error {
	snapshot, err := e.store.ListPartition(ctx, batch.Origin)
	if err != nil {
		return syncerrors.Newf(syncerrors.ErrWriteFailure, req.RunID,
			"snapshotting partition before fallback apply: %v", err)
	}

	apply := func() error {
		for _, doc := range batch.Inserts {
			if err := e.store.Upsert(ctx, batch.Origin, doc); err != nil {
				return err
			}
		}
		for _, doc := range batch.Updates {
			if err := e.store.Upsert(ctx, batch.Origin, doc); err != nil {
				return err
			}
		}
		return e.store.SyncRegistry(ctx, batch.Origin, batch.RegistryEntries, batch.RegistryRemovedKeys)
	}

	if applyErr := apply(); applyErr != nil {
		e.logger.Error("fallback apply failed, restoring pre-run snapshot",
			"origin", batch.Origin,
			"snapshot_size", len(snapshot),
			"error", applyErr,
		)
		if restoreErr := e.store.ReplacePartition(ctx, batch.Origin, snapshot); restoreErr != nil {
			rollback := syncerrors.Newf(syncerrors.ErrRollbackFailure, req.RunID,
				"restoring snapshot of %s: %v", batch.Origin, restoreErr)
			e.logger.Error("snapshot restore failed, partition may be inconsistent",
				"origin", batch.Origin,
				"error", rollback,
			)
			e.countRollback("failed")
		} else {
			e.countRollback("restored")
		}
		return syncerrors.Newf(syncerrors.ErrWriteFailure, req.RunID,
			"fallback apply: %v", applyErr)
	}
	return nil
}

func (e *Engine) countRollback(outcome string) {
	if e.metrics != nil {
		e.metrics.RollbacksTotal.WithLabelValues(outcome).Inc()
	}
}

func (e *Engine) finish(ctx context.Context, req Request, summary *Summary, start time.Time) {
	summary.Duration = time.Since(start)
	summary.DurationMs = summary.Duration.Milliseconds()
	e.logger.Info("upsert applied",
		"origin", req.Origin,
		"added", summary.Added,
		"updated", summary.Updated,
		"unchanged", summary.Unchanged,
		"conflicts", summary.Conflicts,
		"dry_run", summary.DryRun,
		"transactional", summary.Transactional,
	)
	if e.recorder != nil && !req.SuppressTelemetry {
		e.recorder.RecordUpsert(ctx, req.Origin, summary)
	}
}

// documentFrom projects a normalized record into its stored document shape.
// The engine-owned fields are typed; business fields travel in the opaque
// fields map.
func documentFrom(rec normalize.Record, identity string) store.Document {
	fields := map[string]any{
		"owner":           rec.Owner,
		"status":          rec.Status,
		"condition":       rec.Condition,
		"lifecycleStatus": rec.LifecycleStatus,
	}
	if rec.LastSeen != nil {
		fields["lastSeen"] = rec.LastSeen.UTC().Format(time.RFC3339)
	}
	if rec.Notes != "" {
		fields["notes"] = rec.Notes
	}
	if rec.LastTransfer != nil {
		transfer := map[string]any{}
		if rec.LastTransfer.To != "" {
			transfer["to"] = rec.LastTransfer.To
		}
		if rec.LastTransfer.At != nil {
			transfer["at"] = rec.LastTransfer.At.UTC().Format(time.RFC3339)
		}
		if rec.LastTransfer.Reason != "" {
			transfer["reason"] = rec.LastTransfer.Reason
		}
		fields["lastTransfer"] = transfer
	}
	return store.Document{
		Identity:          identity,
		LegacyIdentity:    rec.LegacyIdentity,
		SchemaVersion:     rec.SchemaVersion,
		ContentHash:       rec.ContentHash,
		DynamicAttributes: rec.DynamicAttributes,
		Fields:            fields,
	}
}

// isTxUnsupported recognises a store that cannot run the batch atomically.
// The typed sentinel is the supported signal; matching driver error text is
// kept only as a compatibility shim for stores that report capability
// lazily through their driver.
func isTxUnsupported(err error) bool {
	if errors.Is(err, syncerrors.ErrTransactionsUnsupported) {
		return true
	}
	return strings.Contains(err.Error(), "Transaction numbers are only allowed on")
}
