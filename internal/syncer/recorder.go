package syncer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/swooshie/sheetsync/internal/store"
	"github.com/swooshie/sheetsync/internal/upsert"
)

// UpsertRecorder persists an engine summary as its own telemetry payload.
// Used when the engine runs outside a full orchestration (backfills, ad-hoc
// applies); the orchestrator suppresses it and emits one consolidated record
// per run instead.
type UpsertRecorder struct {
	store  store.Store
	logger *slog.Logger
}

// NewUpsertRecorder creates an UpsertRecorder on the given store.
func NewUpsertRecorder(st store.Store) *UpsertRecorder {
	return &UpsertRecorder{
		store:  st,
		logger: slog.Default().With("component", "upsert-recorder"),
	}
}

func (r *UpsertRecorder) RecordUpsert(ctx context.Context, origin string, summary *upsert.Summary) {
	payload, err := json.Marshal(summary)
	if err != nil {
		r.logger.Error("marshaling upsert summary", "run_id", summary.RunID, "error", err)
		return
	}
	if err := r.store.SaveTelemetry(ctx, origin, payload); err != nil {
		r.logger.Error("persisting upsert summary", "run_id", summary.RunID, "error", err)
	}
}
