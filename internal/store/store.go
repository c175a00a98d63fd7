// Package store abstracts the document store the sync pipeline writes to.
// The engine only ever touches identity, legacyIdentity, schemaVersion,
// dynamicAttributes, and contentHash; all other business fields travel as
// opaque passthrough.
package store

import (
	"context"

	"github.com/swooshie/sheetsync/internal/registry"
	"github.com/swooshie/sheetsync/internal/sheet"
)

// Document is one stored entity in a sheet partition.
type Document struct {
	// Identity is the normalized lower-case unique key.
	Identity       string `json:"identity"`
	LegacyIdentity string `json:"legacyIdentity,omitempty"`
	SchemaVersion  string `json:"schemaVersion,omitempty"`
	ContentHash    string `json:"contentHash"`
	// DynamicAttributes is the sparse open-schema map.
	DynamicAttributes map[string]sheet.Value `json:"dynamicAttributes,omitempty"`
	// Fields carries the fixed business fields opaquely.
	Fields map[string]any `json:"fields,omitempty"`
}

// WriteBatch is the full set of writes one run produces: record inserts and
// updates plus the registry synchronization that must land with them.
type WriteBatch struct {
	Origin              string
	SchemaVersion       string
	Inserts             []Document
	Updates             []Document
	RegistryEntries     []registry.ColumnDescriptor
	RegistryRemovedKeys []string
}

// Size returns the number of record writes in the batch.
func (b WriteBatch) Size() int {
	return len(b.Inserts) + len(b.Updates)
}

// Store is the document store contract. ApplyBatch is the atomic path;
// stores that cannot provide multi-document atomicity report
// errors.ErrTransactionsUnsupported (and false from SupportsTransactions)
// and the engine drives the snapshot-guarded fallback through the
// fine-grained operations instead.
type Store interface {
	// SupportsTransactions is the typed capability check for atomic batch
	// application.
	SupportsTransactions() bool

	// FetchExisting loads the stored documents in the partition whose
	// identity is in the given set, in one round trip.
	FetchExisting(ctx context.Context, origin string, identities []string) (map[string]Document, error)

	// ListPartition returns every document in the partition. Used to
	// snapshot before a non-transactional apply.
	ListPartition(ctx context.Context, origin string) ([]Document, error)

	// ApplyBatch applies all record writes and the registry sync as one
	// atomic unit, or returns ErrTransactionsUnsupported.
	ApplyBatch(ctx context.Context, batch WriteBatch) error

	// Upsert inserts or replaces a single document by identity.
	Upsert(ctx context.Context, origin string, doc Document) error

	// SyncRegistry upserts the registry entries and soft-deletes the
	// removed column keys for the origin.
	SyncRegistry(ctx context.Context, origin string, entries []registry.ColumnDescriptor, removedKeys []string) error

	// ReplacePartition restores a partition to an exact prior state:
	// delete-all then bulk reinsert.
	ReplacePartition(ctx context.Context, origin string, docs []Document) error

	// LoadRegistry returns the active (non-deleted) registry entries for
	// the origin, in display order.
	LoadRegistry(ctx context.Context, origin string) ([]registry.ColumnDescriptor, error)

	// RegistryVersion derives the version of the persisted registry, or ""
	// when none is stored.
	RegistryVersion(ctx context.Context, origin string) (string, error)

	// SaveTelemetry appends one immutable run telemetry payload.
	SaveTelemetry(ctx context.Context, origin string, payload []byte) error
}
