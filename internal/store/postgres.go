package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/swooshie/sheetsync/internal/registry"
	"github.com/swooshie/sheetsync/pkg/postgres"
)

// Postgres persists documents as JSONB rows keyed by (origin, identity).
//
// It requires these tables:
//
//	CREATE TABLE sheet_records (
//	    origin          TEXT NOT NULL,
//	    identity        TEXT NOT NULL,
//	    legacy_identity TEXT,
//	    schema_version  TEXT,
//	    content_hash    TEXT NOT NULL,
//	    doc             JSONB NOT NULL,
//	    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (origin, identity)
//	);
//
//	CREATE TABLE registry_columns (
//	    origin        TEXT NOT NULL,
//	    column_key    TEXT NOT NULL,
//	    label         TEXT NOT NULL,
//	    display_order INT NOT NULL,
//	    data_type     TEXT NOT NULL,
//	    nullable      BOOLEAN NOT NULL,
//	    deleted_at    TIMESTAMPTZ,
//	    PRIMARY KEY (origin, column_key)
//	);
//
//	CREATE TABLE sync_run_telemetry (
//	    id          BIGSERIAL PRIMARY KEY,
//	    origin      TEXT NOT NULL,
//	    data        JSONB NOT NULL,
//	    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Postgres struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewPostgres creates a Postgres store on the given client.
func NewPostgres(db *postgres.Client) *Postgres {
	return &Postgres{
		db:     db,
		logger: slog.Default().With("component", "postgres-store"),
	}
}

// SupportsTransactions is always true for PostgreSQL.
func (p *Postgres) SupportsTransactions() bool {
	return true
}

func (p *Postgres) FetchExisting(ctx context.Context, origin string, identities []string) (map[string]Document, error) {
	if len(identities) == 0 {
		return map[string]Document{}, nil
	}
	rows, err := p.db.DB.QueryContext(ctx,
		`SELECT doc FROM sheet_records WHERE origin = $1 AND identity = ANY($2)`,
		origin, pq.Array(identities),
	)
	if err != nil {
		return nil, fmt.Errorf("querying existing records: %w", err)
	}
	defer rows.Close()

	found := make(map[string]Document, len(identities))
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("unmarshaling record: %w", err)
		}
		found[doc.Identity] = doc
	}
	return found, rows.Err()
}

func (p *Postgres) ListPartition(ctx context.Context, origin string) ([]Document, error) {
	rows, err := p.db.DB.QueryContext(ctx,
		`SELECT doc FROM sheet_records WHERE origin = $1 ORDER BY identity`,
		origin,
	)
	if err != nil {
		return nil, fmt.Errorf("listing partition %s: %w", origin, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("unmarshaling record: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (p *Postgres) ApplyBatch(ctx context.Context, batch WriteBatch) error {
	return p.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, doc := range batch.Inserts {
			if err := upsertTx(ctx, tx, batch.Origin, doc); err != nil {
				return err
			}
		}
		for _, doc := range batch.Updates {
			if err := upsertTx(ctx, tx, batch.Origin, doc); err != nil {
				return err
			}
		}
		return syncRegistryTx(ctx, tx, batch.Origin, batch.RegistryEntries, batch.RegistryRemovedKeys)
	})
}

func (p *Postgres) Upsert(ctx context.Context, origin string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling record %s: %w", doc.Identity, err)
	}
	_, err = p.db.DB.ExecContext(ctx, upsertQuery,
		origin, doc.Identity, nullableString(doc.LegacyIdentity),
		nullableString(doc.SchemaVersion), doc.ContentHash, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting record %s: %w", doc.Identity, err)
	}
	return nil
}

func (p *Postgres) SyncRegistry(ctx context.Context, origin string, entries []registry.ColumnDescriptor, removedKeys []string) error {
	return p.db.InTx(ctx, func(tx *sql.Tx) error {
		return syncRegistryTx(ctx, tx, origin, entries, removedKeys)
	})
}

func (p *Postgres) ReplacePartition(ctx context.Context, origin string, docs []Document) error {
	return p.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sheet_records WHERE origin = $1`, origin,
		); err != nil {
			return fmt.Errorf("clearing partition %s: %w", origin, err)
		}
		for _, doc := range docs {
			if err := upsertTx(ctx, tx, origin, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) LoadRegistry(ctx context.Context, origin string) ([]registry.ColumnDescriptor, error) {
	rows, err := p.db.DB.QueryContext(ctx,
		`SELECT column_key, label, display_order, data_type, nullable
		 FROM registry_columns
		 WHERE origin = $1 AND deleted_at IS NULL
		 ORDER BY display_order`,
		origin,
	)
	if err != nil {
		return nil, fmt.Errorf("loading registry for %s: %w", origin, err)
	}
	defer rows.Close()

	var entries []registry.ColumnDescriptor
	for rows.Next() {
		var e registry.ColumnDescriptor
		var dataType string
		if err := rows.Scan(&e.Key, &e.Label, &e.DisplayOrder, &dataType, &e.Nullable); err != nil {
			return nil, fmt.Errorf("scanning registry row: %w", err)
		}
		e.DataType = registry.DataType(dataType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *Postgres) RegistryVersion(ctx context.Context, origin string) (string, error) {
	entries, err := p.LoadRegistry(ctx, origin)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	return registry.DeriveVersion(entries), nil
}

func (p *Postgres) SaveTelemetry(ctx context.Context, origin string, payload []byte) error {
	_, err := p.db.DB.ExecContext(ctx,
		`INSERT INTO sync_run_telemetry (origin, data, recorded_at) VALUES ($1, $2, $3)`,
		origin, payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving run telemetry: %w", err)
	}
	return nil
}

const upsertQuery = `
INSERT INTO sheet_records (origin, identity, legacy_identity, schema_version, content_hash, doc, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (origin, identity) DO UPDATE SET
    legacy_identity = EXCLUDED.legacy_identity,
    schema_version  = EXCLUDED.schema_version,
    content_hash    = EXCLUDED.content_hash,
    doc             = EXCLUDED.doc,
    updated_at      = EXCLUDED.updated_at`

func upsertTx(ctx context.Context, tx *sql.Tx, origin string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling record %s: %w", doc.Identity, err)
	}
	_, err = tx.ExecContext(ctx, upsertQuery,
		origin, doc.Identity, nullableString(doc.LegacyIdentity),
		nullableString(doc.SchemaVersion), doc.ContentHash, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting record %s: %w", doc.Identity, err)
	}
	return nil
}

func syncRegistryTx(ctx context.Context, tx *sql.Tx, origin string, entries []registry.ColumnDescriptor, removedKeys []string) error {
	for _, e := range entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO registry_columns (origin, column_key, label, display_order, data_type, nullable, deleted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NULL)
			 ON CONFLICT (origin, column_key) DO UPDATE SET
			     label         = EXCLUDED.label,
			     display_order = EXCLUDED.display_order,
			     data_type     = EXCLUDED.data_type,
			     nullable      = EXCLUDED.nullable,
			     deleted_at    = NULL`,
			origin, e.Key, e.Label, e.DisplayOrder, string(e.DataType), e.Nullable,
		)
		if err != nil {
			return fmt.Errorf("upserting registry column %s: %w", e.Key, err)
		}
	}
	if len(removedKeys) > 0 {
		_, err := tx.ExecContext(ctx,
			`UPDATE registry_columns SET deleted_at = NOW()
			 WHERE origin = $1 AND column_key = ANY($2) AND deleted_at IS NULL`,
			origin, pq.Array(removedKeys),
		)
		if err != nil {
			return fmt.Errorf("soft-deleting registry columns: %w", err)
		}
	}
	return nil
}

// nullableString converts a Go string to a sql.NullString, treating the
// empty string as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
