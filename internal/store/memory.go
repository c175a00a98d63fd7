package store

import (
	"context"
	"sort"
	"sync"

	"github.com/swooshie/sheetsync/internal/registry"
	syncerrors "github.com/swooshie/sheetsync/pkg/errors"
)

// Memory is an in-process Store used for smoke runs, local development, and
// tests. Transaction support is configurable so the engine's fallback path
// can be exercised against a store that genuinely refuses atomic batches.
type Memory struct {
	mu           sync.Mutex
	transactions bool
	partitions   map[string]map[string]Document
	registries   map[string][]registry.ColumnDescriptor
	telemetry    map[string][][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory(transactions bool) *Memory {
	return &Memory{
		transactions: transactions,
		partitions:   make(map[string]map[string]Document),
		registries:   make(map[string][]registry.ColumnDescriptor),
		telemetry:    make(map[string][][]byte),
	}
}

func (m *Memory) SupportsTransactions() bool {
	return m.transactions
}

func (m *Memory) FetchExisting(ctx context.Context, origin string, identities []string) (map[string]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	partition := m.partitions[origin]
	found := make(map[string]Document, len(identities))
	for _, id := range identities {
		if doc, ok := partition[id]; ok {
			found[id] = doc
		}
	}
	return found, nil
}

func (m *Memory) ListPartition(ctx context.Context, origin string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	partition := m.partitions[origin]
	docs := make([]Document, 0, len(partition))
	for _, doc := range partition {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Identity < docs[j].Identity })
	return docs, nil
}

func (m *Memory) ApplyBatch(ctx context.Context, batch WriteBatch) error {
	if !m.transactions {
		return syncerrors.New(syncerrors.ErrTransactionsUnsupported, "",
			"memory store created without transaction support")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	partition := m.partition(batch.Origin)
	for _, doc := range batch.Inserts {
		partition[doc.Identity] = doc
	}
	for _, doc := range batch.Updates {
		partition[doc.Identity] = doc
	}
	m.syncRegistryLocked(batch.Origin, batch.RegistryEntries, batch.RegistryRemovedKeys)
	return nil
}

func (m *Memory) Upsert(ctx context.Context, origin string, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partition(origin)[doc.Identity] = doc
	return nil
}

func (m *Memory) SyncRegistry(ctx context.Context, origin string, entries []registry.ColumnDescriptor, removedKeys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncRegistryLocked(origin, entries, removedKeys)
	return nil
}

func (m *Memory) ReplacePartition(ctx context.Context, origin string, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	partition := make(map[string]Document, len(docs))
	for _, doc := range docs {
		partition[doc.Identity] = doc
	}
	m.partitions[origin] = partition
	return nil
}

func (m *Memory) LoadRegistry(ctx context.Context, origin string) ([]registry.ColumnDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]registry.ColumnDescriptor, len(m.registries[origin]))
	copy(entries, m.registries[origin])
	return entries, nil
}

func (m *Memory) RegistryVersion(ctx context.Context, origin string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.registries[origin]
	if len(entries) == 0 {
		return "", nil
	}
	return registry.DeriveVersion(entries), nil
}

func (m *Memory) SaveTelemetry(ctx context.Context, origin string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetry[origin] = append(m.telemetry[origin], payload)
	return nil
}

// TelemetryCount reports how many telemetry payloads have been saved for the
// origin.
func (m *Memory) TelemetryCount(origin string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.telemetry[origin])
}

func (m *Memory) partition(origin string) map[string]Document {
	if m.partitions[origin] == nil {
		m.partitions[origin] = make(map[string]Document)
	}
	return m.partitions[origin]
}

func (m *Memory) syncRegistryLocked(origin string, entries []registry.ColumnDescriptor, removedKeys []string) {
	if len(entries) == 0 && len(removedKeys) == 0 {
		return
	}
	removed := make(map[string]bool, len(removedKeys))
	for _, k := range removedKeys {
		removed[k] = true
	}
	next := make([]registry.ColumnDescriptor, 0, len(entries))
	for _, e := range entries {
		if !removed[e.Key] {
			next = append(next, e)
		}
	}
	sort.Slice(next, func(i, j int) bool { return next[i].DisplayOrder < next[j].DisplayOrder })
	m.registries[origin] = next
}
