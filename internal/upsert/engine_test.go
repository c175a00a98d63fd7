package upsert

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/swooshie/sheetsync/internal/normalize"
	"github.com/swooshie/sheetsync/internal/registry"
	"github.com/swooshie/sheetsync/internal/store"
	syncerrors "github.com/swooshie/sheetsync/pkg/errors"
)

func makeRecord(identity, owner string) normalize.Record {
	rec := normalize.Record{
		Identity:        identity,
		SheetOrigin:     "assets",
		Owner:           owner,
		Status:          "Active",
		Condition:       "Good",
		LifecycleStatus: "Deployed",
		SchemaVersion:   "v-000000000000",
	}
	rec.ContentHash = normalize.ContentHash(&rec)
	return rec
}

func makeRecords(n int) []normalize.Record {
	recs := make([]normalize.Record, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, makeRecord(fmt.Sprintf("asset-%d", i), "Alice"))
	}
	return recs
}

func TestApplyThenReapplyIsIdempotent(t *testing.T) {
	st := store.NewMemory(true)
	engine := New(st, nil)
	req := Request{
		RunID:   "run-1",
		Origin:  "assets",
		Records: makeRecords(3),
	}

	first, err := engine.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if first.Added != 3 || first.Updated != 0 || first.Unchanged != 0 {
		t.Fatalf("first apply: added=%d updated=%d unchanged=%d, want 3/0/0",
			first.Added, first.Updated, first.Unchanged)
	}

	req.RunID = "run-2"
	second, err := engine.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if second.Added != 0 || second.Updated != 0 || second.Unchanged != 3 {
		t.Fatalf("second apply: added=%d updated=%d unchanged=%d, want 0/0/3",
			second.Added, second.Updated, second.Unchanged)
	}
}

func TestApplyDetectsUpdates(t *testing.T) {
	st := store.NewMemory(true)
	engine := New(st, nil)
	ctx := context.Background()

	if _, err := engine.Apply(ctx, Request{Origin: "assets", Records: []normalize.Record{makeRecord("asset-1", "Alice")}}); err != nil {
		t.Fatalf("seed apply failed: %v", err)
	}

	changed := makeRecord("asset-1", "Bob")
	summary, err := engine.Apply(ctx, Request{Origin: "assets", Records: []normalize.Record{changed}})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if summary.Updated != 1 || summary.Added != 0 || summary.Unchanged != 0 {
		t.Fatalf("added=%d updated=%d unchanged=%d, want 0/1/0",
			summary.Added, summary.Updated, summary.Unchanged)
	}

	docs, err := st.ListPartition(ctx, "assets")
	if err != nil {
		t.Fatalf("listing partition: %v", err)
	}
	if len(docs) != 1 || docs[0].Fields["owner"] != "Bob" {
		t.Errorf("stored document not updated: %+v", docs)
	}
}

func TestApplyTracksLegacyIdentityChanges(t *testing.T) {
	st := store.NewMemory(true)
	engine := New(st, nil)
	ctx := context.Background()

	seed := makeRecord("asset-1", "Alice")
	seed.LegacyIdentity = "old-1"
	seed.ContentHash = normalize.ContentHash(&seed)
	if _, err := engine.Apply(ctx, Request{Origin: "assets", Records: []normalize.Record{seed}}); err != nil {
		t.Fatalf("seed apply failed: %v", err)
	}

	moved := makeRecord("asset-1", "Alice")
	moved.LegacyIdentity = "old-2"
	moved.ContentHash = normalize.ContentHash(&moved)
	summary, err := engine.Apply(ctx, Request{Origin: "assets", Records: []normalize.Record{moved}})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if summary.LegacyIdentityChanges != 1 {
		t.Errorf("legacy identity changes = %d, want 1", summary.LegacyIdentityChanges)
	}
}

func TestApplyConflictsAndBlanks(t *testing.T) {
	st := store.NewMemory(true)
	engine := New(st, nil)

	records := []normalize.Record{
		makeRecord("x-1", "Alice"),
		makeRecord("X-1", "Bob"), // same identity modulo case
		makeRecord("", "Carol"),
	}
	summary, err := engine.Apply(context.Background(), Request{Origin: "assets", Records: records})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if summary.Added != 1 {
		t.Errorf("added = %d, want 1", summary.Added)
	}
	if summary.Conflicts != 1 {
		t.Errorf("conflicts = %d, want 1", summary.Conflicts)
	}
	if summary.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", summary.Skipped)
	}
	if len(summary.Anomalies) != 2 {
		t.Errorf("anomalies = %v, want 2 entries", summary.Anomalies)
	}

	// First occurrence wins.
	docs, _ := st.ListPartition(context.Background(), "assets")
	if len(docs) != 1 || docs[0].Fields["owner"] != "Alice" {
		t.Errorf("stored docs = %+v, want single record owned by Alice", docs)
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	st := store.NewMemory(true)
	engine := New(st, nil)

	summary, err := engine.Apply(context.Background(), Request{
		RunID:             "run-dry",
		Origin:            "assets",
		Records:           makeRecords(2),
		DryRun:            true,
		SuppressTelemetry: true,
	})
	if err != nil {
		t.Fatalf("dry-run apply failed: %v", err)
	}
	if summary.Added != 2 {
		t.Errorf("added = %d, want 2", summary.Added)
	}
	if !summary.DryRun {
		t.Error("summary not marked dry-run")
	}

	docs, err := st.ListPartition(context.Background(), "assets")
	if err != nil {
		t.Fatalf("listing partition: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("dry run wrote %d documents", len(docs))
	}
	if st.TelemetryCount("assets") != 0 {
		t.Error("dry run persisted telemetry")
	}
}

func TestFallbackPathOnNonTransactionalStore(t *testing.T) {
	st := store.NewMemory(false)
	engine := New(st, nil)

	summary, err := engine.Apply(context.Background(), Request{Origin: "assets", Records: makeRecords(3)})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if summary.Transactional {
		t.Error("summary reports transactional apply on a non-transactional store")
	}
	docs, _ := st.ListPartition(context.Background(), "assets")
	if len(docs) != 3 {
		t.Errorf("partition has %d documents, want 3", len(docs))
	}
}

func TestLazyTransactionRefusalFallsBack(t *testing.T) {
	// A store that claims transaction support but refuses at apply time must
	// be retried through the fallback path, not failed.
	st := &lyingStore{Memory: store.NewMemory(false)}
	engine := New(st, nil)

	summary, err := engine.Apply(context.Background(), Request{Origin: "assets", Records: makeRecords(2)})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if summary.Transactional {
		t.Error("summary still reports transactional after fallback")
	}
	docs, _ := st.ListPartition(context.Background(), "assets")
	if len(docs) != 2 {
		t.Errorf("partition has %d documents, want 2", len(docs))
	}
}

func TestFallbackRollbackRestoresSnapshot(t *testing.T) {
	st := &failingStore{Memory: store.NewMemory(false), failAtCall: 4}
	engine := New(st, nil)
	ctx := context.Background()

	// Seed two records outside the failing window.
	seed := []store.Document{
		{Identity: "seed-1", ContentHash: "h1"},
		{Identity: "seed-2", ContentHash: "h2"},
	}
	if err := st.ReplacePartition(ctx, "assets", seed); err != nil {
		t.Fatalf("seeding partition: %v", err)
	}
	st.calls = 0

	_, err := engine.Apply(ctx, Request{RunID: "run-rb", Origin: "assets", Records: makeRecords(5)})
	if err == nil {
		t.Fatal("expected apply to fail")
	}
	if kind := syncerrors.Kind(err); kind != "write_failure" {
		t.Errorf("error kind = %q, want write_failure", kind)
	}

	docs, listErr := st.ListPartition(ctx, "assets")
	if listErr != nil {
		t.Fatalf("listing partition: %v", listErr)
	}
	if len(docs) != len(seed) {
		t.Fatalf("partition has %d documents after rollback, want %d", len(docs), len(seed))
	}
	for i, doc := range docs {
		if doc.Identity != seed[i].Identity || doc.ContentHash != seed[i].ContentHash {
			t.Errorf("document %d = %+v, want %+v", i, doc, seed[i])
		}
	}
}

func TestFetchExistingFailureIsWriteFailure(t *testing.T) {
	st := &failingStore{Memory: store.NewMemory(true), failFetch: true}
	engine := New(st, nil)

	_, err := engine.Apply(context.Background(), Request{Origin: "assets", Records: makeRecords(1)})
	if err == nil {
		t.Fatal("expected apply to fail")
	}
	if !errors.Is(err, syncerrors.ErrWriteFailure) {
		t.Errorf("error = %v, want ErrWriteFailure", err)
	}
}

func TestRecorderSuppression(t *testing.T) {
	var recorded int
	rec := recorderFunc(func(ctx context.Context, origin string, s *Summary) { recorded++ })
	engine := New(store.NewMemory(true), rec)
	ctx := context.Background()

	if _, err := engine.Apply(ctx, Request{Origin: "assets", Records: makeRecords(1)}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if recorded != 1 {
		t.Fatalf("recorder invoked %d times, want 1", recorded)
	}

	if _, err := engine.Apply(ctx, Request{Origin: "assets", Records: makeRecords(1), SuppressTelemetry: true}); err != nil {
		t.Fatalf("suppressed apply failed: %v", err)
	}
	if recorded != 1 {
		t.Errorf("recorder invoked %d times after suppressed apply, want still 1", recorded)
	}
}

func TestRegistrySyncedWithBatch(t *testing.T) {
	st := store.NewMemory(true)
	engine := New(st, nil)
	ctx := context.Background()

	entries := []registry.ColumnDescriptor{
		{Key: "serial_number", Label: "Serial Number", DisplayOrder: 0, DataType: registry.TypeString},
		{Key: "owner", Label: "Owner", DisplayOrder: 1, DataType: registry.TypeString},
	}
	_, err := engine.Apply(ctx, Request{
		Origin:          "assets",
		Records:         makeRecords(1),
		RegistryEntries: entries,
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	stored, err := st.LoadRegistry(ctx, "assets")
	if err != nil {
		t.Fatalf("loading registry: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("registry has %d entries, want 2", len(stored))
	}
}

// recorderFunc adapts a function to the Recorder interface.
type recorderFunc func(ctx context.Context, origin string, summary *Summary)

func (f recorderFunc) RecordUpsert(ctx context.Context, origin string, summary *Summary) {
	f(ctx, origin, summary)
}

// failingStore wraps Memory and injects failures: FetchExisting when
// failFetch is set, or the Nth Upsert call when failAtCall is positive.
type failingStore struct {
	*store.Memory
	failFetch  bool
	failAtCall int
	calls      int
}

func (s *failingStore) FetchExisting(ctx context.Context, origin string, identities []string) (map[string]store.Document, error) {
	if s.failFetch {
		return nil, errors.New("connection reset by peer")
	}
	return s.Memory.FetchExisting(ctx, origin, identities)
}

func (s *failingStore) Upsert(ctx context.Context, origin string, doc store.Document) error {
	s.calls++
	if s.failAtCall > 0 && s.calls >= s.failAtCall {
		return errors.New("disk full")
	}
	return s.Memory.Upsert(ctx, origin, doc)
}

// lyingStore advertises transaction support but refuses atomic batches.
type lyingStore struct {
	*store.Memory
}

func (s *lyingStore) SupportsTransactions() bool { return true }
