package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/swooshie/sheetsync/internal/audit"
	"github.com/swooshie/sheetsync/internal/normalize"
	"github.com/swooshie/sheetsync/internal/registry"
	"github.com/swooshie/sheetsync/internal/sheet"
	"github.com/swooshie/sheetsync/internal/store"
	"github.com/swooshie/sheetsync/internal/upsert"
	syncerrors "github.com/swooshie/sheetsync/pkg/errors"
)

// fakeFetcher returns canned sheet data.
type fakeFetcher struct {
	data *sheet.Data
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context) (*sheet.Data, error) {
	return f.data, f.err
}

// captureSink collects every telemetry record it receives.
type captureSink struct {
	records []*RunTelemetry
}

func (s *captureSink) Record(ctx context.Context, rec *RunTelemetry) {
	s.records = append(s.records, rec)
}

// notifierFunc adapts a function to the Notifier interface.
type notifierFunc func(ctx context.Context, origin string, change *SchemaChange) error

func (f notifierFunc) NotifySchemaChange(ctx context.Context, origin string, change *SchemaChange) error {
	return f(ctx, origin, change)
}

func sheetData(rows ...[]string) *sheet.Data {
	data := &sheet.Data{Headers: []string{"Serial Number", "Owner", "Status"}}
	for i, cells := range rows {
		row := make(sheet.RawRow, len(data.Headers))
		for j, h := range data.Headers {
			if j < len(cells) && cells[j] != "" {
				row[h] = sheet.String(cells[j])
			} else {
				row[h] = sheet.Null()
			}
		}
		data.Rows = append(data.Rows, row)
		data.RowMetadata = append(data.RowMetadata, sheet.RowMetadata{RowNumber: i + 2})
	}
	return data
}

type harness struct {
	store *store.Memory
	sink  *captureSink
	orch  *Orchestrator
}

func newHarness(t *testing.T, fetcher sheet.Fetcher, opts Options, notifier Notifier) *harness {
	t.Helper()
	st := store.NewMemory(true)
	normalizer, err := normalize.New(nil)
	if err != nil {
		t.Fatalf("building normalizer: %v", err)
	}
	sink := &captureSink{}
	opts.Origin = "assets"
	orch := New(Deps{
		Fetcher:    fetcher,
		Gate:       audit.NewGate([]string{"Serial Number"}),
		Normalizer: normalizer,
		Engine:     upsert.New(st, nil),
		Store:      st,
		Versions:   registry.NewVersionCache(nil, st, 0),
		Sink:       sink,
		Notifier:   notifier,
	}, opts)
	return &harness{store: st, sink: sink, orch: orch}
}

func TestRunSuccess(t *testing.T) {
	fetcher := &fakeFetcher{data: sheetData(
		[]string{"SN-1", "Alice", "Active"},
		[]string{"SN-2", "Bob", "Active"},
	)}
	h := newHarness(t, fetcher, Options{}, nil)

	rec, err := h.orch.Run(context.Background(), TriggerManual, time.Now())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rec.Status != StatusSuccess {
		t.Fatalf("status = %q, want success", rec.Status)
	}
	if rec.RowsFetched != 2 || rec.RowsNormalized != 2 {
		t.Errorf("fetched=%d normalized=%d, want 2/2", rec.RowsFetched, rec.RowsNormalized)
	}
	if rec.Upsert == nil || rec.Upsert.Added != 2 {
		t.Fatalf("upsert summary = %+v, want 2 added", rec.Upsert)
	}

	// First run against an empty registry is schema drift; with no channel
	// configured the notification is suppressed, not failed.
	if rec.SchemaChange == nil {
		t.Fatal("schema change not reported on first run")
	}
	if rec.NotificationSuppressed != "no notification channel configured" {
		t.Errorf("suppression = %q", rec.NotificationSuppressed)
	}

	if len(h.sink.records) != 1 {
		t.Fatalf("sink received %d records, want 1", len(h.sink.records))
	}
	docs, _ := h.store.ListPartition(context.Background(), "assets")
	if len(docs) != 2 {
		t.Errorf("partition has %d documents, want 2", len(docs))
	}
}

func TestRunIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{data: sheetData([]string{"SN-1", "Alice", "Active"})}
	h := newHarness(t, fetcher, Options{}, nil)
	ctx := context.Background()

	if _, err := h.orch.Run(ctx, TriggerManual, time.Time{}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	rec, err := h.orch.Run(ctx, TriggerScheduled, time.Time{})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if rec.Upsert.Added != 0 || rec.Upsert.Unchanged != 1 {
		t.Errorf("second run: added=%d unchanged=%d, want 0/1", rec.Upsert.Added, rec.Upsert.Unchanged)
	}
	if rec.SchemaChange != nil {
		t.Errorf("unchanged schema reported drift: %+v", rec.SchemaChange)
	}
}

func TestRunBlockedByAudit(t *testing.T) {
	fetcher := &fakeFetcher{data: sheetData(
		[]string{"SN-1", "Alice", "Active"},
		[]string{"SN-2", "Bob", "Active"},
		[]string{"", "Carol", "Active"},
	)}
	h := newHarness(t, fetcher, Options{}, nil)

	rec, err := h.orch.Run(context.Background(), TriggerManual, time.Time{})
	if err == nil {
		t.Fatal("expected blocked run to return an error")
	}
	if !errors.Is(err, syncerrors.ErrAuditBlocked) {
		t.Errorf("error = %v, want ErrAuditBlocked", err)
	}
	if rec.Status != StatusBlocked {
		t.Errorf("status = %q, want blocked", rec.Status)
	}
	if rec.ErrorKind != "audit_blocked" {
		t.Errorf("error kind = %q", rec.ErrorKind)
	}

	// A blocked run writes nothing, valid rows included.
	docs, _ := h.store.ListPartition(context.Background(), "assets")
	if len(docs) != 0 {
		t.Errorf("blocked run wrote %d documents", len(docs))
	}
	if len(h.sink.records) != 1 {
		t.Errorf("sink received %d records, want 1", len(h.sink.records))
	}
}

func TestRunSkippedOnEmptySheet(t *testing.T) {
	fetcher := &fakeFetcher{data: sheetData()}
	h := newHarness(t, fetcher, Options{}, nil)

	rec, err := h.orch.Run(context.Background(), TriggerScheduled, time.Time{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rec.Status != StatusSkipped {
		t.Errorf("status = %q, want skipped", rec.Status)
	}
	if rec.Upsert != nil {
		t.Errorf("skipped run carries an upsert summary: %+v", rec.Upsert)
	}
}

func TestRunFailsOnFetchError(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("source unreachable")}
	h := newHarness(t, fetcher, Options{}, nil)

	rec, err := h.orch.Run(context.Background(), TriggerScheduled, time.Time{})
	if err == nil {
		t.Fatal("expected run to fail")
	}
	if rec.Status != StatusFailed {
		t.Errorf("status = %q, want failed", rec.Status)
	}
	if rec.ErrorKind != "internal" {
		t.Errorf("error kind = %q, want internal", rec.ErrorKind)
	}
	if len(h.sink.records) != 1 {
		t.Errorf("sink received %d records, want 1", len(h.sink.records))
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	fetcher := &fakeFetcher{data: sheetData([]string{"SN-1", "Alice", "Active"})}
	h := newHarness(t, fetcher, Options{DryRun: true}, nil)

	rec, err := h.orch.Run(context.Background(), TriggerManual, time.Time{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rec.Status != StatusSuccess {
		t.Errorf("status = %q, want success", rec.Status)
	}
	if rec.Upsert == nil || rec.Upsert.Added != 1 {
		t.Fatalf("upsert summary = %+v, want 1 added", rec.Upsert)
	}
	if rec.NotificationSuppressed != "dry-run" {
		t.Errorf("suppression = %q, want dry-run", rec.NotificationSuppressed)
	}

	docs, _ := h.store.ListPartition(context.Background(), "assets")
	if len(docs) != 0 {
		t.Errorf("dry run wrote %d documents", len(docs))
	}
}

func TestRunNotifierDelivery(t *testing.T) {
	fetcher := &fakeFetcher{data: sheetData([]string{"SN-1", "Alice", "Active"})}

	var gotChange *SchemaChange
	notifier := notifierFunc(func(ctx context.Context, origin string, change *SchemaChange) error {
		gotChange = change
		return nil
	})
	h := newHarness(t, fetcher, Options{NotifyWait: time.Second}, notifier)

	rec, err := h.orch.Run(context.Background(), TriggerManual, time.Time{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rec.NotificationSuppressed != "" {
		t.Errorf("delivered notification marked suppressed: %q", rec.NotificationSuppressed)
	}
	if gotChange == nil || len(gotChange.AddedColumns) != 3 {
		t.Errorf("notifier change = %+v, want 3 added columns", gotChange)
	}
}

func TestRunNotifierFailureDoesNotFailRun(t *testing.T) {
	fetcher := &fakeFetcher{data: sheetData([]string{"SN-1", "Alice", "Active"})}
	notifier := notifierFunc(func(ctx context.Context, origin string, change *SchemaChange) error {
		return errors.New("webhook returned 503")
	})
	h := newHarness(t, fetcher, Options{NotifyWait: time.Second}, notifier)

	rec, err := h.orch.Run(context.Background(), TriggerManual, time.Time{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rec.Status != StatusSuccess {
		t.Errorf("status = %q, want success", rec.Status)
	}
	if !strings.HasPrefix(rec.NotificationSuppressed, "delivery failed:") {
		t.Errorf("suppression = %q, want delivery failure reason", rec.NotificationSuppressed)
	}
}

func TestRunPausedNotifications(t *testing.T) {
	fetcher := &fakeFetcher{data: sheetData([]string{"SN-1", "Alice", "Active"})}
	notifier := notifierFunc(func(ctx context.Context, origin string, change *SchemaChange) error {
		t.Error("notifier invoked while paused")
		return nil
	})
	h := newHarness(t, fetcher, Options{PauseNotifications: true}, notifier)

	rec, err := h.orch.Run(context.Background(), TriggerManual, time.Time{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rec.NotificationSuppressed != "notifications paused" {
		t.Errorf("suppression = %q, want notifications paused", rec.NotificationSuppressed)
	}
}

func TestRunRecordsQueueLatency(t *testing.T) {
	fetcher := &fakeFetcher{data: sheetData([]string{"SN-1", "Alice", "Active"})}
	h := newHarness(t, fetcher, Options{}, nil)

	rec, err := h.orch.Run(context.Background(), TriggerScheduled, time.Now().Add(-50*time.Millisecond))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rec.QueueLatencyMs < 50 {
		t.Errorf("queue latency = %dms, want >= 50", rec.QueueLatencyMs)
	}
}
