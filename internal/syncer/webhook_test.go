package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/swooshie/sheetsync/pkg/config"
)

func TestWebhookNotifierPostsChange(t *testing.T) {
	var got struct {
		Origin string        `json:"origin"`
		Change *SchemaChange `json:"change"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(config.WebhookConfig{URL: srv.URL, Timeout: time.Second})
	if n == nil {
		t.Fatal("notifier is nil for a configured URL")
	}

	change := &SchemaChange{
		PreviousVersion: "v-aaa",
		CurrentVersion:  "v-bbb",
		AddedColumns:    []string{"Location"},
	}
	if err := n.NotifySchemaChange(context.Background(), "assets", change); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if got.Origin != "assets" {
		t.Errorf("origin = %q", got.Origin)
	}
	if got.Change == nil || got.Change.CurrentVersion != "v-bbb" {
		t.Errorf("change = %+v", got.Change)
	}
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(config.WebhookConfig{URL: srv.URL, Timeout: time.Second})
	err := n.NotifySchemaChange(context.Background(), "assets", &SchemaChange{})
	if err == nil {
		t.Error("expected error for non-2xx response")
	}
}

func TestWebhookNotifierNilWhenUnconfigured(t *testing.T) {
	if n := NewWebhookNotifier(config.WebhookConfig{}); n != nil {
		t.Error("notifier created without a URL")
	}
}
