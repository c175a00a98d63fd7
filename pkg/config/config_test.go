package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("store driver = %q, want postgres", cfg.Store.Driver)
	}
	if cfg.Sheet.Origin != "assets" {
		t.Errorf("origin = %q, want assets", cfg.Sheet.Origin)
	}
	if cfg.Sync.Interval != 15*time.Minute {
		t.Errorf("interval = %v, want 15m", cfg.Sync.Interval)
	}
	if len(cfg.Sheet.IdentityAliases) == 0 {
		t.Error("no default identity aliases")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
store:
  driver: memory
sheet:
  origin: lab-equipment
  identityAliases: ["Device ID"]
sync:
  interval: 5m
  dryRun: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("store driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Sheet.Origin != "lab-equipment" {
		t.Errorf("origin = %q", cfg.Sheet.Origin)
	}
	if cfg.Sync.Interval != 5*time.Minute || !cfg.Sync.DryRun {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	// Untouched sections keep their defaults.
	if cfg.Postgres.Port != 5432 {
		t.Errorf("postgres port = %d, want default 5432", cfg.Postgres.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SY_STORE_DRIVER", "memory")
	t.Setenv("SY_SHEET_ORIGIN", "warehouse")
	t.Setenv("SY_SYNC_DRY_RUN", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("store driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Sheet.Origin != "warehouse" {
		t.Errorf("origin = %q, want warehouse", cfg.Sheet.Origin)
	}
	if !cfg.Sync.DryRun {
		t.Error("dry run override not applied")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", "store:\n  driver: cassandra\n"},
		{"empty origin", "sheet:\n  origin: \"\"\n"},
		{"no identity aliases", "sheet:\n  identityAliases: []\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("writing config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{
		Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "disable",
	}
	want := "host=db port=5433 user=u password=p dbname=d sslmode=disable"
	if got := p.DSN(); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}
