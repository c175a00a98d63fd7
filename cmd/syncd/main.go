// Command syncd runs the sheet-to-store sync service.
//
// On each tick it takes the run lease, fetches the configured sheet,
// audits and normalizes it, and upserts the result into the document store,
// emitting telemetry to PostgreSQL and Kafka and metrics to Prometheus.
//
// Usage:
//
//	go run ./cmd/syncd [-config configs/development.yaml] [-once] [-dry-run]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/swooshie/sheetsync/internal/audit"
	"github.com/swooshie/sheetsync/internal/lease"
	"github.com/swooshie/sheetsync/internal/normalize"
	"github.com/swooshie/sheetsync/internal/registry"
	"github.com/swooshie/sheetsync/internal/sheet"
	"github.com/swooshie/sheetsync/internal/store"
	"github.com/swooshie/sheetsync/internal/syncer"
	"github.com/swooshie/sheetsync/internal/upsert"
	"github.com/swooshie/sheetsync/pkg/config"
	syncerrors "github.com/swooshie/sheetsync/pkg/errors"
	"github.com/swooshie/sheetsync/pkg/kafka"
	"github.com/swooshie/sheetsync/pkg/logger"
	"github.com/swooshie/sheetsync/pkg/metrics"
	"github.com/swooshie/sheetsync/pkg/postgres"
	"github.com/swooshie/sheetsync/pkg/redis"
)

// main loads configuration, wires the store, cache, and telemetry
// collaborators, and drives the scheduler loop until SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single sync and exit")
	dryRun := flag.Bool("dry-run", false, "compute changes without writing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.Sync.DryRun = true
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting sync service",
		"origin", cfg.Sheet.Origin,
		"store", cfg.Store.Driver,
		"dry_run", cfg.Sync.DryRun,
	)

	var st store.Store
	switch cfg.Store.Driver {
	case "postgres":
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		st = store.NewPostgres(db)
		slog.Info("connected to postgres")
	case "memory":
		st = store.NewMemory(true)
		slog.Info("using in-memory store")
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, running without version cache and lease", "error", err)
			rdb = nil
		} else {
			defer rdb.Close()
			slog.Info("connected to redis")
		}
	}

	sinks := syncer.MultiSink{syncer.NewStoreSink(st)}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topics.SyncRuns != "" {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SyncRuns)
		defer producer.Close()
		sinks = append(sinks, syncer.NewKafkaSink(producer))
		slog.Info("kafka telemetry producer initialized", "topic", cfg.Kafka.Topics.SyncRuns)
	}

	normalizer, err := normalize.New(cfg.Sheet.IdentityAliases)
	if err != nil {
		slog.Error("failed to build normalizer", "error", err)
		os.Exit(1)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			mux := http.NewServeMux()
			mux.Handle("GET /metrics", metrics.Handler())
			slog.Info("metrics server listening", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	orch := syncer.New(syncer.Deps{
		Fetcher:    newFetcher(cfg.Sheet),
		Gate:       audit.NewGate(cfg.Sheet.IdentityAliases),
		Normalizer: normalizer,
		Engine:     upsert.New(st, syncer.NewUpsertRecorder(st)).WithMetrics(m),
		Store:      st,
		Versions:   registry.NewVersionCache(rdb, st, cfg.Redis.CacheTTL),
		Sink:       sinks,
		Notifier:   notifierOrNil(cfg),
		Metrics:    m,
	}, syncer.Options{
		Origin:             cfg.Sheet.Origin,
		DryRun:             cfg.Sync.DryRun,
		PauseNotifications: cfg.Sync.PauseNotifications,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		if _, err := runLeased(ctx, orch, rdb, cfg, syncer.TriggerManual); err != nil {
			os.Exit(1)
		}
		return
	}

	ticker := time.NewTicker(cfg.Sync.Interval)
	defer ticker.Stop()
	slog.Info("scheduler started", "interval", cfg.Sync.Interval)
	for {
		select {
		case <-ticker.C:
			runLeased(ctx, orch, rdb, cfg, syncer.TriggerScheduled)
		case <-ctx.Done():
			slog.Info("shutdown signal received")
			return
		}
	}
}

// runLeased takes the run lease (when Redis is available) around one run.
func runLeased(ctx context.Context, orch *syncer.Orchestrator, rdb *redis.Client, cfg *config.Config, trigger syncer.Trigger) (*syncer.RunTelemetry, error) {
	enqueued := time.Now()
	if rdb != nil {
		l, err := lease.Acquire(ctx, rdb, cfg.Sheet.Origin, cfg.Sync.LeaseTTL)
		if err != nil {
			if errors.Is(err, syncerrors.ErrRunInProgress) {
				slog.Info("previous run still holds the lease, skipping tick")
				return nil, nil
			}
			slog.Error("lease acquisition failed", "error", err)
			return nil, err
		}
		defer l.Release(ctx)
	}
	return orch.Run(ctx, trigger, enqueued)
}

func newFetcher(cfg config.SheetConfig) sheet.Fetcher {
	// Only the CSV development source ships in-tree; the remote sheet
	// client is wired in by the deployment.
	return sheet.NewFileSource(cfg.Path)
}

func notifierOrNil(cfg *config.Config) syncer.Notifier {
	n := syncer.NewWebhookNotifier(cfg.Webhook)
	if n == nil {
		return nil
	}
	return n
}
