// Command warroom runs the war room session backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/war-room/internal/api"
	"github.com/talgya/war-room/internal/config"
	"github.com/talgya/war-room/internal/engine"
	"github.com/talgya/war-room/internal/metrics"
	"github.com/talgya/war-room/internal/notify"
	"github.com/talgya/war-room/internal/persistence"
	"github.com/talgya/war-room/internal/registry"
)

var version = "dev"

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	slog.Info("War Room session backend", "version", version)

	if err := run(cfg); err != nil {
		slog.Error("warroom stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	// ── Scenarios ─────────────────────────────────────────────────────
	scenarios, err := registry.New()
	if err != nil {
		return err
	}
	if cfg.ScenarioDir != "" {
		if err := scenarios.LoadDir(cfg.ScenarioDir); err != nil {
			return err
		}
	}
	gen := registry.DefaultGenConfig()
	gen.Seed = cfg.SkirmishSeed
	skirmish, err := registry.Generate(gen)
	if err != nil {
		return fmt.Errorf("generate skirmish: %w", err)
	}
	scenarios.Register(skirmish)

	for _, sc := range scenarios.List() {
		if err := db.SeedTerritories(ctx, sc.Code, sc.Territories); err != nil {
			return fmt.Errorf("seed %s territories: %w", sc.Code, err)
		}
		slog.Info("scenario loaded",
			"code", sc.Code,
			"nations", len(sc.Nations),
			"territories", humanize.Comma(int64(len(sc.Territories))),
		)
	}

	// ── Engine ────────────────────────────────────────────────────────
	readiness, err := engine.ParseReadinessRule(cfg.ReadinessRule)
	if err != nil {
		return err
	}
	hub := notify.NewHub(cfg.CORSOrigins...)
	eng := engine.New(db, scenarios)
	eng.Notifier = hub
	eng.Readiness = readiness
	slog.Info("engine ready", "readiness", readiness)

	// ── HTTP API ──────────────────────────────────────────────────────
	limiter := api.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	srv := &api.Server{
		Engine:      eng,
		Scenarios:   scenarios,
		Hub:         hub,
		Limiter:     limiter,
		Addr:        cfg.HTTPAddr,
		CORSOrigins: cfg.CORSOrigins,
		Version:     version,
	}
	if cfg.Metrics {
		collector := metrics.NewCollector()
		eng.Metrics = collector
		srv.Metrics = collector
		srv.MetricsHandler = collector.Handler()
	} else {
		slog.Warn("metrics disabled, /metrics will not be served")
	}

	// ── Start ─────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				limiter.Cleanup()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("closing streams", "dropped_events", hub.Dropped())
		hub.Close()
		return nil
	})

	fmt.Printf("\nWar Room is listening on %s with %d scenarios.\n", cfg.HTTPAddr, len(scenarios.List()))
	fmt.Printf("API: http://localhost%s/api/v1/status\n", cfg.HTTPAddr)

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}
