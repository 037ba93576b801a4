// Blockaid - Disaster severity scoring and relief fund accountability.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/blockaid/internal/api"
	"github.com/opensource-finance/blockaid/internal/audit"
	"github.com/opensource-finance/blockaid/internal/bus"
	"github.com/opensource-finance/blockaid/internal/cache"
	"github.com/opensource-finance/blockaid/internal/classifier"
	"github.com/opensource-finance/blockaid/internal/config"
	"github.com/opensource-finance/blockaid/internal/domain"
	"github.com/opensource-finance/blockaid/internal/escalation"
	"github.com/opensource-finance/blockaid/internal/event"
	"github.com/opensource-finance/blockaid/internal/fund"
	"github.com/opensource-finance/blockaid/internal/logging"
	"github.com/opensource-finance/blockaid/internal/repository"
	"github.com/opensource-finance/blockaid/internal/rules"
	"github.com/opensource-finance/blockaid/internal/velocity"
	"github.com/opensource-finance/blockaid/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// systemActor owns changes made by the service itself.
const systemActor = "system"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting blockaid",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"classifier_configured", cfg.Classifier.URL != "",
		"escalation", cfg.Escalation.Enabled,
		"tracing", cfg.Tracing.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		logging.Fatalf("failed to initialize repository: %v", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		logging.Fatalf("failed to initialize cache: %v", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		logging.Fatalf("failed to initialize event bus: %v", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	model := classifier.New(cfg.Classifier)
	if cfg.Classifier.URL == "" {
		slog.Warn("no classifier configured, new reports will be refused as unavailable")
	}

	trail := audit.NewTrail(repo)

	engine, err := rules.NewEngine(cfg.Escalation.MaxWorkers)
	if err != nil {
		logging.Fatalf("failed to initialize rule engine: %v", err)
	}
	if err := loadRules(ctx, repo, trail, engine); err != nil {
		logging.Fatalf("failed to load rules: %v", err)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	var escalationWorker *worker.Worker
	if cfg.Escalation.Enabled {
		velocitySvc := velocity.NewService(repo, cacheImpl, cfg.Escalation.VelocityWindow)
		processor := escalation.NewProcessor(cfg.Escalation.AlertThreshold)
		escalationWorker = worker.NewWorker(busImpl, engine, velocitySvc, processor)
		if err := escalationWorker.Start(); err != nil {
			slog.Error("failed to start escalation worker", "error", err)
			escalationWorker = nil
		} else {
			slog.Info("escalation worker started", "threshold", processor.AlertThreshold)
		}
	}

	events := event.NewManager(event.Deps{
		Repo:       repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Classifier: model,
		Trail:      trail,
		EventTTL:   cfg.Cache.EventTTL,
	})
	funds := fund.NewManager(repo, busImpl, trail)

	srv := api.NewServer(cfg.Server, cfg.RateLimit, api.Deps{
		Repo:    repo,
		Cache:   cacheImpl,
		Bus:     busImpl,
		Events:  events,
		Funds:   funds,
		Trail:   trail,
		Engine:  engine,
		Version: Version,
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	slog.Info("blockaid is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-serveErr:
		slog.Error("server failed", "error", err)
	}
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if escalationWorker != nil {
		if err := escalationWorker.Stop(); err != nil {
			slog.Error("failed to stop escalation worker", "error", err)
		}
	}

	slog.Info("blockaid shutdown complete")
}

// loadRules loads the stored escalation rules into the engine. An empty
// store is seeded with the default rule set, audited as the system actor.
func loadRules(ctx context.Context, repo domain.Repository, trail *audit.Trail, engine *rules.Engine) error {
	stored, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}

	if len(stored) == 0 {
		stored = rules.DefaultRules()
		err := repo.WithTx(ctx, func(s domain.Store) error {
			for _, rule := range stored {
				if err := s.SaveRuleConfig(ctx, rule); err != nil {
					return err
				}
				if _, err := trail.AppendIn(ctx, s, audit.Entry{
					Action:     domain.ActionCreateRule,
					EntityType: domain.EntityEscalationRule,
					EntityID:   rule.ID,
					Actor:      systemActor,
					Details:    map[string]any{"version": rule.Version, "seeded": true},
				}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("seed default rules: %w", err)
		}
		slog.Info("seeded default escalation rules", "count", len(stored))
	}

	return engine.LoadRules(stored)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  BLOCKAID")
	fmt.Println("  Disaster severity scoring and relief accountability")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /events              - Report a disaster (multipart)")
	fmt.Println("    GET  /events              - List events")
	fmt.Println("    GET  /events/{id}         - Get event by ID")
	fmt.Println("    POST /events/{id}/verify  - Verify an event")
	fmt.Println("    GET  /events/{id}/funds   - Funds of an event")
	fmt.Println("    POST /funds               - Approve a relief fund")
	fmt.Println("    GET  /funds/{id}          - Get fund by ID")
	fmt.Println("    GET  /audit-logs          - Audit trail")
	fmt.Println("    GET  /rules               - List escalation rules")
	fmt.Println("    POST /rules               - Create an escalation rule")
	fmt.Println("    POST /rules/reload        - Hot-reload rules from database")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println("    GET  /metrics             - Prometheus metrics")
	fmt.Println()
}
