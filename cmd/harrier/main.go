// Harrier - Real-time transaction decisioning for payments.
// Copyright (c) 2026 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/aml"
	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/blocklist"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ml"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/velocity"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler
	if os.Getenv("HARRIER_LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.NewRepository(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine
	engine, err := rules.NewEngine(repo, 100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Load rules from database (no hardcoded defaults - configure via API)
	if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize collaborators
	blockChecker := blocklist.NewChecker(repo, cacheImpl, logger)
	velocityScorer := velocity.NewScorer(cacheImpl, logger)
	amlAnalyzer := aml.NewAnalyzer(repo, cfg.AML, logger)

	var mlScorer domain.MLScorer
	if cfg.ML.Endpoint != "" {
		client := ml.NewClient(cfg.ML)
		mlScorer = client
		slog.Info("ml collaborator enabled", "endpoint", cfg.ML.Endpoint)
	} else {
		slog.Info("ml collaborator disabled - set HARRIER_ML_ENDPOINT to enable")
	}

	// Initialize Decision Engine and Pipeline
	decider := decision.NewEngine(cfg.Decision)
	pipe := pipeline.New(repo, engine, blockChecker, decider, pipeline.Options{
		Bus:             busImpl,
		Velocity:        velocityScorer,
		ML:              mlScorer,
		AML:             amlAnalyzer,
		VelocityTimeout: cfg.Velocity.Timeout,
		MLTimeout:       cfg.ML.Timeout,
		Logger:          logger,
	})
	slog.Info("decision pipeline initialized",
		"reject_threshold", cfg.Decision.RejectThreshold,
		"review_threshold", cfg.Decision.ReviewThreshold,
	)

	// Initialize async ingestion worker
	ingestTenant := os.Getenv("HARRIER_TENANT")
	if ingestTenant == "" {
		ingestTenant = "default"
	}
	asyncWorker := pipeline.NewWorker(busImpl, pipe, ingestTenant, logger)
	if err := asyncWorker.Start(ctx); err != nil {
		slog.Error("failed to start ingestion worker", "error", err)
	} else {
		slog.Info("ingestion worker started", "default_tenant", ingestTenant)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, pipe, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the ingestion worker first so in-flight transactions drain
	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop ingestion worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// applyEnvOverrides layers HARRIER_* environment variables over the tier
// defaults, so a single container image serves every deployment shape.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("HARRIER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		} else {
			slog.Warn("ignoring invalid HARRIER_PORT", "value", v)
		}
	}
	if v := os.Getenv("HARRIER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("HARRIER_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("HARRIER_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("HARRIER_PG_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("HARRIER_PG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Repository.PostgresPort = port
		}
	}
	if v := os.Getenv("HARRIER_PG_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("HARRIER_PG_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("HARRIER_PG_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("HARRIER_REDIS_ADDR"); v != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("HARRIER_NATS_URL"); v != "" {
		cfg.EventBus.Type = "nats"
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("HARRIER_ML_ENDPOINT"); v != "" {
		cfg.ML.Endpoint = v
	}
	if v := os.Getenv("HARRIER_LOOKBACK_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.AML.LookbackDays = days
		}
	}
}

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// loadRulesFromDatabase loads active rules from the database into the
// engine. All rules must be configured via POST /rules - no hardcoded
// defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListActiveRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 HARRIER                  ║")
	fmt.Println("  ║     Transaction Decisioning Engine        ║")
	fmt.Println("  ║      Every payment, decided in-flight.    ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /decide                  - Decision a transaction synchronously")
	fmt.Println("    POST /transactions            - Queue a transaction for async decisioning")
	fmt.Println("    GET  /transactions/{id}       - Get transaction by ID")
	fmt.Println("    GET  /decisions/{id}          - Get decision by ID")
	fmt.Println("    GET  /decisions/by-transaction/{txId} - Get decision by transaction")
	fmt.Println("    GET  /rules                   - List all rules")
	fmt.Println("    POST /rules                   - Create a new rule")
	fmt.Println("    POST /rules/validate          - Validate a rule condition")
	fmt.Println("    POST /rules/reload            - Hot-reload rules from database")
	fmt.Println("    GET  /patterns?entity=...     - List detected laundering patterns")
	fmt.Println("    POST /blocklist               - Add a blocklist entry")
	fmt.Println("    DELETE /blocklist/{type}/{value} - Remove a blocklist entry")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println("    GET  /ready                   - Readiness check")
	fmt.Println()
}
