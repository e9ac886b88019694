package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/memoryd/memoryd/internal/audit"
	"github.com/memoryd/memoryd/internal/config"
	"github.com/memoryd/memoryd/internal/consolidate"
	"github.com/memoryd/memoryd/internal/embedder"
	"github.com/memoryd/memoryd/internal/extractor"
	"github.com/memoryd/memoryd/internal/health"
	"github.com/memoryd/memoryd/internal/recall"
	"github.com/memoryd/memoryd/internal/remember"
	"github.com/memoryd/memoryd/internal/scheduler"
	"github.com/memoryd/memoryd/internal/store"
	"github.com/memoryd/memoryd/internal/vault"
	"github.com/memoryd/memoryd/internal/verify"
)

// engine bundles every component a CLI command needs, wired the same way regardless of
// which subcommand is running.
type engine struct {
	store       *store.Store
	embedder    *embedder.Embedder
	auditLog    *audit.Log
	remember    *remember.Engine
	recall      *recall.Engine
	consolidate *consolidate.Engine
	verify      *verify.Engine
	vault       vault.Adapter
	scheduler   *scheduler.Scheduler
	health      *health.Checker
	log         *slog.Logger
}

// defaultDatabasePath computes the "~/.claudia/memory/<project_hash>.db" layout,
// project_hash being the first 12 hex chars of SHA-256 of the project directory path.
func defaultDatabasePath() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve project directory: %w", err)
	}
	sum := sha256.Sum256([]byte(cwd))
	hash := hex.EncodeToString(sum[:])[:12]

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".claudia", "memory")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create memory directory: %w", err)
	}
	return filepath.Join(dir, hash+".db"), nil
}

// openEngine wires every component against the resolved database path, following the
// config-read-once-at-startup model.
func openEngine(ctx context.Context, log *slog.Logger) (*engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := config.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize config: %w", err)
	}
	config.LogOverrides(log)

	dbPath, err := defaultDatabasePath()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, dbPath, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	emb, err := embedder.New(st, config.GetString("embedding_host"), config.GetString("embedding_model"),
		config.GetInt("embedding_dim"), config.GetInt("embedding_cache_capacity"), log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	auditLog := audit.New(st)
	pipeline := extractor.NewPipeline(config.GetString("language_model"), log)
	rememberEngine := remember.New(st, emb, pipeline, auditLog, log)
	recallEngine := recall.New(st, emb, log)

	var improver *consolidate.Improver
	var checker verify.ConsistencyChecker
	if apiKey := config.GetString("language_model"); apiKey != "" {
		if imp, err := consolidate.NewImprover(st, auditLog, ""); err == nil {
			improver = imp
		} else {
			log.Warn("LLM improver unavailable, consolidation will skip improvement/prediction steps", "error", err)
		}
		if hc, err := verify.NewHaikuChecker(""); err == nil {
			checker = hc
		} else {
			log.Warn("LLM consistency checker unavailable, verify will run deterministic checks only", "error", err)
		}
	}

	consolidateCfg := consolidate.Config{
		DecayRateDaily:           config.GetFloat64("decay_rate_daily"),
		MinImportanceThreshold:   config.GetFloat64("min_importance_threshold"),
		SimilarityMergeThreshold: config.GetFloat64("similarity_merge_threshold"),
		EnableMemoryMerging:      config.GetBool("enable_memory_merging"),
	}
	consolidateEngine := consolidate.New(st, emb, improver, consolidateCfg, log)

	verifyCfg := verify.Config{
		BatchSize: config.GetInt("verify_batch_size"),
		MinAge:    verify.DefaultConfig().MinAge,
	}
	verifyEngine := verify.New(st, auditLog, checker, verifyCfg, log)

	var vaultAdapter vault.Adapter
	if dir := config.GetString("vault_dir"); dir != "" {
		ma, err := vault.NewMarkdownAdapter(st, dir, log)
		if err != nil {
			log.Warn("vault adapter unavailable, vault_sync will not run", "error", err)
		} else {
			vaultAdapter = ma
		}
	}

	sched := scheduler.New(log)
	healthChecker := health.New(st, emb, sched, log)

	return &engine{
		store:       st,
		embedder:    emb,
		auditLog:    auditLog,
		remember:    rememberEngine,
		recall:      recallEngine,
		consolidate: consolidateEngine,
		verify:      verifyEngine,
		vault:       vaultAdapter,
		scheduler:   sched,
		health:      healthChecker,
		log:         log,
	}, nil
}

// registerJobs wires the scheduler's four jobs against this engine's concrete
// components, translating Vault's (int, error) Sync into the scheduler's bare JobFunc.
// vault_sync is registered unconditionally: when no vault is configured it runs a no-op,
// so the scheduler's job-id set is always the same four names.
func (e *engine) registerJobs() error {
	vaultSync := scheduler.JobFunc(func(ctx context.Context) error { return nil })
	if e.vault != nil {
		vaultSync = func(ctx context.Context) error {
			_, err := e.vault.Sync(ctx)
			return err
		}
	}
	patternInterval := time.Duration(config.GetInt("verify_interval_minutes")) * time.Minute
	return scheduler.RegisterDefaultJobsWithIntervals(e.scheduler,
		func(ctx context.Context) error { return e.consolidate.RunDecay(ctx) },
		func(ctx context.Context) error { _, err := e.verify.RunBatch(ctx); return err },
		func(ctx context.Context) error { return e.consolidate.RunDecay(ctx) },
		vaultSync,
		patternInterval, 0,
	)
}

func (e *engine) close() {
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
	if e.store != nil {
		e.store.Close()
	}
}
