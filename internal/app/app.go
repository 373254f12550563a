// Package app wires the configured components into one application
// handle shared by the CLI commands and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/opensource-finance/kite/internal/alerts"
	"github.com/opensource-finance/kite/internal/audit"
	"github.com/opensource-finance/kite/internal/bus"
	"github.com/opensource-finance/kite/internal/cache"
	"github.com/opensource-finance/kite/internal/config"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/evaluate"
	"github.com/opensource-finance/kite/internal/ingest"
	"github.com/opensource-finance/kite/internal/network"
	"github.com/opensource-finance/kite/internal/reproduce"
	"github.com/opensource-finance/kite/internal/repository"
	"github.com/opensource-finance/kite/internal/rules"
	"github.com/opensource-finance/kite/internal/scoring"
	"github.com/opensource-finance/kite/internal/version"
)

// App holds all long-lived components of one process.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store *repository.Store
	Chain *audit.Chain
	Cache domain.Cache
	Bus   domain.EventBus

	Ingestor *ingest.Ingestor
	Alerts   *alerts.Service
	Network  *network.Builder
	Bundles  *reproduce.Builder

	configHash string
}

// New builds the application from resolved configuration.
func New(cfg *config.Config) (*App, error) {
	logger := NewLogger(cfg.Logging)

	store, err := repository.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	c, err := cache.New(cfg.Cache)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create cache: %w", err)
	}

	b, err := bus.New(cfg.EventBus)
	if err != nil {
		c.Close()
		store.Close()
		return nil, fmt.Errorf("create event bus: %w", err)
	}

	chain := audit.NewChain(store)
	a := &App{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Chain:      chain,
		Cache:      c,
		Bus:        b,
		Ingestor:   ingest.New(store, chain, cfg.Ingest, logger),
		Alerts:     alerts.NewService(store, chain, logger),
		Network:    network.NewBuilder(store, chain, logger),
		Bundles:    reproduce.NewBuilder(store, chain, cfg, logger),
		configHash: cfg.Hash(),
	}
	return a, nil
}

// RunContext builds the run context for one invocation.
func (a *App) RunContext(correlationID, actor string) domain.RunContext {
	return domain.NewRunContext(correlationID, actor, a.configHash, version.RulesVersion, version.EngineVersion)
}

// ConfigHash returns the fingerprint of the resolved configuration.
func (a *App) ConfigHash() string {
	return a.configHash
}

// NewEvaluator builds a fresh evaluator over the shared store. Rule
// state (network-ring dedup) lives in the rule set, so every run gets
// its own.
func (a *App) NewEvaluator() (*evaluate.Evaluator, error) {
	history := rules.HistoryReader(a.Store)
	if a.Config.Cache.Type != "none" && a.Config.Cache.Type != "" {
		ttl := time.Duration(a.Config.Cache.TTLSeconds) * time.Second
		history = rules.NewCachedHistory(a.Store, a.Cache, ttl)
	}

	set, err := rules.BuildSet(a.Config.Rules, history, a.Store)
	if err != nil {
		return nil, fmt.Errorf("build rule set: %w", err)
	}

	params := scoring.Params{
		MaxScore:        a.Config.Scoring.MaxScore,
		LowThreshold:    a.Config.Scoring.LowThreshold,
		MediumThreshold: a.Config.Scoring.MediumThreshold,
	}
	ev := evaluate.New(a.Store, a.Chain, set, params, a.Bus, a.Logger)
	ev.ChunkSize = a.Config.Evaluation.ChunkSize
	return ev, nil
}

// Close releases all resources.
func (a *App) Close() error {
	var firstErr error
	if err := a.Bus.Close(); err != nil {
		firstErr = err
	}
	if err := a.Cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// NewLogger builds the process logger from logging configuration.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// VerifyChain verifies the full audit chain, returning the number of
// verified entries.
func (a *App) VerifyChain(ctx context.Context) (int, error) {
	return a.Chain.Verify(ctx)
}
