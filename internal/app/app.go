// Package app wires configuration, storage, model clients and services into
// a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"ai-diet-planner/internal/api"
	"ai-diet-planner/internal/config"
	"ai-diet-planner/internal/database"
	"ai-diet-planner/internal/kvstore"
	"ai-diet-planner/internal/llm"
	"ai-diet-planner/internal/metrics"
	"ai-diet-planner/internal/nutrient"
	"ai-diet-planner/internal/planner"
	"ai-diet-planner/internal/prompts"
)

const sweepInterval = 10 * time.Minute

// App holds the application's dependencies.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	DB           *database.DB
	KV           kvstore.Store
	Prompts      *prompts.Store
	Orchestrator *planner.Orchestrator
	Nutrients    *nutrient.Cache
	Metrics      *metrics.Store
	Collector    *metrics.Collector

	sqliteKV *kvstore.SQLiteStore
	closers  []func() error
}

type options struct {
	textGen  llm.TextGenerator
	searcher nutrient.Searcher
}

// Option overrides a dependency App would otherwise build from config.
type Option func(*options)

// WithTextGenerator replaces the configured model client.
func WithTextGenerator(gen llm.TextGenerator) Option {
	return func(o *options) { o.textGen = gen }
}

// WithNutrientSearcher replaces the nutrition API client.
func WithNutrientSearcher(s nutrient.Searcher) Option {
	return func(o *options) { o.searcher = s }
}

// New creates and initializes a new App instance. Close releases
// everything New opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	kv, err := a.openKV(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.KV = kv
	a.closers = append(a.closers, kv.Close)

	textGen := o.textGen
	if textGen == nil {
		textGen, err = newTextGenerator(ctx, cfg, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		if c, ok := textGen.(llm.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}

	a.Metrics = metrics.NewStore(db.SQL)
	a.Collector = metrics.NewCollector(a.Metrics, logger)
	a.Prompts = prompts.NewStore(kv)

	sections := planner.NewSectionStore(kv)
	a.Orchestrator = planner.NewOrchestrator(
		planner.NewGenerator(a.Prompts, textGen, sections, logger),
		sections,
		planner.NewStatusStore(kv),
		planner.NewAnswersStore(kv),
		planner.WithObserver(a.Collector),
		planner.WithLogger(logger),
	)

	searcher := o.searcher
	if searcher == nil {
		searcher = nutrient.NewClient(cfg.NutritionAPIURL, cfg.NutritionAppID, cfg.NutritionAppKey, logger)
	}
	a.Nutrients = nutrient.NewCache(kv, searcher,
		nutrient.WithTTL(cfg.NutrientCacheTTL),
		nutrient.WithCacheLogger(logger),
		nutrient.WithObserver(a.Collector),
	)

	return a, nil
}

func (a *App) openKV(ctx context.Context) (kvstore.Store, error) {
	cfg := a.Config
	switch cfg.KVBackend {
	case config.BackendSQLite:
		a.sqliteKV = kvstore.NewSQLiteStore(a.DB.SQL, a.Logger)
		return a.sqliteKV, nil
	case config.BackendRedis:
		s, err := kvstore.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return s, nil
	case config.BackendNATS:
		ttls := []time.Duration{0, cfg.NutrientCacheTTL}
		s, err := kvstore.OpenNATS(ctx, cfg.NATSURL, cfg.NATSBucket, ttls, kvstore.WithNATSLogger(a.Logger))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		return s, nil
	case config.BackendMemory:
		return kvstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported kv backend %q", cfg.KVBackend)
	}
}

func newTextGenerator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.TextGenerator, error) {
	switch cfg.LLMProvider {
	case config.ProviderGroq:
		return llm.NewBreakerGenerator("groq", llm.NewGroqClient(cfg), logger), nil
	default:
		gemini, err := llm.NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		return llm.NewBreakerGenerator("gemini", gemini, logger), nil
	}
}

// RunBackground starts maintenance loops that stop with ctx.
func (a *App) RunBackground(ctx context.Context) {
	if a.sqliteKV != nil {
		go a.sqliteKV.RunSweeper(ctx, sweepInterval)
	}
}

// Health reports process and storage health.
func (a *App) Health() metrics.SysHealth {
	dataPath := ""
	if a.Config.KVBackend == config.BackendSQLite {
		dataPath = filepath.Dir(a.Config.DatabasePath)
	}
	return metrics.GetSysHealth(a.Config.KVBackend, dataPath)
}

// Router builds the HTTP API.
func (a *App) Router() *gin.Engine {
	return api.NewRouter(api.Deps{
		Plans:     a.Orchestrator,
		Nutrients: a.Nutrients,
		Verifier:  api.NewVerifier(a.Config.JWTSecret),
		Metrics:   a.Collector.Handler(),
		Health:    a.Health,
		Logger:    a.Logger,
	})
}

// SeedPrompts stores cat in the prompt store and returns the written ids.
func (a *App) SeedPrompts(ctx context.Context, cat *prompts.Catalog, overwrite bool) ([]string, error) {
	if cat == nil {
		cat = prompts.DefaultCatalog()
	}
	return prompts.Seed(ctx, a.Prompts, cat, overwrite)
}

// Close waits for in-flight plan runs, then releases resources in reverse
// order of acquisition.
func (a *App) Close() error {
	if a.Orchestrator != nil {
		a.Orchestrator.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
