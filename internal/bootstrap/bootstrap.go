// Package bootstrap builds the pipeline components from configuration.
// Both the API server and the CLI start from Build.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pagesentry/internal/cache"
	"pagesentry/internal/config"
	"pagesentry/internal/extract"
	"pagesentry/internal/inspector"
	"pagesentry/internal/llm"
	"pagesentry/internal/migrate"
	"pagesentry/internal/schema"
	"pagesentry/internal/scraper"
	"pagesentry/internal/services"
	"pagesentry/internal/store"
	"pagesentry/internal/urladapt"
)

// Components are the wired pipeline. Redis is nil unless the Redis cache
// backend is selected.
type Components struct {
	Config       *config.Config
	Cache        cache.Cache
	Redis        *redis.Client
	Store        store.TaskStore
	Fetcher      scraper.Fetcher
	Inspector    inspector.Inspector
	Orchestrator *llm.Orchestrator
	Generator    *schema.Generator
	Runner       *extract.Runner
	Prober       *urladapt.Prober
	Validator    services.ValidationService

	db      *sql.DB
	closers []func() error
}

// Options adjust Build for callers that do not need every component.
type Options struct {
	// SkipMigrations leaves the database schema untouched.
	SkipMigrations bool
	// MemoryStore forces the in-memory task store even when a DSN is set.
	MemoryStore bool
}

// Build wires every component. With no database DSN the store is kept in
// memory, and the memory cache backend is used unless "redis" is selected.
func Build(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*Components, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Components{Config: cfg}

	if err := c.buildCache(cfg, logger); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.buildStore(ctx, cfg, opts, logger); err != nil {
		c.Close()
		return nil, err
	}

	c.Fetcher = scraper.NewFetcherFromConfig(cfg, cfg.Scraper.TimeoutMs)
	inspectTimeout := time.Duration(cfg.Scraper.InspectTimeoutMs) * time.Millisecond
	c.Inspector = inspector.New(scraper.NewFetcherFromConfig(cfg, cfg.Scraper.InspectTimeoutMs), inspectTimeout, logger)

	providers := llm.NewProvidersFromConfig(cfg, logger)
	if len(providers) == 0 {
		logger.Warn("no AI providers configured; schema generation will fail")
	}
	c.Orchestrator = llm.NewOrchestrator(providers, logger)
	c.Generator = schema.NewGenerator(c.Orchestrator, c.Cache, schema.Options{
		Temperature:  cfg.AI.Temperature,
		MaxTokens:    cfg.AI.MaxTokens,
		MaxRetries:   cfg.AI.MaxRetries,
		InitialDelay: time.Duration(cfg.AI.InitialDelayMs) * time.Millisecond,
	}, logger)

	c.Runner = extract.NewRunner(c.Fetcher, time.Duration(cfg.Scraper.TimeoutMs)*time.Millisecond, logger)
	c.Prober = urladapt.NewProber(time.Duration(cfg.Scraper.ProbeTimeoutMs)*time.Millisecond, cfg.Scraper.UserAgent, logger)

	c.Validator = services.NewValidationService(services.ValidationDeps{
		Inspector: c.Inspector,
		Generator: c.Generator,
		Runner:    c.Runner,
		Adapter:   c.Prober,
		Store:     c.Store,
		Logger:    logger,
	})
	return c, nil
}

func (c *Components) buildCache(cfg *config.Config, logger *slog.Logger) error {
	ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
	switch strings.ToLower(cfg.Cache.Backend) {
	case "", "memory":
		c.Cache = cache.NewMemoryCache(ttl)
	case "redis":
		rc, err := cache.NewRedisCache(cfg.Redis.URL, ttl, logger)
		if err != nil {
			return fmt.Errorf("redis cache: %w", err)
		}
		c.Cache = rc
		c.Redis = rc.Client()
		c.closers = append(c.closers, rc.Close)
	case "none":
		c.Cache = nil
	default:
		return fmt.Errorf("unknown cache backend %q (expected memory|redis|none)", cfg.Cache.Backend)
	}
	return nil
}

func (c *Components) buildStore(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) error {
	if cfg.Database.DSN == "" || opts.MemoryStore {
		logger.Info("using in-memory task store")
		c.Store = store.NewMemoryStore()
		return nil
	}

	if !opts.SkipMigrations {
		if err := migrate.Run(cfg.Database.DSN); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}
	db, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open db failed: %w", err)
	}
	c.db = db
	c.closers = append(c.closers, db.Close)

	pg := store.NewPostgresStore(db)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pg.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping db failed: %w", err)
	}
	c.Store = pg
	return nil
}

// Close releases database and Redis connections.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
	c.closers = nil
}
