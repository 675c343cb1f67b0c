package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/hurttlocker/canon/internal/cache"
	"github.com/hurttlocker/canon/internal/config"
	"github.com/hurttlocker/canon/internal/extract"
	"github.com/hurttlocker/canon/internal/ingest"
	"github.com/hurttlocker/canon/internal/lifecycle"
	"github.com/hurttlocker/canon/internal/llm"
	"github.com/hurttlocker/canon/internal/logger"
	"github.com/hurttlocker/canon/internal/metrics"
	"github.com/hurttlocker/canon/internal/store"
)

// app is the wired runtime shared by the subcommands.
type app struct {
	cfg     config.ResolvedConfig
	log     *logger.Logger
	metrics *metrics.Collector
	store   store.Store
	cache   cache.Cache
	closers []func() error
}

// chunkFlags are per-command overrides fed into config resolution.
type chunkFlags struct {
	maxChars     string
	overlapChars string
}

func resolveConfig(g *globalFlags, cf chunkFlags) (config.ResolvedConfig, error) {
	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath:      g.configPath,
		CLILLM:          g.llm,
		CLIDBPath:       g.dbPath,
		CLICache:        g.cache,
		CLIMaxChars:     cf.maxChars,
		CLIOverlapChars: cf.overlapChars,
		CLIParallelism:  g.parallelism,
	})
	if err != nil {
		return cfg, extract.ConfigurationError("config", err)
	}
	return cfg, nil
}

func openApp(ctx context.Context, g *globalFlags, cf chunkFlags) (*app, error) {
	cfg, err := resolveConfig(g, cf)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode.Value, cfg.LogLevel.Value)
	if err != nil {
		return nil, extract.ConfigurationError("logger", err)
	}

	st, err := store.NewStore(store.StoreConfig{
		DBPath:   cfg.DBPath.Value,
		CacheTTL: cfg.CacheTTL.Duration(cache.DefaultTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewCollector("canon"),
		store:   st,
		closers: []func() error{st.Close},
	}
	c, err := a.buildCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cache = c
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.log.Sync()
}

// buildCache picks the extraction cache backend. The SQLite table is always
// available; memory and redis trade durability for speed or sharing.
func (a *app) buildCache(ctx context.Context) (cache.Cache, error) {
	ttl := a.cfg.CacheTTL.Duration(cache.DefaultTTL)
	size := a.cfg.CacheSize.Int(1024)

	switch strings.ToLower(a.cfg.Cache.Value) {
	case "none":
		return cache.Nop{}, nil
	case "memory":
		return cache.NewMemory(size, ttl), nil
	case "redis", "tiered":
		r, err := cache.NewRedis(ctx, a.cfg.RedisAddr.Value, a.cfg.RedisPassword.Value, 0, ttl)
		if err != nil {
			return nil, extract.ConfigurationError("cache", err)
		}
		a.closers = append(a.closers, r.Close)
		if strings.EqualFold(a.cfg.Cache.Value, "redis") {
			return r, nil
		}
		return &cache.Tiered{Front: cache.NewMemory(size, ttl), Back: r, Observer: a.metrics}, nil
	default:
		return a.store, nil
	}
}

func (a *app) locator() extract.EvidenceLocator {
	if strings.EqualFold(a.cfg.Locator.Value, "levenshtein") {
		return extract.EditDistanceLocator{}
	}
	return extract.RegexLocator{}
}

func (a *app) chunking() extract.ChunkOptions {
	return extract.ChunkOptions{
		MaxChars:     a.cfg.MaxChars.Int(0),
		OverlapChars: a.cfg.OverlapChars.Int(0),
	}
}

// provider builds the configured LLM behind a circuit breaker.
func (a *app) provider() (llm.Provider, error) {
	pc, err := llm.ParseLLMFlag(a.cfg.LLM.Value)
	if err != nil {
		return nil, extract.ConfigurationError("llm", err)
	}
	if key := a.cfg.APIKeyForProvider(pc.Provider); key.Value != "" {
		pc.APIKey = key.Value
	}
	p, err := llm.NewProvider(pc)
	if err != nil {
		return nil, extract.ConfigurationError("llm", err)
	}
	return llm.WithBreaker(p, llm.BreakerConfig{
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.log.Warn("llm circuit breaker", "provider", name, "from", from.String(), "to", to.String())
		},
	}), nil
}

func (a *app) orchestrator() (*extract.Orchestrator, error) {
	p, err := a.provider()
	if err != nil {
		return nil, err
	}
	return extract.NewOrchestrator(extract.OrchestratorConfig{
		Source:              store.AsDocumentSource(a.store),
		Cache:               a.cache,
		Caller:              extract.NewExtractionCaller(p),
		ContradictionCaller: extract.NewContradictionCaller(p),
		Locator:             a.locator(),
		Chunking:            a.chunking(),
		Parallelism:         a.cfg.Parallelism.Int(1),
		Log:                 a.log,
		Metrics:             a.metrics,
	})
}

func (a *app) processor() (*ingest.Processor, error) {
	orch, err := a.orchestrator()
	if err != nil {
		return nil, err
	}
	return ingest.NewProcessor(a.store, orch, a.log), nil
}

func (a *app) sweeper() (*lifecycle.Sweeper, error) {
	cfg := lifecycle.Config{Cache: a.cache, Log: a.log}
	if docs, ok := a.store.(lifecycle.StaleDocuments); ok {
		cfg.Documents = docs
	}
	return lifecycle.NewSweeper(cfg)
}

// redactConfig masks secrets before the config is printed.
func redactConfig(cfg config.ResolvedConfig) config.ResolvedConfig {
	mask := func(v config.ResolvedValue) config.ResolvedValue {
		if v.Value != "" {
			v.Value = "[REDACTED]"
		}
		return v
	}
	cfg.RedisPassword = mask(cfg.RedisPassword)
	keys := make(map[string]config.ResolvedValue, len(cfg.LLMKeys))
	for name, v := range cfg.LLMKeys {
		keys[name] = mask(v)
	}
	cfg.LLMKeys = keys
	return cfg
}
