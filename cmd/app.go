package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MimeLyc/subrelay/internal/cache"
	"github.com/MimeLyc/subrelay/internal/config"
	"github.com/MimeLyc/subrelay/internal/llm"
	"github.com/MimeLyc/subrelay/internal/pipeline"
	"github.com/MimeLyc/subrelay/internal/session"
	"github.com/MimeLyc/subrelay/internal/translator"
	"github.com/MimeLyc/subrelay/pkg/log"
)

// setupLogging installs the global logger. The returned func closes the log file, if any.
func setupLogging(cfg *config.Config) (func() error, error) {
	level := log.ParseLevel(cfg.LogLevel)
	if cfg.LogFile == "" {
		log.InitLogger(level)
		return func() error { return nil }, nil
	}
	fl, err := log.NewFileLogger(cfg.LogFile, level)
	if err != nil {
		return nil, err
	}
	log.SetLogger(fl.Logger)
	return fl.Close, nil
}

func newLLMBackend(cfg *config.Config) (translator.Backend, error) {
	if err := cfg.RequireLLM(); err != nil {
		return nil, err
	}
	llmCfg := cfg.LLMClientConfig()
	client, err := llm.NewClient(&llmCfg)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	return translator.NewLLMBackend(client), nil
}

// core is the registry, cache and orchestrator shared by serve and translate.
type core struct {
	registry     *session.Registry
	cache        cache.Cache
	orchestrator *pipeline.Orchestrator
}

func newCore(cfg *config.Config, backend translator.Backend, opts ...pipeline.Option) (*core, error) {
	c, err := cache.New(cfg.Cache.Provider, cfg.CacheProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	tr := translator.NewCachedBatchTranslator(backend, c,
		translator.WithCombineThreshold(cfg.Translate.CombineThreshold),
		translator.WithMaxConcurrency(cfg.Translate.MaxConcurrency),
	)
	registry := session.NewRegistry(cfg.SessionConfig(),
		session.WithLogger(log.GetLogger().With("component", "session")))

	opts = append([]pipeline.Option{pipeline.WithStrictTiming(cfg.Translate.StrictTiming)}, opts...)
	return &core{
		registry:     registry,
		cache:        c,
		orchestrator: pipeline.NewOrchestrator(registry, tr, cfg.Translate.TargetLanguage, opts...),
	}, nil
}

func (c *core) Close() error {
	return errors.Join(c.registry.Close(), c.cache.Close())
}

// pruneRuns drops run history older than retention. Failures only log.
func pruneRuns(ctx context.Context, store interface {
	PruneRuns(ctx context.Context, cutoff time.Time) (int64, error)
}, retention time.Duration) {
	if retention <= 0 {
		return
	}
	n, err := store.PruneRuns(ctx, time.Now().Add(-retention))
	if err != nil {
		log.Warn("Failed to prune run history: %v", err)
		return
	}
	if n > 0 {
		log.Info("Pruned %d runs older than %s", n, retention)
	}
}
