package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MimeLyc/subrelay/pkg/log"
)

// ProviderConfig holds everything a provider may need.
type ProviderConfig struct {
	// Size bounds the number of entries.
	Size int

	// TTL applies to every entry.
	TTL time.Duration

	OnEvict EvictCallback

	// Logger receives backend errors. Defaults to the global logger.
	Logger *log.Logger

	RedisAddress  string
	RedisPassword string
	RedisDB       int
	// RedisPrefix namespaces keys; defaults to "subrelay:tr:".
	RedisPrefix string

	// Group, when set, wraps the cache with metrics labelled cache=<Group>.
	Group string
}

// Provider builds a Cache from config.
type Provider func(cfg ProviderConfig) (Cache, error)

var (
	mu        sync.RWMutex
	providers = make(map[string]Provider)
)

// Register panics on a nil provider or a duplicate name.
func Register(name string, p Provider) {
	mu.Lock()
	defer mu.Unlock()

	if p == nil {
		panic("cache: Register provider is nil")
	}
	if _, exists := providers[name]; exists {
		panic(fmt.Sprintf("cache: provider %q already registered", name))
	}
	providers[name] = p
}

// New creates a cache with the named provider.
func New(name string, cfg ProviderConfig) (Cache, error) {
	mu.RLock()
	p, ok := providers[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("cache: unknown provider %q (registered: %v)", name, RegisteredProviders())
	}
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("cache: size must be positive, got %d", cfg.Size)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("cache: ttl must be positive, got %s", cfg.TTL)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.GetLogger()
	}

	if cfg.Group == "" {
		return p(cfg)
	}

	group := cfg.Group
	next := cfg.OnEvict
	cfg.OnEvict = func(key, value string) {
		EvictionsTotal.WithLabelValues(group).Inc()
		if next != nil {
			next(key, value)
		}
	}

	inner, err := p(cfg)
	if err != nil {
		return nil, err
	}
	return newInstrumentedCache(inner, group), nil
}

// RegisteredProviders returns provider names in sorted order.
func RegisteredProviders() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
