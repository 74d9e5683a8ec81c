package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

func init() {
	Register("memory", newMemoryCache)
}

type memoryCache struct {
	inner *lru.LRU[string, string]
}

func newMemoryCache(cfg ProviderConfig) (Cache, error) {
	var onEvict func(key, value string)
	if cfg.OnEvict != nil {
		onEvict = func(key, value string) {
			cfg.OnEvict(key, value)
		}
	}
	return &memoryCache{
		inner: lru.NewLRU[string, string](cfg.Size, onEvict, cfg.TTL),
	}, nil
}

func (m *memoryCache) Get(_ context.Context, key string) (string, bool) {
	return m.inner.Get(key)
}

func (m *memoryCache) Set(_ context.Context, key, value string) {
	m.inner.Add(key, value)
}

func (m *memoryCache) Len() int {
	return m.inner.Len()
}

func (m *memoryCache) Close() error {
	return nil
}
