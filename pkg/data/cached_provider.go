package data

import (
	"path/filepath"
	"sync"

	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// MemoryCache is an in-memory DataCache. It stores and returns copies.
type MemoryCache struct {
	cache map[string][]types.OHLCV
	mutex sync.RWMutex
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		cache: make(map[string][]types.OHLCV),
	}
}

func (c *MemoryCache) Get(key string) ([]types.OHLCV, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	data, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	return append([]types.OHLCV(nil), data...), true
}

func (c *MemoryCache) Set(key string, data []types.OHLCV) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[key] = append([]types.OHLCV(nil), data...)
}

func (c *MemoryCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache = make(map[string][]types.OHLCV)
}

func (c *MemoryCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.cache)
}

// CachedProvider wraps a DataProvider with a cache keyed by source. Parameter
// sweeps replay the same files many times.
type CachedProvider struct {
	provider DataProvider
	cache    DataCache
	log      *logger.Logger
}

func NewCachedProvider(provider DataProvider, log *logger.Logger) *CachedProvider {
	return NewCachedProviderWithCache(provider, NewMemoryCache(), log)
}

func NewCachedProviderWithCache(provider DataProvider, cache DataCache, log *logger.Logger) *CachedProvider {
	if log == nil {
		log = logger.NewNop()
	}
	return &CachedProvider{
		provider: provider,
		cache:    cache,
		log:      log.Component("data"),
	}
}

func (p *CachedProvider) GetName() string {
	return "Cached " + p.provider.GetName()
}

// LoadData returns cached candles or loads and caches them.
func (p *CachedProvider) LoadData(source string) ([]types.OHLCV, error) {
	if cached, ok := p.cache.Get(source); ok {
		return cached, nil
	}

	data, err := p.provider.LoadData(source)
	if err != nil {
		p.log.Error("failed to load data from %s: %v", filepath.Base(source), err)
		return nil, err
	}
	p.cache.Set(source, data)
	p.log.Info("loaded and cached %s (%d candles)", filepath.Base(source), len(data))
	return data, nil
}

func (p *CachedProvider) ValidateData(data []types.OHLCV) error {
	return p.provider.ValidateData(data)
}

func (p *CachedProvider) ClearCache() {
	p.cache.Clear()
}

func (p *CachedProvider) GetCacheSize() int {
	return p.cache.Size()
}
