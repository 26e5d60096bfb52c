package agro

import (
	"container/list"
	"context"
	"sync"

	"github.com/couchcryptid/field-env-sync/internal/domain"
	"github.com/couchcryptid/field-env-sync/internal/observability"
)

// StatsFetcher fetches a scene's index statistics document.
type StatsFetcher interface {
	IndexStats(ctx context.Context, statsURL string) (domain.IndexStats, error)
}

// CachedStatsFetcher wraps a StatsFetcher with an in-memory LRU cache keyed by
// stats URL. Statistics for a published scene never change.
type CachedStatsFetcher struct {
	inner   StatsFetcher
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedStatsFetcher creates a cache decorator around a stats fetcher.
func NewCachedStatsFetcher(inner StatsFetcher, maxEntries int, metrics *observability.Metrics) *CachedStatsFetcher {
	return &CachedStatsFetcher{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedStatsFetcher) IndexStats(ctx context.Context, statsURL string) (domain.IndexStats, error) {
	if stats, ok := c.cache.get(statsURL); ok {
		c.metrics.StatsCache.WithLabelValues("hit").Inc()
		return stats, nil
	}
	c.metrics.StatsCache.WithLabelValues("miss").Inc()

	stats, err := c.inner.IndexStats(ctx, statsURL)
	if err != nil {
		return stats, err
	}
	c.cache.put(statsURL, stats)
	return stats, nil
}

// lruCache is a mutex-guarded LRU of index statistics keyed by stats URL.
// The front of order is the most recently used entry.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

type cacheItem struct {
	url   string
	stats domain.IndexStats
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: max(capacity, 1),
		order:    list.New(),
		index:    make(map[string]*list.Element, max(capacity, 1)),
	}
}

func (c *lruCache) get(url string) (domain.IndexStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[url]
	if !ok {
		return domain.IndexStats{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheItem).stats, true
}

func (c *lruCache) put(url string, stats domain.IndexStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[url]; ok {
		el.Value.(*cacheItem).stats = stats
		c.order.MoveToFront(el)
		return
	}

	c.index[url] = c.order.PushFront(&cacheItem{url: url, stats: stats})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*cacheItem).url)
	}
}

func (c *lruCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
