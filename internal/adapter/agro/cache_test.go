package agro

import (
	"context"
	"errors"
	"testing"

	"github.com/couchcryptid/field-env-sync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock for cache tests ---

type countingStats struct {
	calls  int
	result domain.IndexStats
	err    error
}

func (m *countingStats) IndexStats(_ context.Context, _ string) (domain.IndexStats, error) {
	m.calls++
	return m.result, m.err
}

// --- CachedStatsFetcher tests ---

func TestCachedStatsFetcher_CacheHit(t *testing.T) {
	inner := &countingStats{result: domain.IndexStats{Mean: 0.42}}
	cached := NewCachedStatsFetcher(inner, 10, testMetrics())

	s1, err := cached.IndexStats(context.Background(), "https://stats/ndvi/abc")
	require.NoError(t, err)
	s2, err := cached.IndexStats(context.Background(), "https://stats/ndvi/abc")
	require.NoError(t, err)

	assert.InDelta(t, 0.42, s1.Mean, 1e-9)
	assert.Equal(t, s1, s2)
	assert.Equal(t, 1, inner.calls, "should only call inner once")
}

func TestCachedStatsFetcher_DifferentURLsMiss(t *testing.T) {
	inner := &countingStats{}
	cached := NewCachedStatsFetcher(inner, 10, testMetrics())

	_, _ = cached.IndexStats(context.Background(), "https://stats/ndvi/a")
	_, _ = cached.IndexStats(context.Background(), "https://stats/ndvi/b")

	assert.Equal(t, 2, inner.calls)
}

func TestCachedStatsFetcher_ErrorsNotCached(t *testing.T) {
	inner := &countingStats{err: errors.New("upstream down")}
	cached := NewCachedStatsFetcher(inner, 10, testMetrics())

	_, err := cached.IndexStats(context.Background(), "https://stats/ndvi/a")
	require.Error(t, err)
	_, err = cached.IndexStats(context.Background(), "https://stats/ndvi/a")
	require.Error(t, err)

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 0, cached.cache.size())
}

// --- LRU cache unit tests ---

func TestLRUCache_BasicGetPut(t *testing.T) {
	c := newLRUCache(3)

	c.put("a", domain.IndexStats{Mean: 1})
	c.put("b", domain.IndexStats{Mean: 2})

	result, ok := c.get("a")
	assert.True(t, ok)
	assert.InDelta(t, 1.0, result.Mean, 1e-9)

	_, ok = c.get("missing")
	assert.False(t, ok)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", domain.IndexStats{Mean: 1})
	c.put("b", domain.IndexStats{Mean: 2})
	c.put("c", domain.IndexStats{Mean: 3}) // evicts "a"

	_, ok := c.get("a")
	assert.False(t, ok, "a should have been evicted")

	_, ok = c.get("b")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.size())
}

func TestLRUCache_AccessPromotesEntry(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", domain.IndexStats{Mean: 1})
	c.put("b", domain.IndexStats{Mean: 2})
	c.get("a")
	c.put("c", domain.IndexStats{Mean: 3}) // evicts "b", not "a"

	_, ok := c.get("a")
	assert.True(t, ok)
	_, ok = c.get("b")
	assert.False(t, ok)
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", domain.IndexStats{Mean: 1})
	c.put("a", domain.IndexStats{Mean: 5})

	result, ok := c.get("a")
	assert.True(t, ok)
	assert.InDelta(t, 5.0, result.Mean, 1e-9)
	assert.Equal(t, 1, c.size())
}

func TestLRUCache_NonPositiveSizeHoldsOne(t *testing.T) {
	c := newLRUCache(0)
	c.put("a", domain.IndexStats{})
	c.put("b", domain.IndexStats{})
	assert.Equal(t, 1, c.size())
}
