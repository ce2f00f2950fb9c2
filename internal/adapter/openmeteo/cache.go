package openmeteo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
	"github.com/couchcryptid/flood-forecast-refresh/internal/observability"
)

// CachedSource wraps a ForecastSource with an in-memory LRU cache keyed by
// locality and local calendar date, so same-day re-runs reuse responses.
type CachedSource struct {
	inner   domain.ForecastSource
	cache   *lruCache
	clock   clockwork.Clock
	loc     *time.Location
	metrics *observability.RefreshMetrics
}

// NewCachedSource creates a cache decorator around a forecast source.
func NewCachedSource(inner domain.ForecastSource, maxEntries int, clock clockwork.Clock, loc *time.Location, metrics *observability.RefreshMetrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		clock:   clock,
		loc:     loc,
		metrics: metrics,
	}
}

// Fetch returns a cached window when one was fetched today for the same
// locality and coordinates.
func (c *CachedSource) Fetch(ctx context.Context, loc domain.Locality) ([]domain.ForecastDay, error) {
	today := c.clock.Now().In(c.loc).Format(domain.DateLayout)
	key := fmt.Sprintf("%s|%.4f|%.4f|%s", loc.Name, loc.Latitude, loc.Longitude, today)

	if days, ok := c.cache.get(key); ok {
		c.observe("hit")
		return clone(days), nil
	}
	c.observe("miss")

	days, err := c.inner.Fetch(ctx, loc)
	if err != nil {
		return days, err
	}
	// Failures are never cached so the next run retries them.
	c.cache.put(key, clone(days))
	return days, nil
}

func (c *CachedSource) observe(result string) {
	if c.metrics != nil {
		c.metrics.FetchCache.WithLabelValues(result).Inc()
	}
}

func clone(days []domain.ForecastDay) []domain.ForecastDay {
	return append([]domain.ForecastDay(nil), days...)
}

// lruCache is a simple thread-safe LRU cache of forecast windows.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value []domain.ForecastDay
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) ([]domain.ForecastDay, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value []domain.ForecastDay) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	for len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlink(c.tail)
}
