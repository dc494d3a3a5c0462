// ABOUTME: TTL cache of graph lookup responses to cut repeated Faros queries across runs.
// ABOUTME: Only entity lookups are cached; association pages are always fetched and mutations flush the cache.

package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/DaYuM/airbyte-connectors/internal/graph"
)

// cacheableQueries are the lookups whose answers do not depend on this process's own writes
var cacheableQueries = map[string]bool{
	graph.VcsRepositoryQuery:           true,
	graph.CicdArtifactQueryByCommitSha: true,
	graph.CicdArtifactQueryByRepoName:  true,
}

type CacheEntry struct {
	Data      graph.Response
	ExpiresAt time.Time
}

// CachedClient decorates a graph.Client with a response cache
type CachedClient struct {
	next   graph.Client
	cache  map[uint64]*CacheEntry
	mutex  sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
	logger *logrus.Logger
	stop   chan struct{}
	once   sync.Once

	hits   int
	misses int
}

// NewCachedClient wraps next. Entries live for ttl and are swept every cleanupInterval.
func NewCachedClient(next graph.Client, ttl, cleanupInterval time.Duration, logger *logrus.Logger) *CachedClient {
	c := &CachedClient{
		next:   next,
		cache:  make(map[uint64]*CacheEntry),
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
		stop:   make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go c.startCleanup(cleanupInterval)
	}

	return c
}

// Query answers cacheable lookups from memory when a fresh entry exists
func (c *CachedClient) Query(ctx context.Context, graphName, query string, variables map[string]any) (graph.Response, error) {
	if !cacheableQueries[query] {
		return c.next.Query(ctx, graphName, query, variables)
	}

	key, err := cacheKey(graphName, query, variables)
	if err != nil {
		return c.next.Query(ctx, graphName, query, variables)
	}

	if data := c.get(key); data != nil {
		c.logger.WithField("graph", graphName).Debug("Cache hit")
		return data, nil
	}

	data, err := c.next.Query(ctx, graphName, query, variables)
	if err != nil {
		return nil, err
	}
	c.set(key, data)
	return data, nil
}

// Mutate forwards the mutation and drops every cached entry
func (c *CachedClient) Mutate(ctx context.Context, graphName, mutation string) error {
	err := c.next.Mutate(ctx, graphName, mutation)
	c.Flush()
	return err
}

// Flush removes every entry
func (c *CachedClient) Flush() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache = make(map[uint64]*CacheEntry)
}

// Close stops the cleanup goroutine
func (c *CachedClient) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *CachedClient) get(key uint64) graph.Response {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.cache[key]
	if !exists || c.now().After(entry.ExpiresAt) {
		c.misses++
		return nil
	}
	c.hits++
	return entry.Data
}

func (c *CachedClient) set(key uint64, data graph.Response) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache[key] = &CacheEntry{
		Data:      data,
		ExpiresAt: c.now().Add(c.ttl),
	}
}

func (c *CachedClient) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *CachedClient) cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	expiredCount := 0

	for key, entry := range c.cache {
		if now.After(entry.ExpiresAt) {
			delete(c.cache, key)
			expiredCount++
		}
	}

	if expiredCount > 0 {
		c.logger.WithFields(logrus.Fields{
			"expired_entries":   expiredCount,
			"remaining_entries": len(c.cache),
		}).Debug("Cache cleanup completed")
	}
}

// Stats reports the entry count, how many of them are expired, and hit/miss totals
func (c *CachedClient) Stats() (total, expired, hits, misses int) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	total = len(c.cache)
	for _, entry := range c.cache {
		if now.After(entry.ExpiresAt) {
			expired++
		}
	}

	return total, expired, c.hits, c.misses
}

// cacheKey hashes the request; encoding/json sorts map keys so equal variables hash equally
func cacheKey(graphName, query string, variables map[string]any) (uint64, error) {
	vars, err := json.Marshal(variables)
	if err != nil {
		return 0, err
	}
	h := xxhash.New()
	_, _ = h.WriteString(graphName)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(query)
	_, _ = h.WriteString("\x00")
	_, _ = h.Write(vars)
	return h.Sum64(), nil
}
