// Package cache provides short-lived memoization of tool results. Keys are
// derived deterministically from (server, tool, arguments) so identical
// calls within the TTL return the stored result without touching the
// backend. The in-memory store is the default; Store leaves room for an
// external key-value backend behind the same interface.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/toolmesh/toolmesh-go/pkg/metrics"
)

// Store is the cache contract the client consumes.
type Store interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration)
	Delete(key string)
	Len() int
}

// Key derives a deterministic cache key from a server, tool, and argument
// map. encoding/json marshals map keys in sorted order, which canonicalizes
// the arguments.
func Key(server, tool string, args map[string]interface{}) string {
	payload, err := json.Marshal(args)
	if err != nil {
		// Unmarshalable arguments cannot be memoized; an unpredictable key
		// makes every lookup a miss.
		payload = []byte(time.Now().String())
	}
	h := sha256.New()
	h.Write([]byte(server))
	h.Write([]byte{0})
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

type entry struct {
	value      interface{}
	insertedAt time.Time
	expiresAt  time.Time
}

// MemoryCache is a concurrency-safe TTL cache with lazy expiry and an
// optional entry bound.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int
	collector  *metrics.Collector
	now        func() time.Time
}

// Option customizes a MemoryCache.
type Option func(*MemoryCache)

// WithCollector reports hit/miss/set operations to the given collector.
func WithCollector(c *metrics.Collector) Option {
	return func(m *MemoryCache) { m.collector = c }
}

// WithClock injects a clock for TTL tests.
func WithClock(now func() time.Time) Option {
	return func(m *MemoryCache) { m.now = now }
}

// New creates a MemoryCache. maxEntries <= 0 means unbounded.
func New(maxEntries int, opts ...Option) *MemoryCache {
	m := &MemoryCache{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the cached value and true on a live hit. Expired entries are
// evicted on read.
func (m *MemoryCache) Get(key string) (interface{}, bool) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && m.now().After(e.expiresAt) {
		delete(m.entries, key)
		ok = false
	}
	var value interface{}
	if ok {
		value = e.value
	}
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.TrackCacheOperation("get", ok)
	}
	return value, ok
}

// Set stores a value under key for ttl. When the cache is at its bound, the
// oldest entry is evicted first.
func (m *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	now := m.now()
	m.mu.Lock()
	if m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		if _, exists := m.entries[key]; !exists {
			m.evictOldest()
		}
	}
	m.entries[key] = &entry{
		value:      value,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
	}
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.TrackCacheOperation("set", true)
	}
}

// Delete removes one entry.
func (m *MemoryCache) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len returns the number of stored entries, counting not-yet-evicted
// expired ones.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// evictOldest drops the entry with the earliest insertion time. Callers
// hold the mutex.
func (m *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range m.entries {
		if first || e.insertedAt.Before(oldest) {
			oldestKey = k
			oldest = e.insertedAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

var _ Store = (*MemoryCache)(nil)
