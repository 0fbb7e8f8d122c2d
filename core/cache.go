package core

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
)

// Cache names used by the query executor.
const (
	CacheQueryResults = "query_results"
	CacheCountResults = "count_results"
)

// CacheStats is a point-in-time snapshot of one cache's counters.
type CacheStats struct {
	Name      string  `json:"name"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"maxSize"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hitRate"`
}

// cacheEntry wraps a stored value with its expiry deadline.
type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// expired reports whether the entry has passed its deadline.
func (e *cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// cacheStore is one named TTL+LRU cache. The LRU substrate handles
// capacity eviction and recency; the envelope adds per-entry expiry.
// Stats snapshots use the read lock, everything touching the LRU takes
// the writer lock.
type cacheStore struct {
	mu      sync.RWMutex
	lru     *simplelru.LRU[string, *cacheEntry]
	maxSize int

	hits      uint64
	misses    uint64
	evictions uint64
}

// newCacheStore creates a store with the given capacity.
func newCacheStore(maxSize int) *cacheStore {
	s := &cacheStore{maxSize: maxSize}
	// error only fires for non-positive sizes, which we guard above
	s.lru, _ = simplelru.NewLRU[string, *cacheEntry](maxSize, func(string, *cacheEntry) {
		s.evictions++
	})
	return s
}

// get returns the live value for key, counting hits and misses. An entry
// past its expiry is removed and reported as a miss. Lookups take the
// writer lock because a hit updates the LRU ordinal.
func (s *cacheStore) get(key string) (interface{}, bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Peek(key)
	if !ok {
		s.misses++
		return nil, false
	}
	if e.expired(now) {
		s.lru.Remove(key)
		s.evictions-- // expiry removal is not an LRU eviction
		s.misses++
		return nil, false
	}
	s.lru.Get(key) // bump recency
	s.hits++
	return e.value, true
}

// put stores value under key with the given ttl. A zero ttl means the
// entry never expires on time, only by eviction.
func (s *cacheStore) put(key string, value interface{}, ttl time.Duration) {
	e := &cacheEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Add(key, e)
}

// remove deletes key, reporting whether it was present.
func (s *cacheStore) remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lru.Remove(key) {
		s.evictions--
		return true
	}
	return false
}

// removePattern deletes every key matching the glob and returns the count.
func (s *cacheStore) removePattern(glob string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doomed []string
	for _, k := range s.lru.Keys() {
		if globMatch(glob, k) {
			doomed = append(doomed, k)
		}
	}
	for _, k := range doomed {
		s.lru.Remove(k)
		s.evictions--
	}
	return len(doomed)
}

// clear removes every entry.
func (s *cacheStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.lru.Len()
	s.lru.Purge()
	s.evictions -= uint64(n)
}

// purgeExpired removes entries past their deadline, returning the count.
func (s *cacheStore) purgeExpired() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var doomed []string
	for _, k := range s.lru.Keys() {
		if e, ok := s.lru.Peek(k); ok && e.expired(now) {
			doomed = append(doomed, k)
		}
	}
	for _, k := range doomed {
		s.lru.Remove(k)
		s.evictions--
	}
	return len(doomed)
}

// stats snapshots the counters.
func (s *cacheStore) stats(name string) CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := CacheStats{
		Name:      name,
		Size:      s.lru.Len(),
		MaxSize:   s.maxSize,
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}

// CacheManagerConfig carries the cache core defaults from the service
// configuration.
type CacheManagerConfig struct {
	DefaultTTL      time.Duration
	DefaultMaxSize  int
	CleanupInterval time.Duration
}

// withDefaults fills unset fields.
func (c CacheManagerConfig) withDefaults() CacheManagerConfig {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 5 * time.Minute
	}
	if c.DefaultMaxSize <= 0 {
		c.DefaultMaxSize = 1000
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	return c
}

// CacheManager owns all named caches and the background cleaner.
type CacheManager struct {
	conf CacheManagerConfig
	log  *zap.SugaredLogger

	mu     sync.RWMutex
	caches map[string]*cacheStore

	done chan struct{}
	once sync.Once
}

// NewCacheManager creates a cache manager and starts its cleaner.
func NewCacheManager(conf CacheManagerConfig, log *zap.SugaredLogger) *CacheManager {
	m := &CacheManager{
		conf:   conf.withDefaults(),
		log:    log,
		caches: make(map[string]*cacheStore),
		done:   make(chan struct{}),
	}
	go m.runCleaner()
	return m
}

// DefaultTTL returns the TTL used when a query cache spec has none.
func (m *CacheManager) DefaultTTL() time.Duration { return m.conf.DefaultTTL }

// Ensure creates the named cache with the given capacity if it does not
// exist yet. A non-positive maxSize falls back to the default.
func (m *CacheManager) Ensure(name string, maxSize int) {
	if maxSize <= 0 {
		maxSize = m.conf.DefaultMaxSize
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.caches[name]; !ok {
		m.caches[name] = newCacheStore(maxSize)
	}
}

// store returns the named cache, creating it with defaults on first use.
func (m *CacheManager) store(name string) *cacheStore {
	m.mu.RLock()
	s, ok := m.caches[name]
	m.mu.RUnlock()
	if ok {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.caches[name]; ok {
		return s
	}
	s = newCacheStore(m.conf.DefaultMaxSize)
	m.caches[name] = s
	return s
}

// Get returns the value stored under (cache, key).
func (m *CacheManager) Get(cache, key string) (interface{}, bool) {
	return m.store(cache).get(key)
}

// Put stores value under (cache, key) for ttl.
func (m *CacheManager) Put(cache, key string, value interface{}, ttl time.Duration) {
	m.store(cache).put(key, value, ttl)
}

// Remove deletes one key, reporting whether it was present.
func (m *CacheManager) Remove(cache, key string) bool {
	return m.store(cache).remove(key)
}

// RemovePattern deletes keys matching the glob from one cache.
func (m *CacheManager) RemovePattern(cache, glob string) int {
	return m.store(cache).removePattern(glob)
}

// RemovePatternAll deletes keys matching the glob from every cache and
// returns the total removed.
func (m *CacheManager) RemovePatternAll(glob string) int {
	m.mu.RLock()
	names := make([]string, 0, len(m.caches))
	for n := range m.caches {
		names = append(names, n)
	}
	m.mu.RUnlock()

	total := 0
	for _, n := range names {
		total += m.store(n).removePattern(glob)
	}
	return total
}

// Clear empties one cache.
func (m *CacheManager) Clear(cache string) {
	m.store(cache).clear()
}

// ClearAll empties every cache.
func (m *CacheManager) ClearAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.caches {
		s.clear()
	}
}

// Stats snapshots one cache's counters.
func (m *CacheManager) Stats(cache string) CacheStats {
	return m.store(cache).stats(cache)
}

// AllStats snapshots every cache, sorted by name.
func (m *CacheManager) AllStats() []CacheStats {
	m.mu.RLock()
	names := make([]string, 0, len(m.caches))
	for n := range m.caches {
		names = append(names, n)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	out := make([]CacheStats, 0, len(names))
	for _, n := range names {
		out = append(out, m.store(n).stats(n))
	}
	return out
}

// Close stops the background cleaner.
func (m *CacheManager) Close() {
	m.once.Do(func() { close(m.done) })
}

// runCleaner purges expired entries from every cache at the configured
// interval.
func (m *CacheManager) runCleaner() {
	ticker := time.NewTicker(m.conf.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.mu.RLock()
			names := make([]string, 0, len(m.caches))
			for n := range m.caches {
				names = append(names, n)
			}
			m.mu.RUnlock()

			purged := 0
			for _, n := range names {
				purged += m.store(n).purgeExpired()
			}
			if purged > 0 {
				m.log.Debugw("cache cleaner purged expired entries", "count", purged)
			}
		}
	}
}

// CacheGetAs is the typed read path: a stored value of the wrong type is
// reported as a miss so the caller recomputes instead of failing.
func CacheGetAs[T any](m *CacheManager, cache, key string) (T, bool) {
	var zero T
	v, ok := m.Get(cache, key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// globMatch matches s against a wildcard pattern where '*' matches any
// run of characters and '?' exactly one.
func globMatch(pattern, s string) bool {
	// iterative two-pointer match with single-star backtracking
	var pi, si int
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
