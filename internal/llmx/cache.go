package llmx

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// cacheEntry holds a memoized Response alongside the insertion timestamp
// used for both TTL expiry and oldest-entry eviction (spec.md §4.1: "evict
// the entry with the oldest timestamp (LRU-by-insert)" — distinct from a
// last-access policy).
type cacheEntry struct {
	resp       Response
	insertedAt time.Time
}

// Stats mirrors the counters spec.md §4.1 requires to be exposed verbatim.
type Stats struct {
	Hits        int64
	Misses      int64
	Bypassed    int64
	Evictions   int64
	Expirations int64
}

func (s Stats) TotalRequests() int64 { return s.Hits + s.Misses + s.Bypassed }

func (s Stats) HitRate() float64 {
	denom := s.Hits + s.Misses
	if denom <= 0 {
		return 0
	}
	return float64(s.Hits) / float64(denom)
}

// cache is the single-mutex LRU+TTL store backing the oracle. All mutation
// happens under mu, and stats are updated inside the same critical section
// as the cache operation they describe.
type cache struct {
	mu       sync.Mutex
	entries  map[string]cacheEntry
	order    []string // insertion order, oldest first
	capacity int
	ttl      time.Duration
	stats    Stats
}

func newCache(capacity int, ttl time.Duration) *cache {
	if capacity <= 0 {
		capacity = 100
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &cache{entries: make(map[string]cacheEntry), capacity: capacity, ttl: ttl}
}

// get returns (response, true) on a live hit. An expired entry is removed
// and counted as an expiration-then-miss, matching spec.md's "a lookup
// treats an entry as absent if now-inserted>TTL ... and removes it".
func (c *cache) get(key string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return Response{}, false
	}
	if time.Since(entry.insertedAt) > c.ttl {
		c.removeLocked(key)
		c.stats.Expirations++
		c.stats.Misses++
		return Response{}, false
	}
	c.stats.Hits++
	return entry.resp, true
}

func (c *cache) set(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	if _, exists := c.entries[key]; exists {
		c.removeFromOrderLocked(key)
	}
	c.entries[key] = cacheEntry{resp: resp, insertedAt: time.Now()}
	c.order = append(c.order, key)
}

func (c *cache) recordBypass() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Bypassed++
}

func (c *cache) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.order = nil
}

// invalidate removes a single key, if present, and reports whether it was.
func (c *cache) invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	c.removeLocked(key)
	return true
}

func (c *cache) evictOldestLocked() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.removeLocked(oldest)
	c.stats.Evictions++
}

func (c *cache) removeLocked(key string) {
	delete(c.entries, key)
	c.removeFromOrderLocked(key)
}

func (c *cache) removeFromOrderLocked(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// cacheKey builds a stable hash over the fields spec.md §4.1 names:
// (model, messages, temperature, max_output_tokens, reasoning_effort).
func cacheKey(req Request) string {
	type keyPayload struct {
		Model           string    `json:"model"`
		Messages        []Message `json:"messages"`
		Temperature     float64   `json:"temperature"`
		MaxOutputTokens int       `json:"max_output_tokens"`
		ReasoningEffort string    `json:"reasoning_effort"`
	}
	b, _ := json.Marshal(keyPayload{req.Model, req.Messages, req.Temperature, req.MaxOutputTokens, req.ReasoningEffort})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (e cacheEntry) String() string {
	return fmt.Sprintf("cacheEntry(insertedAt=%s)", e.insertedAt.Format(time.RFC3339))
}
