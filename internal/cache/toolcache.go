package cache

import (
	"container/list"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// CacheType identifies a category of cached MapAdapter calls, each with its
// own default TTL.
type CacheType string

const (
	CacheTypeWeather       CacheType = "WEATHER"
	CacheTypePOISearch     CacheType = "POI_SEARCH"
	CacheTypeNearbySearch  CacheType = "NEARBY_SEARCH"
	CacheTypePOIDetail     CacheType = "POI_DETAIL"
	CacheTypeRoute         CacheType = "ROUTE"
	CacheTypeGeocode       CacheType = "GEOCODE"
	CacheTypeDistance      CacheType = "DISTANCE"
)

// DefaultTTL returns the recognized default TTL for a cache type. Unknown
// types get a conservative 5 minute TTL rather than never expiring.
func (t CacheType) DefaultTTL() time.Duration {
	switch t {
	case CacheTypeWeather:
		return 30 * time.Minute
	case CacheTypePOISearch, CacheTypeNearbySearch:
		return 6 * time.Hour
	case CacheTypePOIDetail:
		return 24 * time.Hour
	case CacheTypeRoute:
		return 2 * time.Hour
	case CacheTypeGeocode, CacheTypeDistance:
		return 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

// ToolCacheStats reports hit/miss/eviction counters and the current size.
type ToolCacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Size      int     `json:"size"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

type toolCacheEntry struct {
	key       string
	value     interface{}
	createdAt time.Time
	expiresAt time.Time
	elem      *list.Element
}

// ToolCache is a TTL + FIFO-on-full cache for MapAdapter query results.
//
// Eviction on a full cache always removes the oldest-inserted entry,
// never the least-recently-read one: this is why it is a hand-rolled
// list+map rather than github.com/hashicorp/golang-lru, whose Get call
// promotes an entry and would make a read reorder eviction order.
type ToolCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*toolCacheEntry
	order   *list.List // front = oldest inserted

	hits      int64
	misses    int64
	evictions int64
}

// NewToolCache creates a ToolCache with the given maximum size. A
// non-positive size defaults to 500, the spec's default map-cache size.
func NewToolCache(maxSize int) *ToolCache {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &ToolCache{
		maxSize: maxSize,
		entries: make(map[string]*toolCacheEntry),
		order:   list.New(),
	}
}

// Key builds the deterministic cache key for a cache type and argument set:
// "<cache_type>:" + first 12 hex chars of md5(canonicalJSON(params)).
func Key(cacheType CacheType, params map[string]interface{}) (string, error) {
	canon, err := canonicalJSON(params)
	if err != nil {
		return "", fmt.Errorf("toolcache: canonicalize params: %w", err)
	}
	sum := md5.Sum(canon)
	return string(cacheType) + ":" + hex.EncodeToString(sum[:])[:12], nil
}

// canonicalJSON serializes a map with keys sorted, so that the same logical
// argument set always hashes to the same key regardless of iteration order.
// Top-level undefined (nil map) is rejected.
func canonicalJSON(params map[string]interface{}) ([]byte, error) {
	if params == nil {
		return nil, fmt.Errorf("toolcache: params must not be nil")
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]canonicalField, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, canonicalField{Key: k, Value: params[k]})
	}
	return json.Marshal(ordered)
}

type canonicalField struct {
	Key   string      `json:"k"`
	Value interface{} `json:"v"`
}

// Get returns the cached value for key iff present and unexpired.
func (c *ToolCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.removeLocked(entry)
		c.evictions++
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.value, true
}

// Set stores value under key with the given TTL. Setting a nil value is
// rejected, matching the spec's "rejects null/undefined" rule.
func (c *ToolCache) Set(key string, value interface{}, ttl time.Duration) error {
	if value == nil {
		return fmt.Errorf("toolcache: refusing to cache nil value for %q", key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if existing, ok := c.entries[key]; ok {
		existing.value = value
		existing.createdAt = now
		existing.expiresAt = now.Add(ttl)
		c.order.MoveToBack(existing.elem)
		return nil
	}

	if len(c.entries) >= c.maxSize {
		c.evictExpiredLocked(now)
	}
	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	entry := &toolCacheEntry{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	entry.elem = c.order.PushBack(entry)
	c.entries[key] = entry
	return nil
}

func (c *ToolCache) evictExpiredLocked(now time.Time) {
	var next *list.Element
	for e := c.order.Front(); e != nil; e = next {
		next = e.Next()
		entry := e.Value.(*toolCacheEntry)
		if now.After(entry.expiresAt) {
			c.removeLocked(entry)
			c.evictions++
		}
	}
}

func (c *ToolCache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.removeLocked(front.Value.(*toolCacheEntry))
	c.evictions++
}

func (c *ToolCache) removeLocked(entry *toolCacheEntry) {
	c.order.Remove(entry.elem)
	delete(c.entries, entry.key)
}

// Stats reports current cache counters.
func (c *ToolCache) Stats() ToolCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = roundTo2(float64(c.hits) / float64(total))
	}

	return ToolCacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      len(c.entries),
		Evictions: c.evictions,
		HitRate:   hitRate,
	}
}

func roundTo2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
