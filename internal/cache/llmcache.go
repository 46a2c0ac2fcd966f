package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// LLMResponseCache memoizes short, non-streaming completions (used by
// rule-based/LLM-merge paths that re-ask the same prompt across specialist
// agents within one graph run) so an identical prompt issued twice in
// quick succession costs one upstream call.
//
// Unlike ToolCache, recency - not insertion order - is the right eviction
// signal here, since a prompt re-read recently is likely to be re-read
// again; golang-lru's access-promoting LRU fits this cache but would
// violate ToolCache's required FIFO-on-full guarantee, which is why the
// two caches use different backing structures.
type LLMResponseCache struct {
	lru *lru.Cache[string, string]
}

// NewLLMResponseCache creates a response memo holding up to size entries.
func NewLLMResponseCache(size int) (*LLMResponseCache, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &LLMResponseCache{lru: c}, nil
}

// Get returns a memoized completion for promptHash, if any.
func (c *LLMResponseCache) Get(promptHash string) (string, bool) {
	return c.lru.Get(promptHash)
}

// Put memoizes a completion for promptHash.
func (c *LLMResponseCache) Put(promptHash, response string) {
	c.lru.Add(promptHash, response)
}

// Len reports the current number of memoized entries.
func (c *LLMResponseCache) Len() int {
	return c.lru.Len()
}
