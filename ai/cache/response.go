package cache

import (
	"strings"
	"time"
)

// ResponseCache is an exact-match cache from a normalized user utterance to a
// previously generated assistant reply. A hit means the orchestrator can skip
// the LLM call for that turn entirely.
type ResponseCache struct {
	lru *LRUCache[string, string]
	ttl time.Duration
}

// NewResponseCache creates a response cache with the given capacity and TTL.
func NewResponseCache(capacity int, ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResponseCache{
		lru: NewLRUCache[string, string](capacity, ttl),
		ttl: ttl,
	}
}

// NormalizeUtterance produces the cache key for a user utterance:
// lower-cased, trimmed, internal whitespace collapsed to single spaces.
func NormalizeUtterance(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Get looks up a cached reply for the utterance within a scope. The scope
// (typically session uid + phase) keeps identical utterances from different
// conversations apart. Absence is a valid outcome, not an error; entries
// past their TTL are treated as misses.
func (c *ResponseCache) Get(scope, utterance string) (string, bool) {
	norm := NormalizeUtterance(utterance)
	if norm == "" {
		return "", false
	}
	return c.lru.Get(scope + "|" + norm)
}

// Put stores a generated reply keyed by scope and normalized utterance.
func (c *ResponseCache) Put(scope, utterance, reply string) {
	norm := NormalizeUtterance(utterance)
	if norm == "" || reply == "" {
		return
	}
	c.lru.Set(scope+"|"+norm, reply, c.ttl)
}

// Size returns the number of live entries.
func (c *ResponseCache) Size() int {
	return c.lru.Size()
}

// CleanupExpired removes expired entries and returns how many were dropped.
func (c *ResponseCache) CleanupExpired() int {
	return c.lru.CleanupExpired()
}
