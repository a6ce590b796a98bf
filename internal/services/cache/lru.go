package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alfan-chat/relay/internal/models"
)

// DefaultMaxSize bounds the reply cache when config does not.
const DefaultMaxSize = 30

// LRU is a bounded least-recently-used map of reply texts with hit and miss
// counters on top of golang-lru.
type LRU struct {
	maxSize int
	entries *lru.Cache[Key, string]
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewLRU creates an LRU holding at most maxSize entries.
func NewLRU(maxSize int) *LRU {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[Key, string](maxSize)
	return &LRU{maxSize: maxSize, entries: entries}
}

// Get returns the cached text and marks it most recently used.
func (l *LRU) Get(key Key) (string, bool) {
	text, ok := l.entries.Get(key)
	if !ok {
		l.misses.Add(1)
		return "", false
	}
	l.hits.Add(1)
	return text, true
}

// Put stores text under key. Empty text is ignored.
func (l *LRU) Put(key Key, text string) {
	if text == "" {
		return
	}
	l.entries.Add(key, text)
}

// Len returns the number of cached entries.
func (l *LRU) Len() int {
	return l.entries.Len()
}

// Clear drops every entry. Hit and miss counters are kept.
func (l *LRU) Clear() {
	l.entries.Purge()
}

// Stats reports current usage.
func (l *LRU) Stats() models.CacheStats {
	return models.CacheStats{
		Entries: l.entries.Len(),
		Hits:    l.hits.Load(),
		Misses:  l.misses.Load(),
	}
}
