package klstore

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// keyID identifies one (keyspace,key) log for cache lookups.
type keyID struct {
	keyspace string
	key      string
}

// writerCache is the bounded LRU of per-key tail state (C5, §4.5). Eviction writes back
// nothing — tail state is always re-derivable from storage by bootstrapping — except that
// a key evicted with a non-empty pending batch is flushed synchronously first, so an
// evicted key never silently loses unflushed records.
type writerCache struct {
	lru *lru.Cache[keyID, *tailState]
}

// newWriterCache builds a cache of at most maxKeys entries. onEvict is invoked
// synchronously, still holding the LRU's internal lock, so it must not re-enter the cache
// (no Get/Add/Remove) — it may only perform I/O against the evicted tailState itself.
func newWriterCache(maxKeys int, onEvict func(id keyID, t *tailState)) (*writerCache, error) {
	if maxKeys <= 0 {
		maxKeys = defaultMaxCachedKeys
	}
	l, err := lru.NewWithEvict(maxKeys, onEvict)
	if err != nil {
		return nil, err
	}
	return &writerCache{lru: l}, nil
}

// getOrCreate returns the cached tail state for id, creating and inserting one via create
// if absent. Insertion may itself trigger eviction of the least-recently-used entry.
func (c *writerCache) getOrCreate(id keyID, create func() *tailState) *tailState {
	if t, ok := c.lru.Get(id); ok {
		return t
	}
	t := create()
	c.lru.Add(id, t)
	return t
}

func (c *writerCache) len() int {
	return c.lru.Len()
}
