// Package querycache implements the query-response cache named in
// SPEC_FULL.md's domain stack: C6's step 6 predicate queries can carry
// large contract-state payloads, and a task stuck behind a false
// predicate gets the same (task_hash, query_index) re-queried by every
// agent that wins the claim-entitlement race until the chain's
// underlying state actually changes. Caching the raw response bytes
// avoids re-fetching and re-decoding that payload across attempts that
// land within the same trigger bound. Grounded on the teacher's use of
// VictoriaMetrics/fastcache for a fixed-memory byte cache rather than an
// unbounded map (core/rawdb uses the same cache for trie nodes).
package querycache

import (
	"encoding/binary"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/croncatd/croncatd/internal/types"
)

// Cache wraps a fastcache.Cache keyed by (task_hash, query_index).
type Cache struct {
	c *fastcache.Cache
}

// New allocates a cache with capacity for roughly maxBytes of responses.
// fastcache rounds this up internally to its own bucket granularity.
func New(maxBytes int) *Cache {
	return &Cache{c: fastcache.New(maxBytes)}
}

func cacheKey(hash types.TaskHash, queryIndex int) []byte {
	k := make([]byte, len(hash)+4)
	copy(k, hash[:])
	binary.BigEndian.PutUint32(k[len(hash):], uint32(queryIndex))
	return k
}

// Get returns the cached response for (hash, queryIndex), if present.
func (c *Cache) Get(hash types.TaskHash, queryIndex int) ([]byte, bool) {
	return c.c.HasGet(nil, cacheKey(hash, queryIndex))
}

// Set stores resp for (hash, queryIndex).
func (c *Cache) Set(hash types.TaskHash, queryIndex int, resp []byte) {
	c.c.Set(cacheKey(hash, queryIndex), resp)
}

// Invalidate drops every cached response for hash's queryCount queries,
// called once the task reschedules to a new trigger bound so a later
// attempt never reuses a response that belonged to the old bound.
func (c *Cache) Invalidate(hash types.TaskHash, queryCount int) {
	for i := 0; i < queryCount; i++ {
		c.c.Del(cacheKey(hash, i))
	}
}
