// Package cache provides the generic caching primitives used across the
// renderer.
//
// # List[K]
//
// An intrusive recency list. The texture cache keeps one per atlas
// partition and walks it from the back to find eviction candidates.
//
// # Cache[K, V]
//
// A thread-safe LRU cache with a soft limit, used to memoize compiled shader
// modules.
//
// # ShardedCache[K, V]
//
// A sharded LRU cache for state shared by document actors running in
// parallel, such as parsed font templates keyed by content hash.
//
//	fonts := cache.NewSharded[uint64, *Template](64, cache.Uint64Hasher)
//	tmpl := fonts.GetOrCreate(hash, parse)
//
// Neither Cache nor ShardedCache should be copied after creation.
package cache
