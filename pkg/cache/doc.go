// Package cache holds computed analytics reports between requests.
//
// Entries are keyed by tenant, date range and report scope and expire after
// a TTL. Clear drops every entry at once; the rollup calls it after writing
// new daily metrics so reports are never served from before the write.
//
// Two backends are provided:
//
//	MemoryCache  in-process LRU with per-entry expiry
//	RedisCache   shared across replicas, keys namespaced by a prefix
package cache
