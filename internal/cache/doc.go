// Package cache provides a bounded, TTL-expiring key/value cache.
//
// The relay keeps several process-lifetime lookups (composite message ids
// already emitted, the remote conversation resolved for a source id, numeric
// inbox ids). Each lives in a Cache so long-running multi-tenant processes do
// not grow without bound: entries expire after a TTL and the least recently
// used entry is evicted once the size limit is reached.
package cache
