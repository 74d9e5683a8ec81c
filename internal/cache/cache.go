// Package cache holds the process-wide translation cache: a TTL-expiring, size-bounded
// string store with pluggable backends.
package cache

import "context"

// EvictCallback is called when an entry leaves the cache because of size pressure or expiry.
// The redis provider reports an empty value.
type EvictCallback func(key, value string)

// Cache is safe for concurrent use by every in-flight translation.
type Cache interface {
	// Get returns the live value for key.
	Get(ctx context.Context, key string) (string, bool)

	// Set stores value under key with the provider's TTL, overwriting any previous value.
	Set(ctx context.Context, key, value string)

	// Len returns the number of live entries.
	Len() int

	Close() error
}
