// Package cache fronts the mint-eligibility computation with an
// explicitly-invalidated TTL cache. Entries are JSON blobs keyed by
// "mint:{user}"; workers evict a user's entry whenever their inventory
// changed, so a read after any reconciliation recomputes from storage.
package cache

import "context"

// DerivedCache stores serialized derived results with a TTL. Implementations
// must treat a missing key as a miss, not an error.
type DerivedCache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores the value under the implementation's TTL.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
