// Package provider defines the byte store behind sitecache generations.
//
// Implementations MUST be byte-for-byte transparent: Get returns exactly the
// []byte previously passed to Set for that key. Stored values are framed
// response snapshots; a store that rewrites them (compression, metadata) must
// undo it on Get.
//
// The keyspace "entry:<tag>:" is owned by sitecache. Foreign values under it
// fail wire validation and are deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs, safe for concurrent use.
// sitecache writes entries with ttl=0: a generation never expires on its own.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value; ttl<=0 => no expiry. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort, missing is not an error).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// BatchDeleter is implemented by providers that remove many keys per round-trip.
// Generation deletion uses it when available.
type BatchDeleter interface {
	DelMany(ctx context.Context, keys ...string) error
}

// DelAll removes keys through p, batching when p supports it.
// It keeps going after a failed Del and returns the first error.
func DelAll(ctx context.Context, p Provider, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if bd, ok := p.(BatchDeleter); ok {
		return bd.DelMany(ctx, keys...)
	}
	var first error
	for _, k := range keys {
		if err := p.Del(ctx, k); err != nil && first == nil {
			first = err
		}
	}
	return first
}
