package genstore

import (
	"context"
	"errors"
)

// ErrUnknownTag is returned by Track when tag is not registered.
// Only Create registers a tag, so a dropped generation stays dropped.
var ErrUnknownTag = errors.New("genstore: unknown generation tag")

// GenStore abstracts where the generation registry lives: which version tags
// exist and which request keys each generation holds.
// Use LocalGenStore (default) for in-process state, or RedisGenStore to share
// it across replicas and restarts.
type GenStore interface {
	// Create registers tag; no-op when it already exists.
	Create(ctx context.Context, tag string) error
	Exists(ctx context.Context, tag string) (bool, error)
	// Tags returns every registered tag, sorted ascending.
	Tags(ctx context.Context) ([]string, error)
	// Track records keys as members of tag. Fails with ErrUnknownTag when tag
	// is not registered; the check and the add are atomic.
	Track(ctx context.Context, tag string, keys ...string) error
	// Members returns the keys tracked for tag, sorted ascending; missing tag => empty.
	Members(ctx context.Context, tag string) ([]string, error)
	// Drop unregisters tag and returns the keys it held.
	Drop(ctx context.Context, tag string) (keys []string, existed bool, err error)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
