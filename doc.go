// Package sitecache implements an offline asset cache controller for a static
// site: a versioned cache of responses sitting between page requests and the
// network, with cache-first serving for assets and network-first serving for
// navigational documents.
//
// Components:
//   - Controller: OnInstall / OnActivate / OnFetch, driven by a host (see package host).
//   - CacheStorage: named generations of cached responses (one per version tag).
//   - Provider: byte store holding framed entries (memory, Ristretto, BigCache, Redis).
//   - Codec[Response]: (de)serializes response snapshots <-> []byte.
//   - GenStore: registry of generation tags and the request keys each one holds.
//
// Keys:
//
//	entry:<tag>:<hash>  - one stored response (hash over the normalized request key)
//
// Lifecycle:
//
//	ctrl, _ := sitecache.New(sitecache.Options{Config: cfg, Storage: st, Fetcher: f})
//	_ = ctrl.OnInstall(ctx)  // all-or-nothing manifest populate
//	_ = ctrl.OnActivate(ctx) // drop every other generation
//	resp, err := ctrl.OnFetch(ctx, req)
package sitecache
