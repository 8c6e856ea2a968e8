package sitecache

import (
	"context"

	c "github.com/unkn0wn-root/sitecache/codec"
	gen "github.com/unkn0wn-root/sitecache/genstore"
	pr "github.com/unkn0wn-root/sitecache/provider"
)

// Controller decides, per intercepted request, whether to consult the cache or
// the network first, and manages the generation lifecycle of one version.
// The three event methods are invoked by a host adapter.
type Controller interface {
	OnInstall(ctx context.Context) error
	OnActivate(ctx context.Context) error
	OnFetch(ctx context.Context, req *Request) (*Response, error)

	// Retire marks the controller redundant once a newer version has been
	// claimed. OnFetch then returns ErrNotActive.
	Retire()

	State() State
	Version() string
}

// CacheStorage holds named generations of cached responses.
type CacheStorage interface {
	// Open returns the generation named tag, creating it if absent.
	Open(ctx context.Context, tag string) (GenerationCache, error)
	Has(ctx context.Context, tag string) (bool, error)
	// Keys lists the tags of every known generation.
	Keys(ctx context.Context) ([]string, error)
	// Delete drops the generation and all of its entries. Reports whether it existed.
	Delete(ctx context.Context, tag string) (bool, error)
	Close(ctx context.Context) error
}

// GenerationCache is one generation: request key -> stored response.
type GenerationCache interface {
	Tag() string
	// Match returns (resp, true, nil) on hit; (nil, false, nil) on miss.
	Match(ctx context.Context, key string) (*Response, bool, error)
	// Put upserts resp under key.
	Put(ctx context.Context, key string, resp *Response) error
	PutAll(ctx context.Context, entries map[string]*Response) error
	Keys(ctx context.Context) ([]string, error)
}

// Fetcher is the network.
// A transport failure is an error; an HTTP error status is a non-ok Response.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

// Config is the immutable per-version configuration of a controller.
type Config struct {
	Version  string   // generation tag; compared by exact string equality
	Manifest []string // root-relative paths populated on install, in order
}

// Options wire a Controller. Config, Storage and Fetcher are required.
type Options struct {
	Config  Config
	Storage CacheStorage
	Fetcher Fetcher

	Logger             Logger // if nil, NopLogger is used
	Hooks              Hooks  // if nil, NopHooks is used
	InstallConcurrency int    // manifest fetches in flight; 0 => 4
}

func New(opts Options) (Controller, error) {
	return newController(opts)
}

// StorageOptions tune NewStorage. Only Provider is required.
type StorageOptions struct {
	Provider pr.Provider
	// Namespace prefixes provider keys so several sites can share one
	// provider. Use the same value as the redis genstore namespace.
	Namespace string
	Codec     c.Codec[Response] // nil => JSON
	GenStore  gen.GenStore      // nil => LocalGenStore (in-process)
	Logger    Logger            // if nil, NopLogger is used
	Hooks     Hooks             // if nil, NopHooks is used
}

func NewStorage(opts StorageOptions) (CacheStorage, error) {
	return newStorage(opts)
}
