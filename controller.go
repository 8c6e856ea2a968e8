package sitecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
)

type controller struct {
	cfg     Config
	storage CacheStorage
	fetcher Fetcher
	log     Logger
	hooks   Hooks

	installConcurrency int

	mu      sync.Mutex // guards state and current
	state   State
	current GenerationCache // set on activation
}

var _ Controller = (*controller)(nil)

func newController(opts Options) (*controller, error) {
	if opts.Config.Version == "" {
		return nil, fmt.Errorf("sitecache: version is required")
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("sitecache: storage is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("sitecache: fetcher is required")
	}

	ctl := &controller{
		cfg: Config{
			Version:  opts.Config.Version,
			Manifest: append([]string(nil), opts.Config.Manifest...),
		},
		storage: opts.Storage,
		fetcher: opts.Fetcher,
	}
	ctl.log = coalesce[Logger](opts.Logger, NopLogger{})
	ctl.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	ctl.installConcurrency = coalesce(opts.InstallConcurrency, defaultInstallConcurrency)
	return ctl, nil
}

func (ctl *controller) Version() string { return ctl.cfg.Version }

func (ctl *controller) State() State {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.state
}

// transition moves from -> to, failing when the current state is not from.
func (ctl *controller) transition(from, to State) error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.state != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidState, from, to, ctl.state)
	}
	ctl.state = to
	return nil
}

func (ctl *controller) setState(s State) {
	ctl.mu.Lock()
	ctl.state = s
	ctl.mu.Unlock()
}

// OnInstall fetches the whole manifest, then stores it into the version's
// generation. A generation is created only once every fetch succeeded, and is
// removed again when storing fails, so a failed install leaves storage as it was.
func (ctl *controller) OnInstall(ctx context.Context) error {
	if err := ctl.transition(StateNew, StateInstalling); err != nil {
		return err
	}
	err := ctl.install(ctx)
	if err != nil {
		ctl.setState(StateRedundant)
		ctl.hooks.InstallFailed(ctl.cfg.Version, err)
		ctl.log.Warn("install failed", Fields{"version": ctl.cfg.Version, "err": err})
		return err
	}
	ctl.setState(StateInstalled)
	ctl.log.Info("installed", Fields{"version": ctl.cfg.Version, "entries": len(ctl.cfg.Manifest)})
	return nil
}

func (ctl *controller) install(ctx context.Context) error {
	ver := ctl.cfg.Version
	entries, err := ctl.fetchManifest(ctx)
	if err != nil {
		return err
	}

	existed, err := ctl.storage.Has(ctx, ver)
	if err != nil {
		return &InstallError{Version: ver, Err: err}
	}
	gc, err := ctl.storage.Open(ctx, ver)
	if err != nil {
		return &InstallError{Version: ver, Err: err}
	}
	if err := gc.PutAll(ctx, entries); err != nil {
		// roll back only what this install created; a re-install of the live
		// version must not wipe the generation that is serving
		if !existed {
			if _, derr := ctl.storage.Delete(ctx, ver); derr != nil {
				err = errors.Join(err, derr)
			}
		}
		return &InstallError{Version: ver, Err: err}
	}
	return nil
}

// fetchManifest fetches every manifest path with bounded concurrency.
// The first failure cancels the rest.
func (ctl *controller) fetchManifest(ctx context.Context) (map[string]*Response, error) {
	ver := ctl.cfg.Version
	results := make([]*Response, len(ctl.cfg.Manifest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ctl.installConcurrency)
	for i, path := range ctl.cfg.Manifest {
		g.Go(func() error {
			req := &Request{Method: http.MethodGet, URL: path, Mode: ModeSameOrigin}
			resp, err := ctl.fetcher.Fetch(gctx, req)
			if err != nil {
				return &InstallError{Version: ver, Path: path, Err: err}
			}
			if !resp.OK() {
				return &InstallError{Version: ver, Path: path, Status: resp.Status, Err: badStatusError{status: resp.Status}}
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make(map[string]*Response, len(results))
	for i, path := range ctl.cfg.Manifest {
		entries[KeyFor(http.MethodGet, path)] = results[i]
	}
	return entries, nil
}

// OnActivate deletes every generation other than this version's, awaiting all
// deletions before the controller starts serving.
func (ctl *controller) OnActivate(ctx context.Context) error {
	if err := ctl.transition(StateInstalled, StateActivating); err != nil {
		return err
	}
	tags, err := ctl.storage.Keys(ctx)
	if err != nil {
		ctl.setState(StateInstalled)
		return fmt.Errorf("sitecache: activate %q: list generations: %w", ctl.cfg.Version, err)
	}

	var errs []error
	for _, tag := range tags {
		if tag == ctl.cfg.Version {
			continue
		}
		if _, err := ctl.storage.Delete(ctx, tag); err != nil {
			errs = append(errs, err)
			continue
		}
		ctl.hooks.GenerationDeleted(tag)
		ctl.log.Info("stale generation deleted", Fields{"tag": tag, "version": ctl.cfg.Version})
	}
	if len(errs) > 0 {
		ctl.setState(StateInstalled) // retryable
		return fmt.Errorf("sitecache: activate %q: %w", ctl.cfg.Version, errors.Join(errs...))
	}

	gc, err := ctl.storage.Open(ctx, ctl.cfg.Version)
	if err != nil {
		ctl.setState(StateInstalled)
		return fmt.Errorf("sitecache: activate %q: %w", ctl.cfg.Version, err)
	}

	ctl.mu.Lock()
	ctl.current = gc
	ctl.state = StateActivated
	ctl.mu.Unlock()
	ctl.log.Info("activated", Fields{"version": ctl.cfg.Version})
	return nil
}

func (ctl *controller) Retire() {
	ctl.mu.Lock()
	ctl.state = StateRedundant
	ctl.current = nil
	ctl.mu.Unlock()
	ctl.log.Info("retired", Fields{"version": ctl.cfg.Version})
}

func (ctl *controller) OnFetch(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("sitecache: nil request")
	}
	ctl.mu.Lock()
	state, gc := ctl.state, ctl.current
	ctl.mu.Unlock()
	if state != StateActivated {
		return nil, ErrNotActive
	}

	if req.method() != http.MethodGet {
		resp, err := ctl.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		ctl.hooks.Served(KindPassthrough, SourceNetwork)
		return resp, nil
	}

	key := RequestKey(req)
	if req.IsNavigation() {
		return ctl.networkFirst(ctx, gc, key, req)
	}
	return ctl.cacheFirst(ctx, gc, key, req)
}

// networkFirst serves documents: live when reachable, cached copy otherwise.
func (ctl *controller) networkFirst(ctx context.Context, gc GenerationCache, key string, req *Request) (*Response, error) {
	resp, netErr := ctl.fetcher.Fetch(ctx, req)
	if netErr == nil {
		if resp.OK() {
			ctl.store(ctx, gc, key, resp)
		}
		ctl.hooks.Served(KindDocument, SourceNetwork)
		return resp, nil
	}

	cached, hit := ctl.match(ctx, gc, key)
	ctl.hooks.NetworkFallback(key, hit)
	if !hit {
		ctl.log.Debug("document unavailable", Fields{"key": key, "err": netErr})
		return nil, fmt.Errorf("%w for %s: %w", ErrNoResponse, key, netErr)
	}
	ctl.log.Debug("document served from cache", Fields{"key": key, "err": netErr})
	ctl.hooks.Served(KindDocument, SourceCache)
	return cached, nil
}

// cacheFirst serves assets: cached when present, otherwise fetched and stored.
func (ctl *controller) cacheFirst(ctx context.Context, gc GenerationCache, key string, req *Request) (*Response, error) {
	if cached, hit := ctl.match(ctx, gc, key); hit {
		ctl.hooks.Served(KindAsset, SourceCache)
		return cached, nil
	}
	resp, err := ctl.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.OK() {
		ctl.store(ctx, gc, key, resp)
	}
	ctl.hooks.Served(KindAsset, SourceNetwork)
	return resp, nil
}

// match treats read errors as a miss.
func (ctl *controller) match(ctx context.Context, gc GenerationCache, key string) (*Response, bool) {
	resp, ok, err := gc.Match(ctx, key)
	if err != nil {
		ctl.log.Warn("cache read failed", Fields{"key": key, "err": err})
		return nil, false
	}
	return resp, ok
}

// store upserts a copy of resp; failures are reported, never returned.
func (ctl *controller) store(ctx context.Context, gc GenerationCache, key string, resp *Response) {
	if err := gc.Put(ctx, key, resp.Clone()); err != nil {
		ctl.hooks.CacheWriteFailed(key, err)
		ctl.log.Warn("cache write failed", Fields{"key": key, "err": err})
	}
}
