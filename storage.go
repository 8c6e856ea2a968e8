package sitecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	c "github.com/unkn0wn-root/sitecache/codec"
	gen "github.com/unkn0wn-root/sitecache/genstore"
	"github.com/unkn0wn-root/sitecache/internal/util"
	"github.com/unkn0wn-root/sitecache/internal/wire"
	pr "github.com/unkn0wn-root/sitecache/provider"
)

type storage struct {
	ns       string
	provider pr.Provider
	codec    c.Codec[Response]
	gens     gen.GenStore
	log      Logger
	hooks    Hooks
	now      func() time.Time
}

var _ CacheStorage = (*storage)(nil)

func newStorage(opts StorageOptions) (*storage, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("sitecache: provider is required")
	}
	s := &storage{
		ns:       opts.Namespace,
		provider: opts.Provider,
		codec:    opts.Codec,
		gens:     opts.GenStore,
		now:      time.Now,
	}
	if s.codec == nil {
		s.codec = c.JSON[Response]{}
	}
	if s.gens == nil {
		s.gens = gen.NewLocalGenStore()
	}
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	return s, nil
}

func (s *storage) Open(ctx context.Context, tag string) (GenerationCache, error) {
	if tag == "" {
		return nil, fmt.Errorf("sitecache: empty generation tag")
	}
	if err := s.gens.Create(ctx, tag); err != nil {
		return nil, fmt.Errorf("sitecache: open %q: %w", tag, err)
	}
	return &generation{s: s, tag: tag}, nil
}

func (s *storage) Has(ctx context.Context, tag string) (bool, error) {
	return s.gens.Exists(ctx, tag)
}

func (s *storage) Keys(ctx context.Context) ([]string, error) {
	return s.gens.Tags(ctx)
}

// Delete unregisters tag first, so no new reader opens it, then removes its entries.
func (s *storage) Delete(ctx context.Context, tag string) (bool, error) {
	keys, existed, err := s.gens.Drop(ctx, tag)
	if err != nil {
		return false, fmt.Errorf("sitecache: delete %q: %w", tag, err)
	}
	if !existed {
		return false, nil
	}
	storageKeys := make([]string, len(keys))
	for i, k := range keys {
		storageKeys[i] = util.EntryKey(s.ns, tag, k)
	}
	if err := pr.DelAll(ctx, s.provider, storageKeys); err != nil {
		return true, fmt.Errorf("sitecache: delete %q entries: %w", tag, err)
	}
	s.log.Debug("generation deleted", Fields{"tag": tag, "entries": len(keys)})
	return true, nil
}

// Close closes the gen store first (best effort), then the provider.
func (s *storage) Close(ctx context.Context) error {
	if s.gens != nil {
		_ = s.gens.Close(ctx)
	}
	return s.provider.Close(ctx)
}

type generation struct {
	s   *storage
	tag string
}

func (g *generation) Tag() string { return g.tag }

func (g *generation) Match(ctx context.Context, key string) (*Response, bool, error) {
	k := util.EntryKey(g.s.ns, g.tag, key)
	raw, ok, err := g.s.provider.Get(ctx, k)
	if err != nil || !ok {
		return nil, false, err
	}
	e, err := wire.DecodeEntry(raw)
	if err != nil {
		g.selfHeal(ctx, k, "corrupt")
		return nil, false, nil
	}
	if e.Tag != g.tag || e.Key != key {
		g.selfHeal(ctx, k, "tag_mismatch")
		return nil, false, nil
	}
	resp, err := g.s.codec.Decode(e.Payload)
	if err != nil {
		g.selfHeal(ctx, k, "value_decode")
		return nil, false, nil
	}
	return &resp, true, nil
}

func (g *generation) selfHeal(ctx context.Context, storageKey, reason string) {
	_ = g.s.provider.Del(ctx, storageKey)
	g.s.hooks.SelfHeal(storageKey, reason)
	g.s.log.Debug("entry dropped on read", Fields{"key": storageKey, "reason": reason})
}

func (g *generation) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return fmt.Errorf("sitecache: put %q: nil response", key)
	}
	b, err := g.frame(key, resp)
	if err != nil {
		return err
	}
	// track before storing: an untracked entry would survive generation deletion
	if err := g.track(ctx, key); err != nil {
		return err
	}
	if err := g.set(ctx, key, b); err != nil {
		return err
	}
	return g.checkLive(ctx, key)
}

func (g *generation) track(ctx context.Context, keys ...string) error {
	err := g.s.gens.Track(ctx, g.tag, keys...)
	if errors.Is(err, gen.ErrUnknownTag) {
		return fmt.Errorf("%w: %q", ErrGenerationDeleted, g.tag)
	}
	if err != nil {
		return fmt.Errorf("sitecache: track %d keys in %q: %w", len(keys), g.tag, err)
	}
	return nil
}

// checkLive removes keys again when the generation was deleted between
// Track and the provider write; Delete may already have swept them.
func (g *generation) checkLive(ctx context.Context, keys ...string) error {
	ok, err := g.s.gens.Exists(ctx, g.tag)
	if err != nil || ok {
		return err
	}
	sk := make([]string, len(keys))
	for i, k := range keys {
		sk[i] = util.EntryKey(g.s.ns, g.tag, k)
	}
	return errors.Join(
		fmt.Errorf("%w: %q", ErrGenerationDeleted, g.tag),
		pr.DelAll(ctx, g.s.provider, sk),
	)
}

// PutAll encodes every entry before writing any, then writes them in turn.
// It is not atomic on its own; install rolls the generation back on error.
func (g *generation) PutAll(ctx context.Context, entries map[string]*Response) error {
	if len(entries) == 0 {
		return nil
	}
	framed := make(map[string][]byte, len(entries))
	keys := make([]string, 0, len(entries))
	for k, r := range entries {
		if r == nil {
			return fmt.Errorf("sitecache: put %q: nil response", k)
		}
		b, err := g.frame(k, r)
		if err != nil {
			return err
		}
		framed[k] = b
		keys = append(keys, k)
	}
	if err := g.track(ctx, keys...); err != nil {
		return err
	}
	var errs []error
	for _, k := range keys {
		if err := g.set(ctx, k, framed[k]); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return g.checkLive(ctx, keys...)
}

func (g *generation) Keys(ctx context.Context) ([]string, error) {
	return g.s.gens.Members(ctx, g.tag)
}

func (g *generation) frame(key string, resp *Response) ([]byte, error) {
	payload, err := g.s.codec.Encode(*resp)
	if err != nil {
		return nil, fmt.Errorf("sitecache: encode %q: %w", key, err)
	}
	b, err := wire.EncodeEntry(g.tag, key, g.s.now(), payload)
	if err != nil {
		return nil, fmt.Errorf("sitecache: frame %q: %w", key, err)
	}
	return b, nil
}

func (g *generation) set(ctx context.Context, key string, b []byte) error {
	k := util.EntryKey(g.s.ns, g.tag, key)
	ok, err := g.s.provider.Set(ctx, k, b, int64(len(b)), 0)
	if err != nil {
		return fmt.Errorf("sitecache: store %q: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("sitecache: store %q: %w", key, ErrStoreRejected)
	}
	return nil
}
