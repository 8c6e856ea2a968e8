// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{FallbackEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	ctrl, _ := sitecache.New(sitecache.Options{
//	    Config:  cfg,
//	    Storage: storage,
//	    Fetcher: fetcher,
//	    Hooks:   hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/sitecache"
)

// Hooks forwards events to inner on worker goroutines.
// When the queue is full the event is dropped and counted.
type Hooks struct {
	inner   sitecache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ sitecache.Hooks = (*Hooks)(nil)

func New(inner sitecache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	defer func() {
		// send on a channel closed concurrently by Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) InstallFailed(v string, err error) { h.try(func() { h.inner.InstallFailed(v, err) }) }
func (h *Hooks) GenerationDeleted(tag string)      { h.try(func() { h.inner.GenerationDeleted(tag) }) }
func (h *Hooks) NetworkFallback(k string, hit bool) {
	h.try(func() { h.inner.NetworkFallback(k, hit) })
}
func (h *Hooks) CacheWriteFailed(k string, err error) {
	h.try(func() { h.inner.CacheWriteFailed(k, err) })
}
func (h *Hooks) SelfHeal(k, r string)       { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) Served(kind, source string) { h.try(func() { h.inner.Served(kind, source) }) }
