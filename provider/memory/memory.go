// Package memory is an in-process Provider backed by a map.
// It never evicts under pressure, which makes it the safe default for
// all-or-nothing manifest installs.
package memory

import (
	"context"
	"sync"
	"time"

	pr "github.com/unkn0wn-root/sitecache/provider"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero => no expiry
}

type Provider struct {
	mu    sync.RWMutex
	items map[string]entry

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

var (
	_ pr.Provider     = (*Provider)(nil)
	_ pr.BatchDeleter = (*Provider)(nil)
)

// New creates a memory provider. When cleanupInterval > 0 a background
// goroutine drops expired entries; otherwise they are dropped lazily on Get.
func New(cleanupInterval time.Duration) *Provider {
	p := &Provider{
		items:       make(map[string]entry),
		stopCleanup: make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go p.cleanupExpired(cleanupInterval)
	}
	return p
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.RLock()
	e, ok := p.items[key]
	p.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	now := time.Now()
	if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
		p.mu.Lock()
		if cur, exists := p.items[key]; exists && !cur.expiresAt.IsZero() && now.After(cur.expiresAt) {
			delete(p.items, key)
		}
		p.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	// Copy to decouple from caller's buffer
	v := make([]byte, len(value))
	copy(v, value)

	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.mu.Lock()
	p.items[key] = entry{value: v, expiresAt: exp}
	p.mu.Unlock()
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.items, key)
	p.mu.Unlock()
	return nil
}

func (p *Provider) DelMany(_ context.Context, keys ...string) error {
	p.mu.Lock()
	for _, k := range keys {
		delete(p.items, k)
	}
	p.mu.Unlock()
	return nil
}

// Len returns the number of stored items, expired or not.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

func (p *Provider) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			p.mu.Lock()
			for k, e := range p.items {
				if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
					delete(p.items, k)
				}
			}
			p.mu.Unlock()
		case <-p.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (p *Provider) Close(_ context.Context) error {
	p.closeOnce.Do(func() { close(p.stopCleanup) })
	return nil
}
