package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/sitecache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	FallbackEvery uint64
	SelfHealEvery uint64
	// LogServed logs every served response at debug level (noisy).
	LogServed bool
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	fallbackCtr atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ sitecache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) InstallFailed(version string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("sitecache.install_failed",
		"version", version,
		"err", err)
}

func (h *Hooks) GenerationDeleted(tag string) {
	if h.l == nil {
		return
	}
	h.l.Info("sitecache.generation_deleted",
		"tag", tag)
}

func (h *Hooks) NetworkFallback(key string, hit bool) {
	if h.l == nil || !sample(h.opts.FallbackEvery, &h.fallbackCtr) {
		return
	}
	h.l.Warn("sitecache.network_fallback",
		"key", h.redact(key),
		"cache_hit", hit)
}

func (h *Hooks) CacheWriteFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("sitecache.cache_write_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("sitecache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) Served(kind, source string) {
	if h.l == nil || !h.opts.LogServed {
		return
	}
	h.l.Debug("sitecache.served",
		"kind", kind,
		"source", source)
}
