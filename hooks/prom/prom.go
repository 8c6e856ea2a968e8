// Package promhooks exports controller events as Prometheus metrics.
package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/sitecache"
)

// Hooks counts controller events. Register it with a prometheus.Registerer.
type Hooks struct {
	served        *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	installFailed prometheus.Counter
	deleted       prometheus.Counter
	writeFailed   prometheus.Counter
	selfHeal      *prometheus.CounterVec
}

var (
	_ sitecache.Hooks      = (*Hooks)(nil)
	_ prometheus.Collector = (*Hooks)(nil)
)

func New(namespace string) *Hooks {
	return &Hooks{
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "served_total",
			Help:      "Responses produced, by request kind and source.",
		}, []string{"kind", "source"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_fallback_total",
			Help:      "Document fetches that failed on the network, by whether a cached copy existed.",
		}, []string{"cache_hit"}),
		installFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "install_failed_total",
			Help:      "Generation installs that failed.",
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_deleted_total",
			Help:      "Stale generations deleted on activation.",
		}),
		writeFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_write_failed_total",
			Help:      "Responses served but not stored.",
		}),
		selfHeal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "self_heal_total",
			Help:      "Stored entries dropped on read, by reason.",
		}, []string{"reason"}),
	}
}

func (h *Hooks) Describe(ch chan<- *prometheus.Desc) {
	h.served.Describe(ch)
	h.fallbacks.Describe(ch)
	h.installFailed.Describe(ch)
	h.deleted.Describe(ch)
	h.writeFailed.Describe(ch)
	h.selfHeal.Describe(ch)
}

func (h *Hooks) Collect(ch chan<- prometheus.Metric) {
	h.served.Collect(ch)
	h.fallbacks.Collect(ch)
	h.installFailed.Collect(ch)
	h.deleted.Collect(ch)
	h.writeFailed.Collect(ch)
	h.selfHeal.Collect(ch)
}

func (h *Hooks) InstallFailed(string, error)    { h.installFailed.Inc() }
func (h *Hooks) GenerationDeleted(string)       { h.deleted.Inc() }
func (h *Hooks) CacheWriteFailed(string, error) { h.writeFailed.Inc() }
func (h *Hooks) SelfHeal(_, reason string)      { h.selfHeal.WithLabelValues(reason).Inc() }
func (h *Hooks) Served(kind, source string)     { h.served.WithLabelValues(kind, source).Inc() }

func (h *Hooks) NetworkFallback(_ string, hit bool) {
	label := "false"
	if hit {
		label = "true"
	}
	h.fallbacks.WithLabelValues(label).Inc()
}
