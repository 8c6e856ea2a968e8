package sitecache

// Served sources.
const (
	SourceCache   = "cache"
	SourceNetwork = "network"
)

// Request kinds used in hook events.
const (
	KindDocument    = "document"
	KindAsset       = "asset"
	KindPassthrough = "passthrough"
)

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The controller calls them on request paths.
type Hooks interface {
	// Install of version failed; the previous generation stays authoritative.
	InstallFailed(version string, err error)

	// A stale generation was deleted during activation.
	GenerationDeleted(tag string)

	// A document fetch failed on the network.
	// hit reports whether a cached copy was served instead.
	NetworkFallback(key string, hit bool)

	// Writing a response into the current generation failed (request still served).
	CacheWriteFailed(key string, err error)

	// A stored entry was deleted on read.
	// reason ∈ {"corrupt", "tag_mismatch", "value_decode"}
	SelfHeal(storageKey, reason string)

	// A response was produced. kind ∈ {document, asset, passthrough}; source ∈ {cache, network}.
	Served(kind, source string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) InstallFailed(string, error)    {}
func (NopHooks) GenerationDeleted(string)       {}
func (NopHooks) NetworkFallback(string, bool)   {}
func (NopHooks) CacheWriteFailed(string, error) {}
func (NopHooks) SelfHeal(string, string)        {}
func (NopHooks) Served(string, string)          {}

// MultiHooks fans every event out to each of its members in order.
type MultiHooks []Hooks

func (m MultiHooks) InstallFailed(v string, err error) {
	for _, h := range m {
		h.InstallFailed(v, err)
	}
}

func (m MultiHooks) GenerationDeleted(tag string) {
	for _, h := range m {
		h.GenerationDeleted(tag)
	}
}

func (m MultiHooks) NetworkFallback(key string, hit bool) {
	for _, h := range m {
		h.NetworkFallback(key, hit)
	}
}

func (m MultiHooks) CacheWriteFailed(key string, err error) {
	for _, h := range m {
		h.CacheWriteFailed(key, err)
	}
}

func (m MultiHooks) SelfHeal(storageKey, reason string) {
	for _, h := range m {
		h.SelfHeal(storageKey, reason)
	}
}

func (m MultiHooks) Served(kind, source string) {
	for _, h := range m {
		h.Served(kind, source)
	}
}
