package sitecache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/sitecache/provider/memory"
)

var errOffline = errors.New("network unreachable")

// fakeNet is an in-memory origin. Paths missing from pages answer 404.
type fakeNet struct {
	mu      sync.Mutex
	pages   map[string]string
	down    map[string]bool // path -> transport failure
	offline bool
	calls   map[string]int
}

func newFakeNet(pages map[string]string) *fakeNet {
	// copy so per-test mutations never leak into the shared fixture
	own := make(map[string]string, len(pages))
	for k, v := range pages {
		own[k] = v
	}
	return &fakeNet{pages: own, down: map[string]bool{}, calls: map[string]int{}}
}

func (n *fakeNet) Fetch(_ context.Context, req *Request) (*Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[req.URL]++
	if n.offline || n.down[req.URL] {
		return nil, errOffline
	}
	body, ok := n.pages[req.URL]
	if !ok {
		return &Response{Status: http.StatusNotFound, StatusText: "Not Found", URL: req.URL}, nil
	}
	return &Response{
		Status:     http.StatusOK,
		StatusText: "OK",
		Header:     map[string][]string{"Content-Type": {"text/plain"}},
		Body:       []byte(body),
		URL:        req.URL,
	}, nil
}

func (n *fakeNet) set(path, body string) {
	n.mu.Lock()
	n.pages[path] = body
	n.mu.Unlock()
}

func (n *fakeNet) goOffline() {
	n.mu.Lock()
	n.offline = true
	n.mu.Unlock()
}

func (n *fakeNet) callsFor(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[path]
}

func (n *fakeNet) totalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.calls {
		total += c
	}
	return total
}

// rejectingProvider wraps memory and refuses writes for keys selected by reject.
type rejectingProvider struct {
	*memory.Provider
	reject func(key string) bool
}

func (p *rejectingProvider) Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if p.reject != nil && p.reject(key) {
		return false, nil
	}
	return p.Provider.Set(ctx, key, value, cost, ttl)
}

var sitePages = map[string]string{
	"/":            "<html>home</html>",
	"/index.html":  "<html>home</html>",
	"/style.css":   "body{}",
	"/script.js":   "console.log(1)",
	"/favicon.ico": "ico",
	"/blog/":       "<html>blog</html>",
}

var siteManifest = []string{"/", "/index.html", "/style.css", "/script.js", "/favicon.ico", "/blog/"}

func newTestStorage(t *testing.T) (CacheStorage, *memory.Provider) {
	t.Helper()
	mp := memory.New(0)
	st, err := NewStorage(StorageOptions{Provider: mp})
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return st, mp
}

func newTestController(t *testing.T, version string, st CacheStorage, f Fetcher, manifest []string) Controller {
	t.Helper()
	ctl, err := New(Options{
		Config:  Config{Version: version, Manifest: manifest},
		Storage: st,
		Fetcher: f,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ctl
}

// activeController installs and activates version against a fresh origin.
func activeController(t *testing.T, version string, st CacheStorage, f Fetcher) Controller {
	t.Helper()
	ctx := context.Background()
	ctl := newTestController(t, version, st, f, siteManifest)
	if err := ctl.OnInstall(ctx); err != nil {
		t.Fatalf("OnInstall: %v", err)
	}
	if err := ctl.OnActivate(ctx); err != nil {
		t.Fatalf("OnActivate: %v", err)
	}
	return ctl
}

func nav(url string) *Request {
	return &Request{Method: http.MethodGet, URL: url, Mode: ModeNavigate}
}

func asset(url string) *Request {
	return &Request{Method: http.MethodGet, URL: url, Mode: ModeNoCORS}
}
