package sitecache

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/unkn0wn-root/sitecache/provider/memory"
)

type recordingHooks struct {
	NopHooks
	mu        sync.Mutex
	deleted   []string
	failed    []string
	fallbacks map[string]bool
	served    map[string]int
	writeErrs int
}

func newRecordingHooks() *recordingHooks {
	return &recordingHooks{fallbacks: map[string]bool{}, served: map[string]int{}}
}

func (h *recordingHooks) GenerationDeleted(tag string) {
	h.mu.Lock()
	h.deleted = append(h.deleted, tag)
	h.mu.Unlock()
}

func (h *recordingHooks) InstallFailed(v string, _ error) {
	h.mu.Lock()
	h.failed = append(h.failed, v)
	h.mu.Unlock()
}

func (h *recordingHooks) NetworkFallback(k string, hit bool) {
	h.mu.Lock()
	h.fallbacks[k] = hit
	h.mu.Unlock()
}

func (h *recordingHooks) CacheWriteFailed(string, error) {
	h.mu.Lock()
	h.writeErrs++
	h.mu.Unlock()
}

func (h *recordingHooks) Served(kind, source string) {
	h.mu.Lock()
	h.served[kind+"/"+source]++
	h.mu.Unlock()
}

// ==============================
// Install
// ==============================

// TestInstallPopulatesEveryManifestEntry: after a successful install every
// manifest key is present in the new generation.
func TestInstallPopulatesEveryManifestEntry(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	ctl := newTestController(t, "v1", st, newFakeNet(sitePages), siteManifest)

	if err := ctl.OnInstall(ctx); err != nil {
		t.Fatalf("OnInstall: %v", err)
	}
	if got := ctl.State(); got != StateInstalled {
		t.Fatalf("state=%s want installed", got)
	}

	gc, err := st.Open(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	for _, path := range siteManifest {
		resp, ok, err := gc.Match(ctx, KeyFor(http.MethodGet, path))
		if err != nil || !ok {
			t.Fatalf("manifest entry %s missing: ok=%v err=%v", path, ok, err)
		}
		if string(resp.Body) != sitePages[path] {
			t.Fatalf("entry %s body=%q want %q", path, resp.Body, sitePages[path])
		}
	}
	keys, _ := gc.Keys(ctx)
	if len(keys) != len(siteManifest) {
		t.Fatalf("generation holds %d keys, want %d", len(keys), len(siteManifest))
	}
}

// TestInstallFailureKeepsPreviousGeneration: any unfetchable manifest entry
// fails the install, creates nothing, and leaves the old generation serving.
func TestInstallFailureKeepsPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	net := newFakeNet(sitePages)
	old := activeController(t, "v1", st, net)

	cases := map[string]func(*fakeNet){
		"transport": func(n *fakeNet) { n.down["/script.js"] = true },
		"404":       func(n *fakeNet) { delete(n.pages, "/blog/") },
	}
	for name, breakNet := range cases {
		t.Run(name, func(t *testing.T) {
			broken := newFakeNet(map[string]string{})
			for k, v := range sitePages {
				broken.pages[k] = v
			}
			breakNet(broken)

			hooks := newRecordingHooks()
			next, err := New(Options{
				Config:  Config{Version: "v2-" + name, Manifest: siteManifest},
				Storage: st,
				Fetcher: broken,
				Hooks:   hooks,
			})
			if err != nil {
				t.Fatal(err)
			}
			err = next.OnInstall(ctx)
			var ie *InstallError
			if !errors.As(err, &ie) || ie.Path == "" {
				t.Fatalf("expected *InstallError with path, got %v", err)
			}
			if next.State() != StateRedundant {
				t.Fatalf("failed install state=%s want redundant", next.State())
			}
			if len(hooks.failed) != 1 {
				t.Fatalf("InstallFailed hook calls=%d", len(hooks.failed))
			}
			if err := next.OnActivate(ctx); !errors.Is(err, ErrInvalidState) {
				t.Fatalf("activate after failed install: %v", err)
			}

			tags, _ := st.Keys(ctx)
			if !reflect.DeepEqual(tags, []string{"v1"}) {
				t.Fatalf("generations after failed install=%v want [v1]", tags)
			}
			resp, err := old.OnFetch(ctx, asset("/style.css"))
			if err != nil || string(resp.Body) != "body{}" {
				t.Fatalf("old generation stopped serving: resp=%v err=%v", resp, err)
			}
		})
	}
}

func TestInstallStoreRejectionRollsBack(t *testing.T) {
	ctx := context.Background()
	rp := &rejectingProvider{
		Provider: memory.New(0),
		reject:   func(string) bool { return true },
	}
	st, err := NewStorage(StorageOptions{Provider: rp})
	if err != nil {
		t.Fatal(err)
	}
	ctl := newTestController(t, "v1", st, newFakeNet(sitePages), siteManifest)

	err = ctl.OnInstall(ctx)
	if !errors.Is(err, ErrStoreRejected) {
		t.Fatalf("expected ErrStoreRejected, got %v", err)
	}
	if ok, _ := st.Has(ctx, "v1"); ok {
		t.Fatalf("partially populated generation was not rolled back")
	}
}

func TestInstallConcurrencyBound(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	net := newFakeNet(sitePages)

	var mu sync.Mutex
	inFlight, peak := 0, 0
	f := FetcherFunc(func(ctx context.Context, req *Request) (*Response, error) {
		mu.Lock()
		inFlight++
		peak = max(peak, inFlight)
		mu.Unlock()
		defer func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		}()
		return net.Fetch(ctx, req)
	})

	ctl, err := New(Options{
		Config:             Config{Version: "v1", Manifest: siteManifest},
		Storage:            st,
		Fetcher:            f,
		InstallConcurrency: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := ctl.OnInstall(ctx); err != nil {
		t.Fatal(err)
	}
	if peak > 2 {
		t.Fatalf("peak in-flight fetches=%d want <=2", peak)
	}
}

func TestConfigIsCopied(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	manifest := []string{"/", "/style.css"}
	ctl := newTestController(t, "v1", st, newFakeNet(sitePages), manifest)
	manifest[1] = "/missing.css" // must not affect the controller

	if err := ctl.OnInstall(ctx); err != nil {
		t.Fatalf("OnInstall after caller mutated manifest: %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	st, _ := newTestStorage(t)
	net := newFakeNet(sitePages)
	for name, opts := range map[string]Options{
		"version": {Storage: st, Fetcher: net},
		"storage": {Config: Config{Version: "v1"}, Fetcher: net},
		"fetcher": {Config: Config{Version: "v1"}, Storage: st},
	} {
		if _, err := New(opts); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

// ==============================
// Activate
// ==============================

// TestActivateDeletesStaleGenerations: after activation exactly one tag remains.
func TestActivateDeletesStaleGenerations(t *testing.T) {
	ctx := context.Background()
	st, mp := newTestStorage(t)
	net := newFakeNet(sitePages)

	activeController(t, "v1", st, net)
	// an unrelated leftover generation
	junk, _ := st.Open(ctx, "josefresco-v0")
	_ = junk.Put(ctx, KeyFor("GET", "/old.css"), &Response{Status: 200, Body: []byte("old")})

	hooks := newRecordingHooks()
	next, _ := New(Options{Config: Config{Version: "v2", Manifest: siteManifest}, Storage: st, Fetcher: net, Hooks: hooks})
	if err := next.OnInstall(ctx); err != nil {
		t.Fatal(err)
	}
	if err := next.OnActivate(ctx); err != nil {
		t.Fatalf("OnActivate: %v", err)
	}

	tags, err := st.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tags, []string{"v2"}) {
		t.Fatalf("generations=%v want [v2]", tags)
	}
	if !reflect.DeepEqual(hooks.deleted, []string{"josefresco-v0", "v1"}) {
		t.Fatalf("deleted hooks=%v", hooks.deleted)
	}
	if mp.Len() != len(siteManifest) {
		t.Fatalf("provider holds %d entries, want only v2's %d", mp.Len(), len(siteManifest))
	}
}

func TestLifecycleOrderEnforced(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	ctl := newTestController(t, "v1", st, newFakeNet(sitePages), siteManifest)

	if err := ctl.OnActivate(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("activate before install: %v", err)
	}
	if _, err := ctl.OnFetch(ctx, asset("/style.css")); !errors.Is(err, ErrNotActive) {
		t.Fatalf("fetch before activate: %v", err)
	}
	if err := ctl.OnInstall(ctx); err != nil {
		t.Fatal(err)
	}
	if err := ctl.OnInstall(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second install: %v", err)
	}
	if _, err := ctl.OnFetch(ctx, asset("/style.css")); !errors.Is(err, ErrNotActive) {
		t.Fatalf("fetch while waiting: %v", err)
	}
	if err := ctl.OnActivate(ctx); err != nil {
		t.Fatal(err)
	}
	if ctl.State() != StateActivated {
		t.Fatalf("state=%s", ctl.State())
	}
}

// ==============================
// Fetch: documents (network-first)
// ==============================

// TestDocumentNetworkSuccessWritesThrough: the network response is returned
// and an equivalent copy is stored.
func TestDocumentNetworkSuccessWritesThrough(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	net := newFakeNet(sitePages)
	ctl := activeController(t, "v1", st, net)

	net.set("/index.html", "<html>fresh</html>")
	resp, err := ctl.OnFetch(ctx, nav("/index.html"))
	if err != nil {
		t.Fatalf("OnFetch: %v", err)
	}
	if string(resp.Body) != "<html>fresh</html>" {
		t.Fatalf("document not fetched from network: %q", resp.Body)
	}

	gc, _ := st.Open(ctx, "v1")
	stored, ok, err := gc.Match(ctx, KeyFor("GET", "/index.html"))
	if err != nil || !ok {
		t.Fatalf("write-through missing: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(stored, resp) {
		t.Fatalf("stored=%+v want %+v", stored, resp)
	}

	// the stored copy must not alias the returned response
	resp.Body[0] = 'X'
	again, _, _ := gc.Match(ctx, KeyFor("GET", "/index.html"))
	if string(again.Body) != "<html>fresh</html>" {
		t.Fatalf("stored copy aliased returned response")
	}
}

// TestDocumentNetworkFailureFallsBackToCache returns the cached entry.
func TestDocumentNetworkFailureFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	net := newFakeNet(sitePages)
	hooks := newRecordingHooks()
	ctl, _ := New(Options{Config: Config{Version: "v1", Manifest: siteManifest}, Storage: st, Fetcher: net, Hooks: hooks})
	_ = ctl.OnInstall(ctx)
	_ = ctl.OnActivate(ctx)

	gc, _ := st.Open(ctx, "v1")
	want, _, _ := gc.Match(ctx, KeyFor("GET", "/blog/"))

	net.goOffline()
	got, err := ctl.OnFetch(ctx, nav("/blog/"))
	if err != nil {
		t.Fatalf("OnFetch offline: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("fallback=%+v want cached %+v", got, want)
	}
	if hit := hooks.fallbacks[KeyFor("GET", "/blog/")]; !hit {
		t.Fatalf("NetworkFallback hook not reported as hit")
	}
	if hooks.served[KindDocument+"/"+SourceCache] != 1 {
		t.Fatalf("served=%v", hooks.served)
	}
}

func TestDocumentNetworkFailureWithoutCacheFails(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	net := newFakeNet(sitePages)
	ctl := activeController(t, "v1", st, net)

	net.goOffline()
	resp, err := ctl.OnFetch(ctx, nav("/projects/unknown.html"))
	if resp != nil {
		t.Fatalf("expected no response, got %+v", resp)
	}
	if !errors.Is(err, ErrNoResponse) || !errors.Is(err, errOffline) {
		t.Fatalf("expected ErrNoResponse wrapping network error, got %v", err)
	}
}

func TestDocumentNotOKIsReturnedButNotStored(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	net := newFakeNet(sitePages)
	ctl := activeController(t, "v1", st, net)

	delete(net.pages, "/index.html") // origin now answers 404
	resp, err := ctl.OnFetch(ctx, nav("/index.html"))
	if err != nil || resp.Status != http.StatusNotFound {
		t.Fatalf("expected live 404, got resp=%+v err=%v", resp, err)
	}
	gc, _ := st.Open(ctx, "v1")
	stored, ok, _ := gc.Match(ctx, KeyFor("GET", "/index.html"))
	if !ok || stored.Status != http.StatusOK {
		t.Fatalf("404 overwrote the cached document: %+v", stored)
	}
}

// ==============================
// Fetch: assets (cache-first)
// ==============================

// TestAssetCacheHitSkipsNetwork: no network call, cached entry unchanged.
func TestAssetCacheHitSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	net := newFakeNet(sitePages)
	ctl := activeController(t, "v1", st, net)

	gc, _ := st.Open(ctx, "v1")
	want, _, _ := gc.Match(ctx, KeyFor("GET", "/style.css"))
	before := net.totalCalls()

	net.set("/style.css", "body{color:red}") // redeploy without version bump
	got, err := ctl.OnFetch(ctx, asset("/style.css"))
	if err != nil {
		t.Fatal(err)
	}
	if net.totalCalls() != before {
		t.Fatalf("cache hit made %d network calls", net.totalCalls()-before)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want cached %+v", got, want)
	}
}

// TestAssetCacheMissSelfHeals: the fetched asset is returned and now cached.
func TestAssetCacheMissSelfHeals(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	net := newFakeNet(sitePages)
	ctl := activeController(t, "v1", st, net)

	net.set("/img/logo.png", "png")
	resp, err := ctl.OnFetch(ctx, asset("/img/logo.png"))
	if err != nil || string(resp.Body) != "png" {
		t.Fatalf("OnFetch miss: resp=%+v err=%v", resp, err)
	}
	gc, _ := st.Open(ctx, "v1")
	if _, ok, _ := gc.Match(ctx, KeyFor("GET", "/img/logo.png")); !ok {
		t.Fatalf("miss was not populated")
	}

	// second request served from cache even when offline
	net.goOffline()
	if _, err := ctl.OnFetch(ctx, asset("/img/logo.png")); err != nil {
		t.Fatalf("populated asset not served offline: %v", err)
	}
	if net.callsFor("/img/logo.png") != 1 {
		t.Fatalf("network calls for populated asset=%d want 1", net.callsFor("/img/logo.png"))
	}
}

func TestAssetMissNetworkFailurePropagates(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	net := newFakeNet(sitePages)
	ctl := activeController(t, "v1", st, net)

	net.goOffline()
	if _, err := ctl.OnFetch(ctx, asset("/img/missing.png")); !errors.Is(err, errOffline) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestAssetNotOKIsNotCached(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	net := newFakeNet(sitePages)
	ctl := activeController(t, "v1", st, net)

	resp, err := ctl.OnFetch(ctx, asset("/nope.js"))
	if err != nil || resp.Status != http.StatusNotFound {
		t.Fatalf("resp=%+v err=%v", resp, err)
	}
	gc, _ := st.Open(ctx, "v1")
	if _, ok, _ := gc.Match(ctx, KeyFor("GET", "/nope.js")); ok {
		t.Fatalf("404 asset was cached")
	}
}

func TestNonGETBypassesCache(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	net := newFakeNet(sitePages)
	ctl := activeController(t, "v1", st, net)

	before := net.callsFor("/style.css")
	req := &Request{Method: http.MethodPost, URL: "/style.css", Mode: ModeCORS}
	if _, err := ctl.OnFetch(ctx, req); err != nil {
		t.Fatal(err)
	}
	if net.callsFor("/style.css") != before+1 {
		t.Fatalf("POST did not reach the network")
	}
	gc, _ := st.Open(ctx, "v1")
	keys, _ := gc.Keys(ctx)
	for _, k := range keys {
		if strings.HasPrefix(k, "POST ") {
			t.Fatalf("POST response was cached under %q", k)
		}
	}
}

func TestCacheWriteFailureStillServes(t *testing.T) {
	ctx := context.Background()
	rp := &rejectingProvider{Provider: memory.New(0)}
	st, _ := NewStorage(StorageOptions{Provider: rp})
	net := newFakeNet(sitePages)
	hooks := newRecordingHooks()
	ctl, _ := New(Options{Config: Config{Version: "v1", Manifest: siteManifest}, Storage: st, Fetcher: net, Hooks: hooks})
	if err := ctl.OnInstall(ctx); err != nil {
		t.Fatal(err)
	}
	_ = ctl.OnActivate(ctx)

	rp.reject = func(string) bool { return true }
	net.set("/late.css", "late")
	resp, err := ctl.OnFetch(ctx, asset("/late.css"))
	if err != nil || string(resp.Body) != "late" {
		t.Fatalf("resp=%+v err=%v", resp, err)
	}
	if hooks.writeErrs != 1 {
		t.Fatalf("CacheWriteFailed calls=%d want 1", hooks.writeErrs)
	}
}

func TestConcurrentFetchSameKey(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	net := newFakeNet(sitePages)
	ctl := activeController(t, "v1", st, net)
	net.set("/race.js", "race")

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := ctl.OnFetch(ctx, asset("/race.js"))
			if err == nil && string(resp.Body) != "race" {
				err = errors.New("wrong body " + string(resp.Body))
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	gc, _ := st.Open(ctx, "v1")
	if _, ok, _ := gc.Match(ctx, KeyFor("GET", "/race.js")); !ok {
		t.Fatalf("racing populates left no entry")
	}
}

func TestMultiHooksFanOut(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	a, b := newRecordingHooks(), newRecordingHooks()
	ctl, err := New(Options{
		Config:  Config{Version: "v1", Manifest: siteManifest},
		Storage: st,
		Fetcher: newFakeNet(sitePages),
		Hooks:   MultiHooks{a, b},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := ctl.OnInstall(ctx); err != nil {
		t.Fatal(err)
	}
	if err := ctl.OnActivate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := ctl.OnFetch(ctx, asset("/style.css")); err != nil {
		t.Fatal(err)
	}
	for i, h := range []*recordingHooks{a, b} {
		h.mu.Lock()
		got := h.served[KindAsset+"/"+SourceCache]
		h.mu.Unlock()
		if got != 1 {
			t.Fatalf("hooks[%d] served=%d want 1", i, got)
		}
	}
}

// TestSupersededControllerCannotRecreateGeneration: a request still running on
// the previous controller after the next version activated must not bring
// the deleted generation back.
func TestSupersededControllerCannotRecreateGeneration(t *testing.T) {
	ctx := context.Background()
	st, mp := newTestStorage(t)
	net := newFakeNet(sitePages)
	net.set("/late.css", "late")

	old := activeController(t, "v1", st, net)
	hooks := newRecordingHooks()
	next, _ := New(Options{Config: Config{Version: "v2", Manifest: siteManifest}, Storage: st, Fetcher: net})
	if err := next.OnInstall(ctx); err != nil {
		t.Fatal(err)
	}
	if err := next.OnActivate(ctx); err != nil {
		t.Fatal(err)
	}
	old.(*controller).hooks = hooks

	resp, err := old.OnFetch(ctx, asset("/late.css"))
	if err != nil || string(resp.Body) != "late" {
		t.Fatalf("in-flight request must still be served: resp=%v err=%v", resp, err)
	}
	tags, _ := st.Keys(ctx)
	if !reflect.DeepEqual(tags, []string{"v2"}) {
		t.Fatalf("generations=%v want [v2]", tags)
	}
	if mp.Len() != len(siteManifest) {
		t.Fatalf("provider holds %d entries, want only v2's %d", mp.Len(), len(siteManifest))
	}
	if hooks.writeErrs != 1 {
		t.Fatalf("write into deleted generation not reported: %d", hooks.writeErrs)
	}
}

func TestPutIntoDeletedGenerationFails(t *testing.T) {
	ctx := context.Background()
	st, mp := newTestStorage(t)
	gc, _ := st.Open(ctx, "v1")
	if _, err := st.Delete(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	err := gc.Put(ctx, KeyFor("GET", "/a.css"), &Response{Status: 200})
	if !errors.Is(err, ErrGenerationDeleted) {
		t.Fatalf("err=%v want ErrGenerationDeleted", err)
	}
	if ok, _ := st.Has(ctx, "v1"); ok || mp.Len() != 0 {
		t.Fatalf("deleted generation recreated: has=%v entries=%d", ok, mp.Len())
	}
}

func TestRetireStopsServing(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStorage(t)
	net := newFakeNet(sitePages)
	ctl := activeController(t, "v1", st, net)

	ctl.Retire()
	if ctl.State() != StateRedundant {
		t.Fatalf("state=%s want redundant", ctl.State())
	}
	if _, err := ctl.OnFetch(ctx, asset("/style.css")); !errors.Is(err, ErrNotActive) {
		t.Fatalf("err=%v want ErrNotActive", err)
	}
	if net.totalCalls() != len(siteManifest) {
		t.Fatalf("retired controller hit the network")
	}
}
