// Package fetch is the network side of the controller: an HTTP Fetcher
// bound to one origin.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/unkn0wn-root/sitecache"
)

const defaultMaxBodyBytes = 32 << 20

// ErrBodyTooLarge is returned when a response exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("fetch: response body too large")

// hop-by-hop headers never forwarded to the origin
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

type Config struct {
	Origin       string        // e.g. https://example.com; root-relative URLs resolve against it
	Timeout      time.Duration // client timeout; 0 => none (bounded by ctx only)
	MaxBodyBytes int64         // 0 => 32 MiB
	UserAgent    string
	Client       *http.Client // optional; Timeout is ignored when set
}

// HTTP fetches requests from the origin. It does not retry and does not follow
// the controller's cache: HTTP error statuses come back as non-ok responses.
type HTTP struct {
	origin  *url.URL
	client  *http.Client
	maxBody int64
	ua      string
}

var _ sitecache.Fetcher = (*HTTP)(nil)

func New(cfg Config) (*HTTP, error) {
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("fetch: origin: %w", err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" || origin.Host == "" {
		return nil, fmt.Errorf("fetch: origin must be an absolute http(s) URL, got %q", cfg.Origin)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &HTTP{origin: origin, client: client, maxBody: maxBody, ua: cfg.UserAgent}, nil
}

// Resolve turns a root-relative or absolute URL into an absolute one on the origin.
func (f *HTTP) Resolve(raw string) (*url.URL, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return f.origin.ResolveReference(ref), nil
}

func (f *HTTP) Fetch(ctx context.Context, req *sitecache.Request) (*sitecache.Response, error) {
	u, err := f.Resolve(req.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %s: %w", req.URL, err)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var reqBody io.Reader
	if len(req.Body) > 0 {
		// a bytes.Reader lets net/http set Content-Length
		reqBody = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("fetch: %s: %w", req.URL, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		hreq.Header.Del(h)
	}
	if f.ua != "" && hreq.Header.Get("User-Agent") == "" {
		hreq.Header.Set("User-Agent", f.ua)
	}

	hres, err := f.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer hres.Body.Close()

	body, err := io.ReadAll(io.LimitReader(hres.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: %s: read body: %w", req.URL, err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, fmt.Errorf("fetch: %s: %w", req.URL, ErrBodyTooLarge)
	}

	header := hres.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	return &sitecache.Response{
		Status:     hres.StatusCode,
		StatusText: http.StatusText(hres.StatusCode),
		Header:     header,
		Body:       body,
		URL:        hres.Request.URL.String(),
	}, nil
}
