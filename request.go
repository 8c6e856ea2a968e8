package sitecache

import (
	"net/http"
	"net/url"
	"strings"
)

// Mode mirrors the fetch request mode the host observed.
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeNoCORS     Mode = "no-cors"
	ModeCORS       Mode = "cors"
)

// Request is the intercepted request descriptor.
type Request struct {
	Method string
	URL    string // absolute or root-relative
	Mode   Mode
	Header http.Header
	Body   []byte // sent as-is on passthrough; never part of the cache key
}

// IsNavigation reports whether r loads a top-level document.
func (r *Request) IsNavigation() bool { return r.Mode == ModeNavigate }

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// Response is a stored or live response snapshot.
// Field tags keep the layout stable across JSON, Msgpack and CBOR codecs.
type Response struct {
	Status     int                 `json:"status" msgpack:"status" cbor:"1,keyasint"`
	StatusText string              `json:"status_text,omitempty" msgpack:"status_text,omitempty" cbor:"2,keyasint,omitempty"`
	Header     map[string][]string `json:"header,omitempty" msgpack:"header,omitempty" cbor:"3,keyasint,omitempty"`
	Body       []byte              `json:"body,omitempty" msgpack:"body,omitempty" cbor:"4,keyasint,omitempty"`
	URL        string              `json:"url,omitempty" msgpack:"url,omitempty" cbor:"5,keyasint,omitempty"`
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r != nil && r.Status >= 200 && r.Status <= 299 }

// Clone returns a deep copy; stored copies never alias a returned response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	if r.Header != nil {
		out.Header = http.Header(r.Header).Clone()
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return &out
}

// RequestKey returns the normalized cache key of r.
func RequestKey(r *Request) string {
	return KeyFor(r.method(), r.URL)
}

// KeyFor normalizes method + URL into a cache key ("GET /style.css").
// Scheme and host are lower-cased, the fragment is dropped and an empty path becomes "/".
func KeyFor(method, rawURL string) string {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		m = http.MethodGet
	}
	return m + " " + normalizeURL(rawURL)
}

func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		// not parseable; keep as-is minus fragment
		if i := strings.IndexByte(raw, '#'); i >= 0 {
			raw = raw[:i]
		}
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" && u.Opaque == "" {
		u.Path = "/"
		u.RawPath = ""
	}
	return u.String()
}
