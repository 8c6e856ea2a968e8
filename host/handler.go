package host

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/unkn0wn-root/sitecache"
)

// headers copied from the incoming request to the fetch request.
// Content-Length is recomputed from the forwarded body.
var forwardHeaders = []string{
	"Accept", "Accept-Encoding", "Accept-Language", "User-Agent",
	"If-None-Match", "If-Modified-Since", "Cache-Control", "Referer",
	"Content-Type", "Origin",
}

// MaxRequestBody bounds request bodies forwarded on passthrough.
const MaxRequestBody = 10 << 20

// ErrRequestTooLarge is returned by Convert for bodies over MaxRequestBody.
var ErrRequestTooLarge = errors.New("host: request body too large")

// Handler serves every request through the registration's active controller.
type Handler struct {
	reg *Registration
	log sitecache.Logger
}

func NewHandler(reg *Registration, log sitecache.Logger) *Handler {
	if log == nil {
		log = sitecache.NopLogger{}
	}
	return &Handler{reg: reg, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctl := h.reg.Active()
	if ctl == nil {
		http.Error(w, "no active controller", http.StatusServiceUnavailable)
		return
	}

	req, err := Convert(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrRequestTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	resp, err := ctl.OnFetch(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, sitecache.ErrNotActive) {
			status = http.StatusServiceUnavailable
		}
		h.log.Warn("fetch failed", sitecache.Fields{"url": r.URL.RequestURI(), "err": err})
		http.Error(w, http.StatusText(status), status)
		return
	}

	dst := w.Header()
	for k, vs := range resp.Header {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(resp.Body)
	}
}

// Convert turns an incoming request into the controller's request descriptor.
// Bodies of requests other than GET and HEAD are read for passthrough.
func Convert(r *http.Request) (*sitecache.Request, error) {
	hdr := make(http.Header, len(forwardHeaders))
	for _, k := range forwardHeaders {
		if vs := r.Header.Values(k); len(vs) > 0 {
			hdr[k] = append([]string(nil), vs...)
		}
	}
	req := &sitecache.Request{
		Method: r.Method,
		URL:    r.URL.RequestURI(),
		Mode:   modeOf(r),
		Header: hdr,
	}
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		b, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBody+1))
		if err != nil {
			return nil, fmt.Errorf("host: read body: %w", err)
		}
		if len(b) > MaxRequestBody {
			return nil, ErrRequestTooLarge
		}
		req.Body = b
	}
	return req, nil
}

// modeOf reads Sec-Fetch-Mode. Clients that do not send it are treated as
// navigating when a GET asks for HTML.
func modeOf(r *http.Request) sitecache.Mode {
	if m := r.Header.Get("Sec-Fetch-Mode"); m != "" {
		return sitecache.Mode(strings.ToLower(m))
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return sitecache.ModeNavigate
	}
	return sitecache.ModeNoCORS
}
