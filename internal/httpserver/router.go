package httpserver

import (
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/sitecache/host"
	"github.com/unkn0wn-root/sitecache/internal/logging"
	"github.com/unkn0wn-root/sitecache/internal/metrics"
)

const metricsNamespace = "sitecache"

// NewRouter mounts ops endpoints and sends everything else through the
// registration's active controller.
func NewRouter(baseLogger *zap.Logger, reg *host.Registration, site http.Handler, registry *prometheus.Registry) *chi.Mux {
	r := chi.NewRouter()

	m := metrics.NewHTTP(registry, metricsNamespace)
	r.Use(m.Middleware)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(LoggingContext(baseLogger))
	r.Use(Recoverer())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if reg.Active() == nil {
			http.Error(w, "no active version", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok " + reg.Active().Version()))
	})
	r.Handle("/metrics", metrics.Handler(registry))

	r.Handle("/*", site)
	return r
}

// LoggingContext attaches a request-scoped logger to the context.
func LoggingContext(baseLogger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := baseLogger.With(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			if id := chimw.GetReqID(r.Context()); id != "" {
				l = l.With(zap.String("request_id", id))
			}
			if r.RemoteAddr != "" {
				l = l.With(zap.String("remote_ip", r.RemoteAddr))
			}
			next.ServeHTTP(w, r.WithContext(logging.WithLogger(r.Context(), l)))
		})
	}
}

// Recoverer turns a handler panic into a 500 and logs it with the request logger.
func Recoverer() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logging.L(r.Context()).Error("panic recovered",
						zap.Any("panic", rec),
						zap.ByteString("stack", debug.Stack()),
					)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
