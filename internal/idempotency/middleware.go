package idempotency

import (
	"bytes"
	"net/http"
	"time"

	"github.com/lucidlens/server/internal/identity"
	"github.com/lucidlens/server/internal/logger"
	"github.com/lucidlens/server/internal/metrics"
)

const (
	// HeaderKey is the standard idempotency key header
	HeaderKey = "Idempotency-Key"

	// ReplayHeader marks a response served from the cache.
	ReplayHeader = "X-Idempotency-Replay"

	// DefaultTTL is the default cache duration for idempotent responses (24 hours)
	DefaultTTL = 24 * time.Hour

	maxKeyLength = 255
)

// responseWriter wraps http.ResponseWriter to capture response details
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) headers() map[string]string {
	out := make(map[string]string, len(rw.Header()))
	for key := range rw.Header() {
		out[key] = rw.Header().Get(key)
	}
	return out
}

// Middleware replays the first successful response for a repeated
// Idempotency-Key. Keys are scoped by the authenticated user, method, and path,
// so one user's key never replays another user's response. It must run after
// the identity middleware.
func Middleware(store Store, ttl time.Duration, m *metrics.Metrics) func(http.Handler) http.Handler {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" || len(rawKey) > maxKeyLength {
				next.ServeHTTP(w, r)
				return
			}

			scope := "anonymous"
			if user, ok := identity.UserFromContext(r.Context()); ok {
				scope = user.UID
			}
			key := scope + ":" + r.Method + ":" + r.URL.Path + ":" + rawKey

			if cached, found := store.Get(r.Context(), key); found {
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set(ReplayHeader, "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				m.ObserveIdempotencyReplay()
				return
			}

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			if rw.statusCode >= 200 && rw.statusCode < 300 {
				response := &Response{
					StatusCode: rw.statusCode,
					Headers:    rw.headers(),
					Body:       rw.body.Bytes(),
					CachedAt:   time.Now(),
				}
				if err := store.Set(r.Context(), key, response, ttl); err != nil {
					log := logger.FromContext(r.Context())
					log.Warn().Err(err).Msg("idempotency.store_failed")
				}
			}
		})
	}
}
