package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/treefix50/markerguard/internal/logging"
	"github.com/treefix50/markerguard/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// requestID propagates or assigns an X-Request-ID and stores it in the
// request context for logging.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := newStatusResponseWriter(w)
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.RecordAPIRequest(r.Method, route, sw.Status(), elapsed)

		event := logging.Ctx(r.Context()).Info()
		if sw.Status() >= http.StatusInternalServerError {
			event = logging.Ctx(r.Context()).Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", sw.Status()).
			Int64("bytes", sw.Bytes()).
			Dur("duration", elapsed).
			Msg("http request")
	})
}
