package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
)

// accessLog logs each request and records it in the HTTP metrics under its
// route pattern, so path parameters do not explode label cardinality.
func (h *HTTPHandler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		h.opts.Metrics.RecordHTTPRequest(r.Method, route, status, elapsed)

		level := zerolog.InfoLevel
		if status >= http.StatusInternalServerError {
			level = zerolog.ErrorLevel
		}
		h.log.WithLevel(level).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", elapsed).
			Msg("HTTP request")
	})
}

// requireRole rejects callers without role. An empty role disables the check.
func (h *HTTPHandler) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if role == "" {
				next.ServeHTTP(w, r)
				return
			}
			p := principalFrom(r)
			if p.ID == "" {
				h.writeError(w, r, errors.New(errors.ErrCodeUnauthorized, "caller identity is required"))
				return
			}
			if p.Role != role {
				h.writeError(w, r, errors.Forbidden("role '"+role+"' is required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
