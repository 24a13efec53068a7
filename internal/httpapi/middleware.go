package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/signalsfoundry/saarathi/internal/logging"
	"github.com/signalsfoundry/saarathi/internal/observability"
)

const requestIDHeader = "X-Request-Id"

// requestContext mirrors the gRPC request-id interceptor: it adopts or
// mints a request id, echoes it back, attaches a request logger and
// records the request against its route pattern.
func requestContext(base logging.Logger, metrics *observability.RPCCollector) func(http.Handler) http.Handler {
	base = logging.OrNoop(base)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()
			if incoming := r.Header.Get(requestIDHeader); incoming != "" {
				ctx = logging.ContextWithRequestID(ctx, incoming)
			}
			ctx, reqLog := logging.WithRequestLogger(ctx, base.With(
				logging.String("http_method", r.Method),
				logging.String("path", r.URL.Path),
			))
			ctx = logging.ContextWithLogger(ctx, reqLog)
			w.Header().Set(requestIDHeader, logging.RequestIDFromContext(ctx))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			pattern := r.URL.Path
			if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
				pattern = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			metrics.Observe("http", r.Method+" "+pattern, strconv.Itoa(status), elapsed)
			if status >= http.StatusInternalServerError {
				reqLog.Warn(ctx, "http request failed",
					logging.Int("status", status),
					logging.Duration("elapsed", elapsed),
				)
			}
		})
	}
}
