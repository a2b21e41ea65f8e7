package server

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/0xReLogic/Hypnos/internal/logging"
	"github.com/0xReLogic/Hypnos/internal/ratelimit"
	"github.com/0xReLogic/Hypnos/internal/tracing"
)

// statusClientClosed is logged for requests abandoned before any response
// was written.
const statusClientClosed = 499

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.wrote = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument wraps h with a server span, a structured access log line and
// request metrics labelled by route.
func instrument(route string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartServerSpan(r.Context(), propagation.HeaderCarrier(r.Header), route)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.String("http.url", r.URL.String()),
			attribute.String("http.user_agent", r.UserAgent()),
		)
		if traceID := tracing.TraceIDFromContext(ctx); traceID != "" {
			w.Header().Set("X-Trace-Id", traceID)
		}

		r = r.WithContext(ctx)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h.ServeHTTP(rec, r)
		latency := time.Since(start)
		if !rec.wrote && ctx.Err() != nil {
			rec.status = statusClientClosed
		}

		span.SetAttributes(
			attribute.Int("http.status_code", rec.status),
			attribute.Int64("http.response.size", int64(rec.size)),
			attribute.Float64("http.duration_ms", float64(latency.Milliseconds())),
		)
		if rec.status == statusClientClosed {
			span.SetStatus(codes.Error, "client closed request")
		} else if rec.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		} else {
			span.SetStatus(codes.Ok, "")
		}

		logging.LogHTTPRequest(ctx, r.Method, r.URL.Path, route, rec.status, latency, int64(rec.size))

		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpRequestLatency.WithLabelValues(r.Method, route).Observe(latency.Seconds())
	})
}

// limit rejects requests once route's token bucket is empty. A nil limiter
// lets everything through.
func limit(rl *ratelimit.RateLimiter, route string, h http.Handler) http.Handler {
	if rl == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(route) {
			httpRateLimitedTotal.WithLabelValues(route).Inc()
			logging.LogRateLimited(r.Context(), route)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		h.ServeHTTP(w, r)
	})
}
