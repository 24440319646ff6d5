package middleware

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/SkynetNext/gateway-dataplane/internal/metrics"
	"github.com/SkynetNext/gateway-dataplane/internal/observability"
)

// Observe wraps the admin mux with tracing and request metrics.
// Kubelet probes short-circuit past both.
func Observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Header.Get("User-Agent"), "kube-probe/") {
			next.ServeHTTP(w, r)
			return
		}

		// Extract trace context (for distributed tracing)
		ctx := observability.ExtractTraceContext(r.Context(), r)
		ctx, span := observability.StartSpan(ctx, "dataplane.admin")
		defer span.End()

		// Add K8s Pod metadata to span
		if podName := os.Getenv("POD_NAME"); podName != "" {
			span.SetAttributes(
				attribute.String("k8s.pod.name", podName),
				attribute.String("k8s.namespace", os.Getenv("POD_NAMESPACE")),
				attribute.String("k8s.node.name", os.Getenv("NODE_NAME")),
			)
		}

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
			attribute.String("http.host", r.Host),
		)

		w.Header().Set("X-Request-ID", trace.SpanContextFromContext(ctx).TraceID().String())

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))
		duration := time.Since(start)

		span.SetAttributes(
			attribute.Int("http.status_code", ww.statusCode),
			attribute.Int64("http.duration_ms", duration.Milliseconds()),
		)
		metrics.RecordAdminRequest(r.URL.Path, strconv.Itoa(ww.statusCode), duration.Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
