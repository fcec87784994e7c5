package api

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// withTracing must run inside withHTTPMetrics so the response status is
// visible when the span ends.
func (s *Server) withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		route := routeLabel(r)
		ctx, span := s.tracer.Start(ctx, r.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		span.SetAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("http.route", route),
			attribute.String("url.path", r.URL.Path),
		)
		if jobID := jobIDFromRequest(r); jobID != "" {
			span.SetAttributes(attribute.String("job.id", jobID))
		}
		defer func() {
			status := responseStatus(ctx)
			if status == 0 {
				span.End()
				return
			}
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			span.End()
		}()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// jobIDFromRequest runs before routing, so path values are not yet set.
func jobIDFromRequest(r *http.Request) string {
	if jobID := r.URL.Query().Get("job_id"); jobID != "" {
		return jobID
	}
	if rest, ok := strings.CutPrefix(r.URL.Path, "/v1/jobs/"); ok {
		jobID, _, _ := strings.Cut(rest, "/")
		return jobID
	}
	return ""
}
