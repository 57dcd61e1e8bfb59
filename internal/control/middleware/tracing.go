// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package middleware provides the HTTP middleware stack of the gateway.
package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracing wraps the handler with OpenTelemetry HTTP instrumentation. Spans
// start named after the path and are renamed to the chi route pattern once
// the request has been routed.
func Tracing(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(
			renameAfterRoute(next),
			serviceName,
			otelhttp.WithTracerProvider(otel.GetTracerProvider()),
			otelhttp.WithFilter(shouldTrace),
			otelhttp.WithSpanNameFormatter(spanNameFormatter),
		)
	}
}

// renameAfterRoute names the span from the chi route context, which is shared
// by pointer. r.Pattern is only set on the request chi sees, so a middleware
// that replaces the request hides it from otelhttp.
func renameAfterRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if pattern := routePattern(r); pattern != "" {
			trace.SpanFromContext(r.Context()).SetName("HTTP " + r.Method + " " + pattern)
		}
	})
}

// shouldTrace skips probe and scrape endpoints.
func shouldTrace(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics":
		return false
	}
	return true
}

// spanNameFormatter prefers the route pattern and never includes query
// values. otelhttp calls it again after routing when r.Pattern is set, so it
// must agree with renameAfterRoute.
func spanNameFormatter(_ string, r *http.Request) string {
	if pattern := routePattern(r); pattern != "" {
		return "HTTP " + r.Method + " " + pattern
	}
	if r.URL.RawQuery != "" {
		return "HTTP " + r.Method + " " + r.URL.Path + "?"
	}
	return "HTTP " + r.Method + " " + r.URL.Path
}

// routePattern returns the full chi pattern across mounted routers. r.Pattern
// only holds the segment matched by the outermost router.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.Pattern
}

// ExtractTraceContext returns the trace and span ids of the active span, or "".
func ExtractTraceContext(r *http.Request) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(r.Context())
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// AddSpanAttributes adds attributes to the current span. Safe when tracing is off.
func AddSpanAttributes(r *http.Request, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(r.Context()).SetAttributes(attrs...)
}
