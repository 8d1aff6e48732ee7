package otel

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// RoundTripper wraps base so that every outgoing request gets a client span
// and carries W3C traceparent headers. With tracing disabled base is returned as is.
func RoundTripper(tracer *Tracer, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if tracer == nil || !tracer.Enabled() {
		return base
	}
	return &tracingTransport{tracer: tracer, base: base}
}

type tracingTransport struct {
	tracer *Tracer
	base   http.RoundTripper
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := t.tracer.StartSpan(req.Context(), req.Method+" "+req.URL.Host,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLPath(req.URL.Path),
			semconv.URLScheme(req.URL.Scheme),
			semconv.ServerAddress(req.URL.Hostname()),
		),
	)
	defer span.End()

	// RoundTrippers must not modify the caller's request.
	req = req.Clone(ctx)
	InjectHeaders(ctx, req.Header, t.tracer)

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetAttributes(attribute.Bool("error", true))
	}
	return resp, nil
}

// InjectHeaders injects trace context into outgoing HTTP headers.
func InjectHeaders(ctx context.Context, headers http.Header, tracer *Tracer) {
	if tracer == nil || !tracer.Enabled() {
		return
	}
	tracer.Propagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
