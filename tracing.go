package compose

import (
	"context"
	"net/http"
	"strconv"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/log"
)

// startServerSpan opens one span per request (spec §4.7). Tracing is
// best-effort: a nil tracer or a no-op implementation never affects the
// response.
func startServerSpan(ctx context.Context, tracer opentracing.Tracer, r *http.Request) (opentracing.Span, context.Context) {
	if tracer == nil {
		return nil, ctx
	}
	span := tracer.StartSpan("compose.serve")
	ext.SpanKindRPCServer.Set(span)
	span.SetTag("http.url", r.URL.String())
	return span, opentracing.ContextWithSpan(ctx, span)
}

func finishServerSpan(span opentracing.Span, status int, err error) {
	if span == nil {
		return
	}
	span.SetTag("http.status_code", status)
	if err != nil {
		ext.Error.Set(span, true)
		span.LogFields(log.Error(err))
	}
	span.Finish()
}

// startFragmentSpan opens one client span per fragment fetch (spec §4.7).
func startFragmentSpan(ctx context.Context, tracer opentracing.Tracer, d *Descriptor) opentracing.Span {
	if tracer == nil {
		return nil
	}
	var span opentracing.Span
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		span = tracer.StartSpan("compose.fragment", opentracing.ChildOf(parent.Context()))
	} else {
		span = tracer.StartSpan("compose.fragment")
	}
	ext.SpanKindRPCClient.Set(span)
	span.SetTag("http.url", d.Src)
	span.SetTag("id", d.effectiveID())
	span.SetTag("primary", d.Primary)
	span.SetTag("async", d.Async)
	span.SetTag("public", d.Public)
	span.SetTag("fallback", d.FallbackSrc != "")
	span.SetTag("timeout", strconv.Itoa(d.TimeoutMs))
	return span
}

func finishFragmentSpan(span opentracing.Span, ferr *fragmentError) {
	if span == nil {
		return
	}
	if ferr != nil {
		ext.Error.Set(span, true)
		span.LogFields(log.String("event", "error"), log.String("kind", string(ferr.Kind)), log.Error(ferr))
	}
	span.Finish()
}
