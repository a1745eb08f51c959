package logging

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

const (
	cloudTraceKey        = "logging.googleapis.com/trace"
	cloudSpanIDKey       = "logging.googleapis.com/spanId"
	cloudTraceSampledKey = "logging.googleapis.com/trace_sampled"
)

// Wrap a handler so records logged with a span in the context are correlated with the trace in
// Google Cloud Logging.
//
// Only the *Context methods on slog.Logger carry the span.
func WithCloudTrace(base slog.Handler, project string) slog.Handler {
	if project == "" {
		return base
	}
	return &cloudTraceHandler{Handler: base, project: project}
}

type cloudTraceHandler struct {
	slog.Handler
	project string
}

func (h *cloudTraceHandler) Handle(ctx context.Context, r slog.Record) error {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return h.Handler.Handle(ctx, r)
	}

	r = r.Clone()
	r.AddAttrs(
		slog.String(cloudTraceKey, fmt.Sprintf("projects/%s/traces/%s", h.project, sc.TraceID())),
		slog.String(cloudSpanIDKey, sc.SpanID().String()),
		slog.Bool(cloudTraceSampledKey, sc.IsSampled()),
	)
	return h.Handler.Handle(ctx, r)
}

func (h *cloudTraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &cloudTraceHandler{Handler: h.Handler.WithAttrs(attrs), project: h.project}
}

func (h *cloudTraceHandler) WithGroup(name string) slog.Handler {
	return &cloudTraceHandler{Handler: h.Handler.WithGroup(name), project: h.project}
}
