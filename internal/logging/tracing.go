package logging

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Special fields understood by Google Cloud Logging
// https://docs.cloud.google.com/logging/docs/agent/logging/configuration#special-fields
const (
	cloudTraceKey        = "logging.googleapis.com/trace"
	cloudSpanIDKey       = "logging.googleapis.com/spanId"
	cloudTraceSampledKey = "logging.googleapis.com/trace_sampled"
)

// Create a slog.Handler that associates log records with the active otel span in Google Cloud
//
// NOTE: Requires the use of the *Context slog methods to get the tracing info
func NewCloudTraceLogHandler(base slog.Handler, project string) slog.Handler {
	if project == "" {
		return base
	}
	return &cloudTraceLogHandler{base: base, project: project}
}

type cloudTraceLogHandler struct {
	base    slog.Handler
	project string
}

func (h *cloudTraceLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *cloudTraceLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String(cloudTraceKey, fmt.Sprintf("projects/%s/traces/%s", h.project, sc.TraceID().String())),
			slog.String(cloudSpanIDKey, sc.SpanID().String()),
			slog.Bool(cloudTraceSampledKey, sc.TraceFlags().IsSampled()),
		)
	}
	return h.base.Handle(ctx, r)
}

func (h *cloudTraceLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &cloudTraceLogHandler{base: h.base.WithAttrs(attrs), project: h.project}
}

func (h *cloudTraceLogHandler) WithGroup(name string) slog.Handler {
	return &cloudTraceLogHandler{base: h.base.WithGroup(name), project: h.project}
}

var _ slog.Handler = (*cloudTraceLogHandler)(nil)
