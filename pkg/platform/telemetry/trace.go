// Package telemetry wraps the OpenTelemetry tracing API. Spans go to whichever
// TracerProvider the process installs; without one they are no-ops.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a span for a service operation.
//
//	ctx, span := telemetry.StartSpan(ctx, "govsign/identity", "identity.CreatePassword",
//	    attribute.String(telemetry.AttrSessionID, id),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records err on the span and marks it failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Attribute keys. NICs and tokens are never span attributes.
const (
	AttrSessionID   = "session.id"
	AttrActor       = "identity.actor"
	AttrOfficerType = "identity.officer_type"
	AttrUpstream    = "upstream.name"
	AttrPeer        = "webhook.peer"
)
