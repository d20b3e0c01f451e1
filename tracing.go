// tracing.go: OpenTelemetry spans around session callbacks
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/agilira/go-janus"

func newTracer(provider trace.TracerProvider) trace.Tracer {
	if provider == nil {
		provider = noop.NewTracerProvider()
	}
	return provider.Tracer(tracerName)
}

// startSpan opens a span named "gojanus.<operation>" tagged with the handle
// and, when present, the transaction.
func (b *Bridge[S]) startSpan(ctx context.Context, operation string, handle HandleID, transaction string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.Int64("janus.handle_id", int64(handle)),
	}
	if transaction != "" {
		attrs = append(attrs, attribute.String("janus.transaction", transaction))
	}
	return b.tracer.Start(ctx, "gojanus."+operation, trace.WithAttributes(attrs...))
}

func (b *Bridge[S]) endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if code := ErrorCodeOf(err); code != "" {
			span.SetAttributes(attribute.String("janus.error_code", code))
		}
	}
	span.End()
}
