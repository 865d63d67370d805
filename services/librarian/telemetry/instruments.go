// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Instruments are the OpenTelemetry instruments of the recommendation
// pipeline. All metrics use the "librarian_" prefix.
type Instruments struct {
	// Recommendations counts finished recommendations by title source
	// ("model" or "fallback").
	Recommendations metric.Int64Counter

	// LLMDuration records language model call latency in seconds, by
	// operation ("select_title" or "stream").
	LLMDuration metric.Float64Histogram

	// IndexedBooks counts books embedded into the retrieval index.
	IndexedBooks metric.Int64Counter
}

// NewInstruments creates the instruments on meter. A nil meter uses the
// global MeterProvider.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	if meter == nil {
		meter = otel.Meter("smartlib/librarian")
	}

	recs, err := meter.Int64Counter("librarian_recommendations_total",
		metric.WithDescription("Recommendations by title source"))
	if err != nil {
		return nil, fmt.Errorf("create recommendations counter: %w", err)
	}

	llm, err := meter.Float64Histogram("librarian_llm_duration_seconds",
		metric.WithDescription("Language model call latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create llm histogram: %w", err)
	}

	indexed, err := meter.Int64Counter("librarian_indexed_books_total",
		metric.WithDescription("Books embedded into the retrieval index"))
	if err != nil {
		return nil, fmt.Errorf("create indexed counter: %w", err)
	}

	return &Instruments{Recommendations: recs, LLMDuration: llm, IndexedBooks: indexed}, nil
}

// RecordRecommendation counts one recommendation.
func (i *Instruments) RecordRecommendation(ctx context.Context, source string) {
	if i == nil {
		return
	}
	i.Recommendations.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordLLM records one language model call.
func (i *Instruments) RecordLLM(ctx context.Context, operation string, seconds float64) {
	if i == nil {
		return
	}
	i.LLMDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordIndexed counts newly embedded books.
func (i *Instruments) RecordIndexed(ctx context.Context, n int) {
	if i == nil || n <= 0 {
		return
	}
	i.IndexedBooks.Add(ctx, int64(n))
}

// =============================================================================
// Span helpers
// =============================================================================

// StartSpan starts a span on the named global tracer.
func StartSpan(ctx context.Context, tracerName, spanName string, opts ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, opts...)
}

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span oteltrace.Span, err error, attrs ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err, oteltrace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the trace ID of the span in ctx, or "" if there is none.
func TraceID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
