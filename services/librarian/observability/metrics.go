// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the librarian's
// /respond stream.
//
// # Description
//
// Metrics include:
//   - Request counters by outcome
//   - Error counters by code
//   - Time to first token and total stream duration histograms
//   - Active stream gauge
//   - Retrieval latency
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace   = "smartlib"
	streamingSubsystem = "respond"
)

// StreamingMetrics holds the Prometheus collectors for /respond.
type StreamingMetrics struct {
	// RequestsTotal counts finished streams. Labels: outcome.
	RequestsTotal *prometheus.CounterVec

	// ErrorsTotal counts failures. Labels: error_code.
	ErrorsTotal *prometheus.CounterVec

	// TokensTotal counts streamed token frames. Labels: model.
	TokensTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to the first token frame.
	TimeToFirstTokenSeconds prometheus.Histogram

	// StreamDurationSeconds measures total stream duration. Labels: outcome.
	StreamDurationSeconds *prometheus.HistogramVec

	// RetrievalDurationSeconds measures embedding + top-k lookup latency.
	RetrievalDurationSeconds prometheus.Histogram

	// ActiveStreams tracks streams currently open.
	ActiveStreams prometheus.Gauge
}

// NewStreamingMetrics creates the collectors and registers them with reg.
//
// # Inputs
//
//   - reg: Registry to register with. nil uses prometheus.DefaultRegisterer.
//
// # Limitations
//
//   - Panics on duplicate registration, so call once per registry.
func NewStreamingMetrics(reg prometheus.Registerer) *StreamingMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &StreamingMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "requests_total",
				Help:      "Total number of /respond streams by outcome",
			},
			[]string{"outcome"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "errors_total",
				Help:      "Total /respond errors by code",
			},
			[]string{"error_code"},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "tokens_total",
				Help:      "Total token frames streamed by model",
			},
			[]string{"model"},
		),

		TimeToFirstTokenSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),

		RetrievalDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "retrieval_duration_seconds",
				Help:      "Embedding and top-k lookup latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Number of /respond streams currently open",
			},
		),
	}
}

// =============================================================================
// Outcomes and Error Codes
// =============================================================================

// Outcome labels how a stream ended.
type Outcome string

const (
	OutcomeRecommended  Outcome = "recommended"
	OutcomePolicy       Outcome = "policy"
	OutcomeError        Outcome = "error"
	OutcomeDisconnected Outcome = "disconnected"
)

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeRateLimited      ErrorCode = "rate_limited"
	ErrorCodeRetrieval        ErrorCode = "retrieval"
	ErrorCodeLLM              ErrorCode = "llm_error"
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Helper Methods
// =============================================================================

// All helpers are nil-safe so handlers can run without metrics.

// RecordOutcome records a finished stream and its duration.
func (m *StreamingMetrics) RecordOutcome(outcome Outcome, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(outcome)).Inc()
	m.StreamDurationSeconds.WithLabelValues(string(outcome)).Observe(seconds)
}

// RecordError records a failure by code.
func (m *StreamingMetrics) RecordError(code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(code)).Inc()
}

// RecordToken counts one streamed token frame.
func (m *StreamingMetrics) RecordToken(model string) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues(model).Inc()
}

// RecordTimeToFirstToken records the first-token latency.
func (m *StreamingMetrics) RecordTimeToFirstToken(seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstTokenSeconds.Observe(seconds)
}

// RecordRetrieval records retrieval latency.
func (m *StreamingMetrics) RecordRetrieval(seconds float64) {
	if m == nil {
		return
	}
	m.RetrievalDurationSeconds.Observe(seconds)
}

// StreamStarted increments the active streams gauge.
func (m *StreamingMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *StreamingMetrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}
