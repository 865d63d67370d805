// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the librarian's HTTP endpoints.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/smartlibrary/pkg/logging"
	"github.com/AleutianAI/smartlibrary/pkg/stream"
	"github.com/AleutianAI/smartlibrary/services/librarian/moderation"
	"github.com/AleutianAI/smartlibrary/services/librarian/observability"
	"github.com/AleutianAI/smartlibrary/services/librarian/recommender"
	"github.com/AleutianAI/smartlibrary/services/librarian/telemetry"
)

const tracerName = "smartlib/librarian/handlers"

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// clientErrorMessage is the only failure text sent to clients. Details
// stay in the server log.
const clientErrorMessage = "The librarian could not finish this recommendation. Please try again."

// defaultHeartbeat keeps idle connections open through proxies while the
// model is still thinking.
const defaultHeartbeat = 15 * time.Second

// =============================================================================
// Interfaces
// =============================================================================

// Recommender produces one streamed recommendation.
// *recommender.Recommender implements it.
type Recommender interface {
	Recommend(ctx context.Context, message string, onToken func(string) error) (stream.FinalPayload, error)
	Model() string
}

// Moderator screens a message. *moderation.Filter implements it.
type Moderator interface {
	Check(text string) (string, bool)
}

// =============================================================================
// Handler
// =============================================================================

// RespondHandler serves POST /respond.
type RespondHandler struct {
	recommender Recommender
	moderator   Moderator
	metrics     *observability.StreamingMetrics
	logger      *logging.Logger
	heartbeat   time.Duration
}

// HandlerOption configures a RespondHandler.
type HandlerOption func(*RespondHandler)

// WithMetrics records Prometheus streaming metrics.
func WithMetrics(m *observability.StreamingMetrics) HandlerOption {
	return func(h *RespondHandler) { h.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) HandlerOption {
	return func(h *RespondHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithHeartbeat sets the keepalive interval. Zero or less disables it.
func WithHeartbeat(d time.Duration) HandlerOption {
	return func(h *RespondHandler) { h.heartbeat = d }
}

// NewRespondHandler creates the /respond handler.
//
// # Inputs
//
//   - rec: Produces recommendations. Must not be nil.
//   - mod: Screens requests before any model call. Must not be nil.
//
// # Outputs
//
//   - *RespondHandler: Ready to register with gin.
func NewRespondHandler(rec Recommender, mod Moderator, opts ...HandlerOption) *RespondHandler {
	if rec == nil {
		panic("NewRespondHandler: recommender must not be nil")
	}
	if mod == nil {
		panic("NewRespondHandler: moderator must not be nil")
	}
	h := &RespondHandler{
		recommender: rec,
		moderator:   mod,
		logger:      logging.Default(),
		heartbeat:   defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Respond streams a recommendation for the request's message.
//
// # Description
//
//  1. Decode and validate {"message": ...}; failures answer 400 JSON.
//  2. Switch the response to text/event-stream.
//  3. A moderation hit streams the policy reply and a bare final frame.
//  4. Otherwise stream the recommender's tokens, then the final frame.
//
// Failures after the headers are sent become a single error frame. A
// client that disconnects gets nothing more.
//
// # Limitations
//
//   - One request, one answer. No conversation history is kept.
func (h *RespondHandler) Respond(c *gin.Context) {
	started := time.Now()
	ctx, span := telemetry.StartSpan(c.Request.Context(), tracerName, "RespondHandler.Respond")
	defer span.End()

	requestID := c.GetHeader(RequestIDHeader)
	if _, err := uuid.Parse(requestID); err != nil {
		requestID = uuid.NewString()
	}
	c.Header(RequestIDHeader, requestID)
	span.SetAttributes(attribute.String("request.id", requestID))
	logger := h.logger.With("request_id", requestID)
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		logger = logger.With("trace_id", traceID)
	}

	// Step 1: Parse and validate.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid respond body", "error", err)
		h.metrics.RecordError(observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		logger.Warn("respond validation failed", "error", err)
		h.metrics.RecordError(observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
		return
	}
	span.SetAttributes(attribute.Int("request.message_bytes", len(req.Message)))

	// Step 2: Switch to SSE.
	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		logger.Error("streaming unsupported", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	h.metrics.StreamStarted()
	defer h.metrics.StreamEnded()

	// Step 3: Moderation.
	if term, hit := h.moderator.Check(req.Message); hit {
		span.SetAttributes(attribute.Bool("moderation.hit", true))
		logger.Info("request matched moderation list", "term", term)
		if err := writer.WriteToken(moderation.PolicyReply); err == nil {
			err = writer.WriteFinal(stream.FinalPayload{Final: true})
			if err != nil {
				logger.Debug("write policy final", "error", err)
			}
		}
		h.metrics.RecordOutcome(observability.OutcomePolicy, time.Since(started).Seconds())
		return
	}

	// Step 4: Recommend.
	done := make(chan struct{})
	var heartbeat sync.WaitGroup
	if h.heartbeat > 0 {
		heartbeat.Add(1)
		go func() {
			defer heartbeat.Done()
			h.runHeartbeat(ctx, writer, done, logger)
		}()
	}
	// The response writer must not be touched after Respond returns.
	defer func() {
		close(done)
		heartbeat.Wait()
	}()

	model := h.recommender.Model()
	gotFirst := false
	payload, err := h.recommender.Recommend(ctx, req.Message, func(tok string) error {
		if !gotFirst {
			gotFirst = true
			h.metrics.RecordTimeToFirstToken(time.Since(started).Seconds())
		}
		h.metrics.RecordToken(model)
		return writer.WriteToken(tok)
	})

	if err != nil {
		if ctx.Err() != nil {
			logger.Info("client disconnected mid-stream", "error", err)
			h.metrics.RecordError(observability.ErrorCodeClientDisconnect)
			h.metrics.RecordOutcome(observability.OutcomeDisconnected, time.Since(started).Seconds())
			return
		}
		telemetry.RecordError(span, err)
		logger.Error("recommendation failed", "error", err)
		code := observability.ErrorCodeLLM
		if errors.Is(err, recommender.ErrRetrieval) {
			code = observability.ErrorCodeRetrieval
		}
		h.metrics.RecordError(code)
		h.metrics.RecordOutcome(observability.OutcomeError, time.Since(started).Seconds())
		if werr := writer.WriteError(clientErrorMessage); werr != nil {
			logger.Debug("write error frame", "error", werr)
		}
		return
	}

	if err := writer.WriteFinal(payload); err != nil {
		logger.Info("client disconnected before final frame", "error", err)
		h.metrics.RecordOutcome(observability.OutcomeDisconnected, time.Since(started).Seconds())
		return
	}
	h.metrics.RecordOutcome(observability.OutcomeRecommended, time.Since(started).Seconds())
	logger.Info("respond completed",
		"title", payload.Title(),
		"duration_ms", time.Since(started).Milliseconds(),
	)
}

// runHeartbeat writes keepalive comments until done or ctx ends.
func (h *RespondHandler) runHeartbeat(ctx context.Context, writer SSEWriter, done <-chan struct{}, logger *logging.Logger) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				logger.Debug("write keepalive", "error", err)
				return
			}
		}
	}
}

// Healthz answers the liveness probe with a plain "ok".
func Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
