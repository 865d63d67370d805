// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/AleutianAI/smartlibrary/pkg/stream"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes librarian stream frames to an HTTP response.
//
// # Description
//
// Each frame is written as
//
//	event: {type}
//	data: {line}
//	...
//
// followed by a blank line, and flushed immediately. Data containing
// newlines is split into several data lines so the client's parser
// rejoins it exactly.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The keepalive
// goroutine and the token callback write to the same response.
type SSEWriter interface {
	// WriteToken writes one text delta as an "event: token" frame.
	WriteToken(text string) error

	// WriteFinal writes the terminal "event: final" frame.
	WriteFinal(payload stream.FinalPayload) error

	// WriteError writes the terminal "event: error" frame with data
	// {"error": msg}. The message must already be safe for clients.
	WriteError(msg string) error

	// WriteKeepAlive writes an SSE comment line. Clients ignore it.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter over an http.ResponseWriter.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter creates an SSEWriter for w.
//
// # Description
//
// The caller must call SetSSEHeaders before the first write.
//
// # Outputs
//
//   - SSEWriter: Ready to write frames.
//   - error: Non-nil if w cannot flush.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

func (w *sseWriter) WriteToken(text string) error {
	return w.writeFrame(stream.EventToken, text)
}

func (w *sseWriter) WriteFinal(payload stream.FinalPayload) error {
	payload.Final = true
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal final payload: %w", err)
	}
	return w.writeFrame(stream.EventFinal, string(data))
}

func (w *sseWriter) WriteError(msg string) error {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return fmt.Errorf("marshal error payload: %w", err)
	}
	return w.writeFrame(stream.EventError, string(data))
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// writeFrame serializes one frame. \r\n and \r inside data are treated
// as line breaks, matching how the client splits lines.
func (w *sseWriter) writeFrame(event stream.EventType, data string) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(string(event))
	b.WriteByte('\n')

	data = strings.ReplaceAll(data, "\r\n", "\n")
	data = strings.ReplaceAll(data, "\r", "\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := io.WriteString(w.writer, b.String()); err != nil {
		return fmt.Errorf("write %s frame: %w", event, err)
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders sets the event-stream headers. Must be called before any
// body is written.
//
// X-Accel-Buffering disables proxy buffering so tokens reach the client
// as they are produced.
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
