// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/smartlibrary/pkg/logging"
)

const (
	respondPath = "/respond"
	healthzPath = "/healthz"

	defaultReadBufferSize = 4096
	defaultHealthTimeout  = 5 * time.Second
)

var (
	// ErrNoBody is returned when a 2xx response carries no body.
	ErrNoBody = errors.New("response has no body")

	frameDelimiter = []byte("\n\n")
	crlf           = []byte("\r\n")
	lf             = []byte("\n")
)

// StatusError is returned when /respond answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// Doer sends HTTP requests. *http.Client satisfies it; tests substitute
// fakes that return canned bodies.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the librarian API root, e.g. "http://localhost:8000".
	// Trailing slashes are stripped.
	BaseURL string

	// HTTPClient sends requests. Default: an *http.Client without a
	// timeout, since streams are bounded by the caller's context instead.
	HTTPClient Doer

	// Logger receives request lifecycle logs. Default: logging.Default().
	Logger *logging.Logger

	// ReadBufferSize is the size of each body read. Default: 4096.
	ReadBufferSize int

	// HealthTimeout bounds Healthz. Default: 5 seconds.
	HealthTimeout time.Duration
}

// Client streams librarian responses over SSE.
//
// A Client holds no per-request state and is safe for concurrent use.
// Each Stream call owns its response body.
type Client struct {
	baseURL       string
	http          Doer
	logger        *logging.Logger
	tracer        trace.Tracer
	readSize      int
	healthTimeout time.Duration
}

// NewClient creates a Client, applying defaults for unset fields.
func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	return &Client{
		baseURL:       NormalizeBaseURL(cfg.BaseURL),
		http:          cfg.HTTPClient,
		logger:        cfg.Logger,
		tracer:        otel.Tracer("github.com/AleutianAI/smartlibrary/pkg/stream"),
		readSize:      cfg.ReadBufferSize,
		healthTimeout: cfg.HealthTimeout,
	}
}

// NormalizeBaseURL trims whitespace and every trailing slash.
func NormalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// respondRequest is the /respond request body.
type respondRequest struct {
	Message string `json:"message"`
}

// Stream sends message to /respond and dispatches the SSE response to h.
//
// # Description
//
// Opens one POST, reads the body incrementally, cuts it into frames at
// blank lines and hands each frame to ParseFrame. Callbacks run on the
// calling goroutine, in frame order.
//
// The first final or error frame ends the stream: the client stops
// reading, and frames already buffered behind it are dropped with a
// warning. A remainder left in the buffer at EOF is parsed as one last
// frame.
//
// # Inputs
//
//   - ctx: Cancelling ctx aborts the request silently.
//   - message: The user's message, sent verbatim.
//   - h: Callbacks. Nil entries are skipped.
//
// # Outputs
//
//   - error: nil on normal completion and on cancellation. A *StatusError,
//     ErrNoBody or transport error when the request fails (OnError is
//     called once first). A wrapped read error when the body fails
//     mid-stream (OnError is called once first).
//
// # Limitations
//
//   - No retries.
func (c *Client) Stream(ctx context.Context, message string, h Handlers) (err error) {
	requestID := uuid.NewString()
	log := c.logger.With("request_id", requestID)

	ctx, span := c.tracer.Start(ctx, "stream.Client.Stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.Int("message.length", len(message)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log.Debug("opening stream", "url", c.baseURL+respondPath, "message_length", len(message))

	resp, err := c.postRespond(ctx, requestID, message)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("stream cancelled before response")
			return nil
		}
		log.Error("stream request failed", "error", err)
		dispatchError(h, err.Error())
		return fmt.Errorf("post respond: %w", err)
	}
	if resp.Body != nil {
		defer func(body io.ReadCloser) {
			if cerr := body.Close(); cerr != nil {
				log.Debug("failed to close response body", "error", cerr)
			}
		}(resp.Body)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if err := c.validateResponse(resp); err != nil {
		log.Error("stream rejected", "status_code", resp.StatusCode, "error", err)
		dispatchError(h, err.Error())
		return err
	}

	stats, err := c.readFrames(ctx, log, resp.Body, h)
	span.SetAttributes(
		attribute.Int("stream.frames", stats.frames),
		attribute.Int("stream.tokens", stats.tokens),
		attribute.Bool("stream.terminal", stats.terminal),
	)
	if err != nil {
		return err
	}

	log.Debug("stream closed",
		"frames", stats.frames,
		"tokens", stats.tokens,
		"terminal", stats.terminal,
		"cancelled", ctx.Err() != nil,
	)
	return nil
}

func (c *Client) postRespond(ctx context.Context, requestID, message string) (*http.Response, error) {
	body, err := json.Marshal(respondRequest{Message: message})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+respondPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Request-Id", requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	return c.http.Do(req)
}

func (c *Client) validateResponse(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Code: resp.StatusCode}
		if resp.Body != nil {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			statusErr.Body = strings.TrimSpace(string(snippet))
		}
		return statusErr
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return ErrNoBody
	}
	return nil
}

// streamStats summarizes one readFrames call for logs and spans.
type streamStats struct {
	frames   int
	tokens   int
	terminal bool
}

// readFrames runs the read loop. It returns nil on EOF, on a terminal
// frame and on cancellation.
func (c *Client) readFrames(ctx context.Context, log *logging.Logger, body io.Reader, h Handlers) (streamStats, error) {
	var (
		stats streamStats
		buf   []byte
		chunk = make([]byte, c.readSize)
	)

	// dispatch parses one frame and reports whether reading should stop.
	dispatch := func(frame []byte) bool {
		if ctx.Err() != nil {
			return true
		}
		e, ok := ParseFrame(string(frame))
		if !ok {
			return false
		}
		stats.frames++
		if e.Type == EventToken {
			stats.tokens++
		}
		h.Dispatch(e)
		if e.IsTerminal() {
			stats.terminal = true
			return true
		}
		return false
	}

	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if bytes.Contains(buf, crlf) {
				buf = bytes.ReplaceAll(buf, crlf, lf)
			}

			for {
				idx := bytes.Index(buf, frameDelimiter)
				if idx < 0 {
					break
				}
				frame := buf[:idx]
				buf = buf[idx+len(frameDelimiter):]
				if dispatch(frame) {
					if stats.terminal {
						c.warnDropped(log, buf)
					}
					return stats, nil
				}
			}
		}

		if readErr == nil {
			continue
		}
		if ctx.Err() != nil {
			return stats, nil
		}
		if errors.Is(readErr, io.EOF) {
			if len(bytes.TrimSpace(buf)) > 0 {
				dispatch(buf)
			}
			return stats, nil
		}

		log.Error("stream read failed", "error", readErr, "frames", stats.frames)
		dispatchError(h, readErr.Error())
		return stats, fmt.Errorf("read stream: %w", readErr)
	}
}

// warnDropped logs frames that arrived behind the terminal frame.
func (c *Client) warnDropped(log *logging.Logger, rest []byte) {
	for _, frame := range bytes.Split(rest, frameDelimiter) {
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}
		e, ok := ParseFrame(string(frame))
		if !ok {
			continue
		}
		log.Warn("dropping frame after terminal event", "event", string(e.Type))
	}
}

func dispatchError(h Handlers, msg string) {
	if h.OnError != nil {
		h.OnError(msg)
	}
}

// Healthz reports whether GET /healthz answers 2xx within the health
// timeout. It never returns an error; any failure reads as false.
func (c *Client) Healthz(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthzPath, nil)
	if err != nil {
		c.logger.Debug("healthz request build failed", "error", err)
		return false
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("healthz failed", "error", err)
		return false
	}
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
	}
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}
