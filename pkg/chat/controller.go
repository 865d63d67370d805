// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chat coordinates one send-message cycle between the transcript
// and the streaming client.
//
// # Sessions and Generations
//
// Every Send starts a new session and bumps the controller's generation.
// Each callback handed to the streamer captures the generation it was
// created for and checks it before touching the transcript, so a session
// that has been superseded but whose stream has not yet noticed the
// cancellation cannot write into the transcript:
//
//	Send("a")  gen=1  ── token ── token ─┐ (cancelled)
//	Send("b")  gen=2 ─────────────────────┴── token ── final
//
// # Locking
//
// Two locks are used. applyMu serializes transcript mutations made on
// behalf of sessions and the generation bump in Send and Cancel, so a
// generation check stays valid for the whole mutation. mu guards the
// small state fields read by Busy and State. Transcript observers and the
// final handler run with applyMu held; they may call Busy, State and any
// Store method, but must not call Send, Cancel or Reset synchronously.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/AleutianAI/smartlibrary/pkg/conversation"
	"github.com/AleutianAI/smartlibrary/pkg/logging"
	"github.com/AleutianAI/smartlibrary/pkg/stream"
)

// ErrorMarker prefixes backend and transport errors appended to the
// assistant message.
const ErrorMarker = "⚠ "

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("message is empty")

// =============================================================================
// State
// =============================================================================

// State is the controller's position in the send cycle.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateFinalizing
	// StateAborted is entered by a superseded or cancelled session and
	// immediately left for the next state.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// =============================================================================
// Collaborators
// =============================================================================

// Streamer opens one response stream. *stream.Client implements it.
type Streamer interface {
	Stream(ctx context.Context, message string, h stream.Handlers) error
}

// FinalHandler is called once per session that ends with a final frame.
type FinalHandler func(messageID string, payload stream.FinalPayload)

// Option configures a Controller.
type Option func(*Controller)

// WithFinalHandler sets the handler notified of final payloads.
func WithFinalHandler(fn FinalHandler) Option {
	return func(c *Controller) { c.onFinal = fn }
}

// WithLogger sets the controller's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// =============================================================================
// Controller
// =============================================================================

// Controller runs send cycles against a Store. At most one session is
// active; starting a new one cancels the previous one.
type Controller struct {
	store    *conversation.Store
	streamer Streamer
	onFinal  FinalHandler
	logger   *logging.Logger

	applyMu sync.Mutex

	mu         sync.Mutex
	generation uint64
	state      State
	busy       bool
	activeID   string
	cancel     context.CancelFunc
}

// New creates a Controller. It panics if store or streamer is nil.
func New(store *conversation.Store, streamer Streamer, opts ...Option) *Controller {
	if store == nil {
		panic("chat.New: store must not be nil")
	}
	if streamer == nil {
		panic("chat.New: streamer must not be nil")
	}
	c := &Controller{
		store:    store,
		streamer: streamer,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// session is the per-Send state shared by the stream callbacks. Its
// fields are only touched with applyMu held.
type session struct {
	gen       uint64
	messageID string
	terminal  bool
	tokens    int
}

// Send runs one send cycle and blocks until it ends.
//
// # Description
//
// Cancels any active session, appends the user message and an empty
// assistant message, then streams the response into the assistant
// message. Token frames append, a final frame finishes the message and
// calls the final handler, an error frame appends an ErrorMarker line and
// finishes the message. A stream that ends cleanly without a terminal
// frame also finishes the message.
//
// # Outputs
//
//   - error: ErrEmptyMessage for blank input. The streamer's error when
//     the request or body read failed and this session was still current.
//     nil otherwise, including when the session was superseded.
func (c *Controller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := c.begin(text, cancel)
	log := c.logger.With("session_generation", sess.gen, "message_id", sess.messageID)
	log.Info("session started", "message_length", len(text))

	err := c.streamer.Stream(sctx, text, c.handlers(sess, log))

	return c.end(sess, sctx, err, log)
}

// begin supersedes the active session and opens a new one.
func (c *Controller) begin(text string, cancel context.CancelFunc) *session {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.state = StateAborted
		c.logger.Info("session superseded", "session_generation", c.generation)
	}
	c.generation++
	sess := &session{gen: c.generation}
	c.cancel = cancel
	c.state = StateSending
	c.busy = true
	c.mu.Unlock()

	c.store.AddUserMessage(text)
	sess.messageID = c.store.StartAssistantMessage()

	c.mu.Lock()
	c.activeID = sess.messageID
	c.mu.Unlock()

	return sess
}

// handlers builds the generation-checked callbacks for sess.
func (c *Controller) handlers(sess *session, log *logging.Logger) stream.Handlers {
	return stream.Handlers{
		OnToken: func(text string) {
			c.applyMu.Lock()
			defer c.applyMu.Unlock()
			if !c.isCurrent(sess.gen) || sess.terminal {
				log.Debug("discarding token for inactive session")
				return
			}
			if sess.tokens == 0 {
				c.setState(StateStreaming)
			}
			sess.tokens++
			c.store.AppendToAssistant(sess.messageID, text)
		},
		OnFinal: func(payload stream.FinalPayload) {
			c.applyMu.Lock()
			defer c.applyMu.Unlock()
			if !c.isCurrent(sess.gen) || sess.terminal {
				log.Debug("discarding final for inactive session")
				return
			}
			sess.terminal = true
			c.setState(StateFinalizing)
			c.store.FinishAssistant(sess.messageID)
			log.Info("session finished", "tokens", sess.tokens, "title", payload.Title())
			if c.onFinal != nil {
				c.onFinal(sess.messageID, payload)
			}
		},
		OnError: func(msg string) {
			c.applyMu.Lock()
			defer c.applyMu.Unlock()
			if !c.isCurrent(sess.gen) || sess.terminal {
				log.Debug("discarding error for inactive session")
				return
			}
			sess.terminal = true
			c.setState(StateFinalizing)
			c.appendErrorLocked(sess, msg)
			log.Warn("session ended with error", "error", msg, "tokens", sess.tokens)
		},
	}
}

// end runs the finally path of a session.
func (c *Controller) end(sess *session, sctx context.Context, err error, log *logging.Logger) error {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	if !c.isCurrent(sess.gen) {
		log.Debug("session ended after being superseded", "error", err)
		return nil
	}

	if !sess.terminal {
		switch {
		case err != nil:
			c.appendErrorLocked(sess, err.Error())
		case sctx.Err() != nil:
			// Cancelled by the caller's context; leave the message as it stands.
			log.Info("session cancelled", "tokens", sess.tokens)
		default:
			c.store.FinishAssistant(sess.messageID)
			log.Info("stream ended without terminal event", "tokens", sess.tokens)
		}
	}

	c.mu.Lock()
	c.busy = false
	c.state = StateIdle
	c.cancel = nil
	c.activeID = ""
	c.mu.Unlock()

	return err
}

// appendErrorLocked appends the inline error marker and finishes the
// message. applyMu must be held.
func (c *Controller) appendErrorLocked(sess *session, msg string) {
	sep := "\n\n"
	if m, ok := c.store.Get(sess.messageID); ok && m.Text == "" {
		sep = ""
	}
	c.store.AppendToAssistant(sess.messageID, sep+ErrorMarker+msg)
	c.store.FinishAssistant(sess.messageID)
	sess.terminal = true
}

// Cancel aborts the active session, if any. The aborted assistant message
// is left as it stood.
func (c *Controller) Cancel() {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.logger.Info("session cancelled by user", "session_generation", c.generation)
	c.generation++
	c.cancel = nil
	c.busy = false
	c.state = StateIdle
	c.activeID = ""
}

// Reset cancels the active session and clears the transcript.
func (c *Controller) Reset() {
	c.Cancel()
	c.store.Reset()
}

// Busy reports whether a session is active.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Generation returns the number of sessions started or cancelled so far.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// ActiveMessageID returns the open assistant message ID, or "".
func (c *Controller) ActiveMessageID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// Store returns the transcript the controller writes to.
func (c *Controller) Store() *conversation.Store {
	return c.store
}

func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
