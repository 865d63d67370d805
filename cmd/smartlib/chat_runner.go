// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/AleutianAI/smartlibrary/pkg/chat"
	"github.com/AleutianAI/smartlibrary/pkg/conversation"
	"github.com/AleutianAI/smartlibrary/pkg/logging"
	"github.com/AleutianAI/smartlibrary/pkg/stream"
	"github.com/AleutianAI/smartlibrary/pkg/ux"
	"github.com/AleutianAI/smartlibrary/pkg/ux/chatui"
)

// =============================================================================
// Input
// =============================================================================

// InputReader reads one line of user input.
type InputReader interface {
	ReadLine() (string, error)
}

// lineReader reads trimmed lines from any reader.
type lineReader struct {
	reader *bufio.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{reader: bufio.NewReader(r)}
}

func (r *lineReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// =============================================================================
// Line-mode runner
// =============================================================================

// lineRunnerConfig configures a lineRunner.
type lineRunnerConfig struct {
	Streamer  chat.Streamer
	Health    chatui.HealthChecker
	Speaker   ux.Speaker
	AutoSpeak bool
	Input     InputReader
	Output    io.Writer
	// Status receives the spinner. Usually stderr.
	Status io.Writer
	Styled bool
	Width  int
	Logger *logging.Logger
}

// lineRunner is the chat for pipes and dumb terminals: prompt, stream the
// reply inline, print the book card, repeat.
type lineRunner struct {
	cfg     lineRunnerConfig
	store   *conversation.Store
	ctrl    *chat.Controller
	printer *ux.TranscriptPrinter
	logger  *logging.Logger

	mu   sync.Mutex
	card ux.BookCard
}

func newLineRunner(cfg lineRunnerConfig) *lineRunner {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Status == nil {
		cfg.Status = io.Discard
	}
	if cfg.Width <= 0 {
		cfg.Width = 80
	}
	r := &lineRunner{
		cfg:     cfg,
		store:   conversation.NewStore(),
		printer: ux.NewTranscriptPrinter(cfg.Output, cfg.Styled),
		logger:  cfg.Logger,
	}
	r.ctrl = chat.New(r.store, cfg.Streamer,
		chat.WithLogger(cfg.Logger),
		chat.WithFinalHandler(func(_ string, payload stream.FinalPayload) {
			card, _ := ux.CardFromPayload(payload)
			r.mu.Lock()
			r.card = card
			r.mu.Unlock()
		}),
	)
	r.store.Subscribe(r.printer.Observe)
	return r
}

// Ask sends one message and prints the streamed reply and its card.
func (r *lineRunner) Ask(ctx context.Context, message string) error {
	r.mu.Lock()
	r.card = ux.BookCard{}
	r.mu.Unlock()

	spinner := ux.NewSpinner(r.cfg.Status, "The librarian is searching the shelves...", !r.cfg.Styled)
	r.printer.OnFirstOutput(spinner.Stop)
	spinner.Start()

	err := r.ctrl.Send(ctx, message)
	spinner.Stop()

	r.mu.Lock()
	card := r.card
	r.mu.Unlock()
	r.printer.EndReply(card, r.cfg.Width)

	if err == nil && r.cfg.AutoSpeak {
		r.speakLatest(ctx)
	}
	return err
}

// Run is the interactive loop. It returns nil on EOF, /exit or when ctx
// is cancelled.
func (r *lineRunner) Run(ctx context.Context) error {
	defer r.ctrl.Cancel()
	if r.cfg.Speaker != nil {
		defer r.cfg.Speaker.Stop()
	}

	fmt.Fprintf(r.cfg.Output, "%s Smart Librarian. Ask for a book; /help lists commands.\n", ux.IconBook)
	if r.cfg.Health != nil && !r.cfg.Health.Healthz(ctx) {
		fmt.Fprintf(r.cfg.Output, "%s The librarian is not reachable right now; messages may fail.\n", ux.IconWarning)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.cfg.Output, "\nYou: ")
		input, err := r.cfg.Input.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.cfg.Output)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if done := r.handleCommand(ctx, input); done {
				return nil
			}
			continue
		}

		if r.cfg.Speaker != nil {
			r.cfg.Speaker.Stop()
		}
		if err := r.Ask(ctx, input); err != nil {
			// The failure is already shown inline in the reply.
			r.logger.Debug("send failed", "error", err)
		}
	}
}

// handleCommand runs an inline command and reports whether to quit.
func (r *lineRunner) handleCommand(ctx context.Context, input string) bool {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/exit", "/quit":
		return true
	case "/help":
		fmt.Fprintln(r.cfg.Output, lineHelpText)
	case "/clear":
		r.ctrl.Reset()
		fmt.Fprintln(r.cfg.Output, "Conversation cleared.")
	case "/speak":
		r.speakLatest(ctx)
	case "/autospeak":
		r.cfg.AutoSpeak = !r.cfg.AutoSpeak
		fmt.Fprintf(r.cfg.Output, "auto speech %s\n", onOff(r.cfg.AutoSpeak))
	case "/health":
		if r.cfg.Health != nil && r.cfg.Health.Healthz(ctx) {
			fmt.Fprintf(r.cfg.Output, "%s librarian is up\n", ux.IconSuccess)
		} else {
			fmt.Fprintf(r.cfg.Output, "%s librarian is not reachable\n", ux.IconError)
		}
	default:
		fmt.Fprintf(r.cfg.Output, "unknown command: %s (try /help)\n", input)
	}
	return false
}

func (r *lineRunner) speakLatest(ctx context.Context) {
	if r.cfg.Speaker == nil {
		return
	}
	text := ux.SpeakableText(r.store.LatestAssistantText())
	if text == "" {
		fmt.Fprintln(r.cfg.Output, "Nothing to read yet.")
		return
	}
	if err := r.cfg.Speaker.Speak(ctx, text); err != nil {
		fmt.Fprintf(r.cfg.Output, "%s %v\n", ux.IconWarning, err)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

const lineHelpText = `Commands:
  /help       show this help
  /clear      start a new conversation
  /speak      read the last answer aloud
  /autospeak  toggle reading every answer aloud
  /health     check the librarian backend
  /exit       leave (also /quit or Ctrl+D)`
