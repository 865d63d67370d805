// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// TranscriptPrinter writes a streaming assistant reply to a plain writer.
//
// It is a conversation.Observer: register Observe with Store.Subscribe and
// it prints only the part of the latest assistant text that has not been
// printed yet. An empty text marks the start of a new reply.
type TranscriptPrinter struct {
	w      io.Writer
	styled bool

	mu       sync.Mutex
	printed  int
	labelled bool
	onFirst  func()
}

// NewTranscriptPrinter creates a printer. styled enables lipgloss labels.
func NewTranscriptPrinter(w io.Writer, styled bool) *TranscriptPrinter {
	return &TranscriptPrinter{w: w, styled: styled}
}

// OnFirstOutput registers fn to run once before the first byte of each
// reply is written. The ask command stops its spinner here.
func (p *TranscriptPrinter) OnFirstOutput(fn func()) {
	p.mu.Lock()
	p.onFirst = fn
	p.mu.Unlock()
}

// Observe receives the latest assistant text.
func (p *TranscriptPrinter) Observe(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if text == "" {
		p.printed = 0
		p.labelled = false
		return
	}
	if len(text) < p.printed {
		// A different reply replaced the one being printed.
		p.printed = 0
		p.labelled = false
	}
	if len(text) == p.printed {
		return
	}

	if !p.labelled {
		if p.onFirst != nil {
			p.onFirst()
		}
		fmt.Fprintf(p.w, "%s ", p.label())
		p.labelled = true
	}
	io.WriteString(p.w, text[p.printed:])
	p.printed = len(text)
}

// EndReply terminates the current reply line and prints card, if any.
func (p *TranscriptPrinter) EndReply(card BookCard, width int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.labelled {
		io.WriteString(p.w, "\n")
	}
	if !card.IsZero() {
		if p.styled {
			fmt.Fprintf(p.w, "\n%s\n", card.Render(width))
		} else {
			fmt.Fprintf(p.w, "\n%s\n", card.PlainText())
		}
	}
	p.printed = 0
	p.labelled = false
}

func (p *TranscriptPrinter) label() string {
	if p.styled {
		return Styles.AssistantLabel.Render("Librarian:")
	}
	return "Librarian:"
}

// SpeakableText strips markdown markers and inline error lines from an
// assistant reply so a speech engine reads only the prose.
func SpeakableText(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, string(IconWarning)) {
			continue
		}
		trimmed = strings.TrimLeft(trimmed, "#>-* ")
		trimmed = strings.NewReplacer("**", "", "__", "", "`", "", "*", "", "_", " ").Replace(trimmed)
		trimmed = strings.TrimSpace(trimmed)
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, "\n")
}
