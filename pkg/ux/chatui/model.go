// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chatui is the full-screen terminal chat: a message list, an
// input bar, the recommended book card and speech playback on top of a
// chat.Controller.
package chatui

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/AleutianAI/smartlibrary/pkg/chat"
	"github.com/AleutianAI/smartlibrary/pkg/conversation"
	"github.com/AleutianAI/smartlibrary/pkg/logging"
	"github.com/AleutianAI/smartlibrary/pkg/ux"
)

const (
	defaultWidth  = 80
	defaultHeight = 24
	maxInputChars = 1000
)

// HealthChecker probes the backend. *stream.Client implements it.
type HealthChecker interface {
	Healthz(ctx context.Context) bool
}

// health is the last known backend status.
type health int

const (
	healthUnknown health = iota
	healthUp
	healthDown
)

// Model is the bubbletea model for the chat screen.
type Model struct {
	ctrl    *chat.Controller
	store   *conversation.Store
	checker HealthChecker
	speaker ux.Speaker
	logger  *logging.Logger

	autoSpeak bool

	input   textinput.Model
	spinner spinner.Model

	renderer *glamour.TermRenderer
	// rendered caches glamour output for finished messages by ID.
	rendered map[string]string

	card    ux.BookCard
	notice  string
	health  health
	sendSeq int

	width    int
	height   int
	quitting bool
}

// NewModel creates the chat model. The controller's store is the
// transcript the view renders.
func NewModel(ctrl *chat.Controller, checker HealthChecker, speaker ux.Speaker, autoSpeak bool, logger *logging.Logger) (Model, error) {
	ti := textinput.New()
	ti.Placeholder = "Ask the librarian for a book..."
	ti.Focus()
	ti.CharLimit = maxInputChars
	ti.Width = defaultWidth - 4
	ti.Prompt = "› "

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = ux.Styles.Highlight

	renderer, err := newRenderer(defaultWidth)
	if err != nil {
		return Model{}, err
	}

	if logger == nil {
		logger = logging.Default()
	}

	return Model{
		ctrl:      ctrl,
		store:     ctrl.Store(),
		checker:   checker,
		speaker:   speaker,
		logger:    logger,
		autoSpeak: autoSpeak,
		input:     ti,
		spinner:   s,
		renderer:  renderer,
		rendered:  make(map[string]string),
		width:     defaultWidth,
		height:    defaultHeight,
	}, nil
}

func newRenderer(width int) (*glamour.TermRenderer, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width - 4)}
	if ux.NoColor() {
		opts = append(opts, glamour.WithStylePath("notty"))
	} else {
		opts = append(opts, glamour.WithAutoStyle())
	}
	return glamour.NewTermRenderer(opts...)
}

// Init starts the cursor blink, the spinner and the first health probe.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		healthCmd(m.checker),
	)
}
