// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chatui

import (
	"context"
	"fmt"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/smartlibrary/pkg/chat"
	"github.com/AleutianAI/smartlibrary/pkg/conversation"
	"github.com/AleutianAI/smartlibrary/pkg/logging"
	"github.com/AleutianAI/smartlibrary/pkg/stream"
	"github.com/AleutianAI/smartlibrary/pkg/ux"
)

// Options configures Run.
type Options struct {
	Streamer  chat.Streamer
	Health    HealthChecker
	Speaker   ux.Speaker
	AutoSpeak bool
	Logger    *logging.Logger
}

// Run starts the full-screen chat and blocks until the user quits or ctx
// is cancelled.
//
// # Description
//
// Builds a fresh conversation store and controller, then runs the
// bubbletea program in the alternate screen. Store changes are forwarded
// to the program as coalesced redraw messages: the observer never blocks,
// because it runs under the controller's apply lock and the event loop
// may itself be waiting on that lock through Cancel or Reset.
//
// # Limitations
//
// The transcript lives in memory only and is lost on exit.
func Run(ctx context.Context, opts Options) error {
	if opts.Streamer == nil {
		return fmt.Errorf("chatui: streamer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	var program atomic.Pointer[tea.Program]
	send := func(msg tea.Msg) {
		if p := program.Load(); p != nil {
			p.Send(msg)
		}
	}

	store := conversation.NewStore()
	ctrl := chat.New(store, opts.Streamer,
		chat.WithLogger(logger),
		chat.WithFinalHandler(func(id string, payload stream.FinalPayload) {
			go send(finalMsg{messageID: id, payload: payload})
		}),
	)

	model, err := NewModel(ctrl, opts.Health, opts.Speaker, opts.AutoSpeak, logger)
	if err != nil {
		return fmt.Errorf("create chat model: %w", err)
	}

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	program.Store(p)

	notify := make(chan struct{}, 1)
	done := make(chan struct{})
	unsubscribe := store.Subscribe(func(string) {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	go func() {
		for {
			select {
			case <-notify:
				p.Send(transcriptChangedMsg{})
			case <-done:
				return
			}
		}
	}()

	_, err = p.Run()
	close(done)
	ctrl.Cancel()
	if opts.Speaker != nil {
		opts.Speaker.Stop()
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("run chat ui: %w", err)
	}
	return nil
}
