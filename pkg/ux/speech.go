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
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// ErrNoSpeechEngine is returned when no text-to-speech program is found.
var ErrNoSpeechEngine = errors.New("no speech engine found (install espeak, spd-say or use macOS say)")

// Speaker reads text aloud. Speak replaces any utterance in progress.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop()
	Available() bool
}

// speechEngines lists candidate programs in preference order.
var speechEngines = []string{"say", "espeak-ng", "espeak", "spd-say"}

// CommandSpeaker runs a local text-to-speech program.
type CommandSpeaker struct {
	command string
	args    []string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSpeaker returns a CommandSpeaker for the named engine, or for the
// first engine on PATH when engine is "" or "auto". When nothing is found
// the returned speaker reports Available() == false.
func NewSpeaker(engine string) *CommandSpeaker {
	candidates := speechEngines
	if engine != "" && engine != "auto" {
		candidates = []string{engine}
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return &CommandSpeaker{command: path, args: engineArgs(name)}
		}
	}
	return &CommandSpeaker{}
}

func engineArgs(name string) []string {
	switch name {
	case "spd-say":
		return []string{"--wait"}
	default:
		return nil
	}
}

// Available reports whether an engine was found.
func (s *CommandSpeaker) Available() bool {
	return s.command != ""
}

// Speak starts reading text in the background and returns once the
// program has started. A previous utterance is stopped first.
func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	if !s.Available() {
		return ErrNoSpeechEngine
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.Stop()

	ctx, cancel := context.WithCancel(ctx)
	args := append(append([]string{}, s.args...), text)
	cmd := exec.CommandContext(ctx, s.command, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", s.command, err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		cancel()
		close(done)
	}()
	return nil
}

// Stop kills the current utterance, if any, and waits for it to exit.
func (s *CommandSpeaker) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

var _ Speaker = (*CommandSpeaker)(nil)
