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
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/smartlibrary/pkg/conversation"
	"github.com/AleutianAI/smartlibrary/pkg/ux"
)

// Update handles messages and updates the model (Bubbletea interface).
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-4, 10)
		if r, err := newRenderer(msg.Width); err == nil {
			m.renderer = r
			m.rendered = make(map[string]string)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case transcriptChangedMsg:
		return m, nil

	case finalMsg:
		// Finals arrive on their own goroutine; one for a message that was
		// cleared or superseded since must not bring its card back.
		reply, ok := m.latestReply()
		if !ok || reply.ID != msg.messageID {
			m.logger.Debug("dropping final for stale message", "message_id", msg.messageID)
			return m, nil
		}
		if card, ok := ux.CardFromPayload(msg.payload); ok {
			m.card = card
		}
		if m.autoSpeak && strings.TrimSpace(reply.Text) != "" {
			return m, speakCmd(m.speaker, reply.Text)
		}
		return m, nil

	case sendDoneMsg:
		if msg.seq == m.sendSeq && msg.err != nil {
			m.logger.Warn("send failed", "error", msg.err)
		}
		return m, nil

	case healthMsg:
		if msg.ok {
			m.health = healthUp
		} else {
			m.health = healthDown
		}
		return m, nil

	case speechErrMsg:
		m.notice = fmt.Sprintf("speech unavailable: %v", msg.err)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleKeyMsg handles keyboard input.
func (m Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.ctrl.Busy() {
			m.ctrl.Cancel()
			m.notice = "request cancelled"
			return m, nil
		}
		return m.quit()

	case "ctrl+d":
		return m.quit()

	case "esc":
		if m.ctrl.Busy() {
			m.ctrl.Cancel()
			m.notice = "request cancelled"
		}
		return m, nil

	case "ctrl+s":
		return m, m.speakLatest()

	case "ctrl+l":
		return m.clear()

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.notice = ""

		if strings.HasPrefix(text, "/") {
			return m.handleInlineCommand(text)
		}

		// A new question supersedes one still streaming.
		m.sendSeq++
		if m.speaker != nil {
			m.speaker.Stop()
		}
		return m, sendCmd(m.ctrl, text, m.sendSeq)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleInlineCommand processes /help, /clear, /speak, /health and /exit.
func (m Model) handleInlineCommand(cmd string) (tea.Model, tea.Cmd) {
	switch strings.ToLower(strings.TrimSpace(cmd)) {
	case "/help":
		m.notice = helpText
		return m, nil

	case "/clear":
		return m.clear()

	case "/speak":
		return m, m.speakLatest()

	case "/autospeak":
		m.autoSpeak = !m.autoSpeak
		m.notice = fmt.Sprintf("auto speech %s", onOff(m.autoSpeak))
		return m, nil

	case "/health":
		return m, healthCmd(m.checker)

	case "/exit", "/quit":
		return m.quit()

	default:
		m.notice = fmt.Sprintf("unknown command: %s (try /help)", cmd)
		return m, nil
	}
}

// latestReply returns the newest assistant message.
func (m Model) latestReply() (conversation.Message, bool) {
	msgs := m.store.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == conversation.RoleAssistant {
			return msgs[i], true
		}
	}
	return conversation.Message{}, false
}

func (m Model) speakLatest() tea.Cmd {
	text := m.store.LatestAssistantText()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return speakCmd(m.speaker, text)
}

func (m Model) clear() (tea.Model, tea.Cmd) {
	m.ctrl.Reset()
	m.card = ux.BookCard{}
	m.rendered = make(map[string]string)
	if m.speaker != nil {
		m.speaker.Stop()
	}
	return m, tea.ClearScreen
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.ctrl.Cancel()
	if m.speaker != nil {
		m.speaker.Stop()
	}
	m.quitting = true
	return m, tea.Quit
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

const helpText = `Commands: /help  /clear  /speak  /autospeak  /health  /exit
Keys: Enter send · Esc cancel · Ctrl+S speak · Ctrl+L clear · Ctrl+C cancel or quit`
