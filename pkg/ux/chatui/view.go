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
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/smartlibrary/pkg/conversation"
	"github.com/AleutianAI/smartlibrary/pkg/ux"
)

// View renders the UI (Bubbletea interface).
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	header := m.headerView()
	footer := m.footerView()

	// The card and footer are always visible; the transcript gets the rest.
	var card string
	if !m.card.IsZero() {
		card = m.card.Render(m.width)
	}
	avail := m.height - lipgloss.Height(header) - lipgloss.Height(footer)
	if card != "" {
		avail -= lipgloss.Height(card)
	}

	parts := []string{header, tailFit(m.transcriptView(), avail)}
	if card != "" {
		parts = append(parts, card)
	}
	parts = append(parts, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) headerView() string {
	title := ux.Styles.Title.Render(ux.IconBook.Render() + " Smart Librarian")

	var status string
	switch m.health {
	case healthUp:
		status = ux.Styles.Success.Render(ux.IconSuccess.Render() + " backend online")
	case healthDown:
		status = ux.Styles.Error.Render(ux.IconError.Render() + " backend offline")
	default:
		status = ux.Styles.Muted.Render("checking backend...")
	}
	return title + "  " + status
}

func (m Model) transcriptView() string {
	msgs := m.store.Messages()
	if len(msgs) == 0 {
		return ux.Styles.Muted.Render("Ask for a book by theme, mood or subject. Type /help for commands.")
	}

	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		switch msg.Role {
		case conversation.RoleUser:
			b.WriteString(ux.Styles.UserLabel.Render("You"))
			b.WriteString("\n")
			b.WriteString(ux.Styles.UserText.Render(msg.Text))
			b.WriteString("\n")
		case conversation.RoleAssistant:
			b.WriteString(ux.Styles.AssistantLabel.Render("Librarian"))
			b.WriteString("\n")
			b.WriteString(m.renderAssistant(msg))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// renderAssistant renders finished replies through glamour and streams
// partial text raw, since half-written markdown renders badly.
func (m Model) renderAssistant(msg conversation.Message) string {
	if !msg.Done || m.renderer == nil || msg.Text == "" {
		return msg.Text
	}
	if out, ok := m.rendered[msg.ID]; ok {
		return out
	}
	out, err := m.renderer.Render(msg.Text)
	if err != nil {
		return msg.Text
	}
	out = strings.Trim(out, "\n")
	// The map is shared across Model copies.
	m.rendered[msg.ID] = out
	return out
}

func (m Model) footerView() string {
	var b strings.Builder
	if m.ctrl.Busy() {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(ux.Styles.Muted.Render("The librarian is searching the shelves..."))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(ux.Styles.Warning.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString(ux.Styles.InputBox.Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(ux.Styles.StatusBar.Render("Enter send · Esc cancel · Ctrl+S speak · Ctrl+L clear · /help"))
	return b.String()
}

// tailFit keeps the last height lines of s so the newest text stays on
// screen.
func tailFit(s string, height int) string {
	if height <= 0 {
		return ""
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	return strings.Join(lines, "\n")
}
