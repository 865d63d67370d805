// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides the terminal presentation pieces shared by the
// smartlib commands: styles, the book card, the line-mode transcript
// printer, the spinner and speech playback. The full-screen chat lives in
// the chatui subpackage.
package ux

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Library palette, from leather bindings to old paper.
var (
	ColorBinding   = lipgloss.Color("#8E3B2E") // Oxblood - titles, card border
	ColorGilt      = lipgloss.Color("#D4A94A") // Gilt - highlights, spinner
	ColorInk       = lipgloss.Color("#2B2B2B") // Ink - body text on light themes
	ColorParchment = lipgloss.Color("#EFE3C8") // Parchment - card title foreground
	ColorShelf     = lipgloss.Color("#6B5B4B") // Shelf wood - muted text
	ColorSpine     = lipgloss.Color("#3E6E6A") // Green spine - user bubbles

	ColorSuccess = lipgloss.Color("#5FAD56")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#6B5B4B")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	UserText       lipgloss.Style

	Card      lipgloss.Style
	CardTitle lipgloss.Style
	CardWhy   lipgloss.Style
	InputBox  lipgloss.Style
	StatusBar lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorBinding),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorGilt),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorGilt).Bold(true),

	UserLabel:      lipgloss.NewStyle().Bold(true).Foreground(ColorSpine),
	AssistantLabel: lipgloss.NewStyle().Bold(true).Foreground(ColorBinding),
	UserText:       lipgloss.NewStyle().Foreground(ColorSpine),

	Card: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBinding).
		Padding(0, 1),
	CardTitle: lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorParchment).
		Background(ColorBinding).
		Padding(0, 1),
	CardWhy: lipgloss.NewStyle().Italic(true).Foreground(ColorGilt),
	InputBox: lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), true, false, false, false).
		BorderForeground(ColorShelf),
	StatusBar: lipgloss.NewStyle().Foreground(ColorMuted),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBook    Icon = "📖"
	IconSpeaker Icon = "🔊"
	IconArrow   Icon = "→"
)

// Render returns the icon with its semantic color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// NoColor reports whether NO_COLOR is set.
func NoColor() bool {
	return os.Getenv("NO_COLOR") != ""
}
