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
	"strings"

	"github.com/AleutianAI/smartlibrary/pkg/stream"
)

const minCardWidth = 24

// BookCard is the recommendation panel populated from a final payload.
type BookCard struct {
	Title   string
	Why     string
	Summary string
}

// CardFromPayload builds a card from p. The boolean is false when p names
// no book, in which case the previous card should stay as it is.
func CardFromPayload(p stream.FinalPayload) (BookCard, bool) {
	title := strings.TrimSpace(p.Title())
	if title == "" {
		return BookCard{}, false
	}
	card := BookCard{
		Title:   title,
		Summary: strings.TrimSpace(p.Summary),
	}
	if p.Recommendation != nil {
		card.Why = strings.TrimSpace(p.Recommendation.Why)
	}
	return card, true
}

// IsZero reports whether the card is empty.
func (c BookCard) IsZero() bool {
	return c.Title == ""
}

// Render draws the card in a rounded box at most width columns wide.
func (c BookCard) Render(width int) string {
	if c.IsZero() {
		return ""
	}
	if width < minCardWidth {
		width = minCardWidth
	}
	inner := width - Styles.Card.GetHorizontalFrameSize()

	var b strings.Builder
	b.WriteString(Styles.CardTitle.Render(IconBook.Render() + " " + c.Title))
	if c.Why != "" {
		b.WriteString("\n\n")
		b.WriteString(Styles.CardWhy.Width(inner).Render(c.Why))
	}
	if c.Summary != "" {
		b.WriteString("\n\n")
		b.WriteString(Styles.Muted.Width(inner).Render(c.Summary))
	}
	return Styles.Card.Width(inner).Render(b.String())
}

// PlainText renders the card without styling, for pipes and NO_COLOR.
func (c BookCard) PlainText() string {
	if c.IsZero() {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recommended: ")
	b.WriteString(c.Title)
	if c.Why != "" {
		b.WriteString("\nWhy: ")
		b.WriteString(c.Why)
	}
	if c.Summary != "" {
		b.WriteString("\n\n")
		b.WriteString(c.Summary)
	}
	return b.String()
}
