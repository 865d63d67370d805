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
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/smartlibrary/pkg/conversation"
	"github.com/AleutianAI/smartlibrary/pkg/stream"
)

// =============================================================================
// Book Card
// =============================================================================

func TestCardFromPayload(t *testing.T) {
	card, ok := CardFromPayload(stream.FinalPayload{
		Final:          true,
		Recommendation: &stream.Recommendation{Title: " Dune ", Why: "epic"},
		Summary:        "Spice and sand.",
	})
	require.True(t, ok)
	assert.Equal(t, BookCard{Title: "Dune", Why: "epic", Summary: "Spice and sand."}, card)
}

func TestCardFromPayload_NoTitle(t *testing.T) {
	_, ok := CardFromPayload(stream.FinalPayload{Final: true, Summary: "orphan summary"})
	assert.False(t, ok)

	_, ok = CardFromPayload(stream.FinalPayload{Final: true, Raw: "not-json"})
	assert.False(t, ok)
}

func TestBookCard_Render(t *testing.T) {
	card := BookCard{Title: "The Hobbit", Summary: "A hobbit goes there and back again."}
	out := card.Render(10)
	assert.Contains(t, out, "The Hobbit")
	assert.Contains(t, out, "hobbit")
	assert.Empty(t, BookCard{}.Render(80))
}

func TestBookCard_PlainText(t *testing.T) {
	card := BookCard{Title: "Dune", Why: "epic", Summary: "Spice."}
	assert.Equal(t, "Recommended: Dune\nWhy: epic\n\nSpice.", card.PlainText())
	assert.Empty(t, BookCard{}.PlainText())
}

// =============================================================================
// Transcript Printer
// =============================================================================

func TestTranscriptPrinter_PrintsOnlyNewText(t *testing.T) {
	var buf bytes.Buffer
	p := NewTranscriptPrinter(&buf, false)

	store := conversation.NewStore()
	store.Subscribe(p.Observe)

	firstCalls := 0
	p.OnFirstOutput(func() { firstCalls++ })

	id := store.StartAssistantMessage()
	store.AppendToAssistant(id, "Try ")
	store.AppendToAssistant(id, "Dune.")
	store.FinishAssistant(id)
	p.EndReply(BookCard{Title: "Dune"}, 80)

	assert.Equal(t, "Librarian: Try Dune.\n\nRecommended: Dune\n", buf.String())
	assert.Equal(t, 1, firstCalls)

	buf.Reset()
	id = store.StartAssistantMessage()
	store.AppendToAssistant(id, "Again")
	p.EndReply(BookCard{}, 80)
	assert.Equal(t, "Librarian: Again\n", buf.String())
	assert.Equal(t, 2, firstCalls)
}

func TestTranscriptPrinter_EmptyReplyPrintsNothing(t *testing.T) {
	var buf bytes.Buffer
	p := NewTranscriptPrinter(&buf, false)
	p.Observe("")
	p.EndReply(BookCard{}, 80)
	assert.Empty(t, buf.String())
}

// =============================================================================
// Speech
// =============================================================================

func TestSpeakableText(t *testing.T) {
	in := "## Recommendation\n**Dune** by *Frank Herbert*\n- epic scope\n\n⚠ HTTP 500"
	assert.Equal(t, "Recommendation\nDune by Frank Herbert\nepic scope", SpeakableText(in))
}

func TestCommandSpeaker_Unavailable(t *testing.T) {
	s := NewSpeaker("definitely-not-a-speech-engine")
	assert.False(t, s.Available())
	assert.ErrorIs(t, s.Speak(context.Background(), "hello"), ErrNoSpeechEngine)
	assert.NotPanics(t, s.Stop)
}

func TestCommandSpeaker_RunsCommand(t *testing.T) {
	s := NewSpeaker("true")
	if !s.Available() {
		t.Skip("true(1) not on PATH")
	}
	require.NoError(t, s.Speak(context.Background(), "hello"))
	require.NoError(t, s.Speak(context.Background(), "   "))
	s.Stop()
}

// =============================================================================
// Spinner
// =============================================================================

func TestSpinner_PlainPrintsOnce(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, "Searching the shelves...", true)
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
	assert.Equal(t, 1, strings.Count(buf.String(), "Searching the shelves..."))
}

func TestSpinner_AnimatedStopClearsLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, "waiting", false)
	s.Start()
	s.UpdateMessage("still waiting")
	s.Stop()
	assert.True(t, strings.HasSuffix(buf.String(), "\r\033[K"))
}
