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
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/smartlibrary/pkg/chat"
	"github.com/AleutianAI/smartlibrary/pkg/conversation"
	"github.com/AleutianAI/smartlibrary/pkg/logging"
	"github.com/AleutianAI/smartlibrary/pkg/stream"
	"github.com/AleutianAI/smartlibrary/pkg/ux"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeStreamer struct {
	tokens []string
	final  *stream.FinalPayload
}

func (f *fakeStreamer) Stream(_ context.Context, _ string, h stream.Handlers) error {
	for _, tok := range f.tokens {
		h.OnToken(tok)
	}
	if f.final != nil {
		h.OnFinal(*f.final)
	}
	return nil
}

type fakeChecker struct{ ok bool }

func (f fakeChecker) Healthz(context.Context) bool { return f.ok }

type fakeSpeaker struct {
	mu     sync.Mutex
	spoken []string
	stops  int
}

func (s *fakeSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *fakeSpeaker) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *fakeSpeaker) Available() bool { return true }

func newTestModel(t *testing.T, streamer chat.Streamer, speaker *fakeSpeaker) Model {
	t.Helper()
	t.Setenv("NO_COLOR", "1")
	ctrl := chat.New(conversation.NewStore(), streamer, chat.WithLogger(logging.Discard()))
	var sp ux.Speaker
	if speaker != nil {
		sp = speaker
	}
	m, err := NewModel(ctrl, fakeChecker{ok: true}, sp, false, logging.Discard())
	require.NoError(t, err)
	return m
}

func typeText(m Model, text string) Model {
	m.input.SetValue(text)
	return m
}

func press(t *testing.T, m Model, key tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(key)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

var enter = tea.KeyMsg{Type: tea.KeyEnter}

func latestReplyID(t *testing.T, m Model) string {
	t.Helper()
	reply, ok := m.latestReply()
	require.True(t, ok)
	return reply.ID
}

// =============================================================================
// Sending
// =============================================================================

func TestEnter_SendsAndStreamsIntoStore(t *testing.T) {
	m := newTestModel(t, &fakeStreamer{tokens: []string{"Try ", "Dune."}}, nil)

	m, cmd := press(t, typeText(m, "  a desert epic  "), enter)
	require.NotNil(t, cmd)
	assert.Empty(t, m.input.Value())
	assert.Equal(t, 1, m.sendSeq)

	done, ok := cmd().(sendDoneMsg)
	require.True(t, ok)
	assert.NoError(t, done.err)
	assert.Equal(t, 1, done.seq)

	msgs := m.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a desert epic", msgs[0].Text)
	assert.Equal(t, "Try Dune.", msgs[1].Text)
	assert.True(t, msgs[1].Done)

	view := update(t, m, done).View()
	assert.Contains(t, view, "a desert epic")
	assert.Contains(t, view, "Dune")
}

func TestEnter_BlankInputDoesNothing(t *testing.T) {
	m := newTestModel(t, &fakeStreamer{}, nil)
	m, cmd := press(t, typeText(m, "   "), enter)
	assert.Nil(t, cmd)
	assert.Equal(t, 0, m.sendSeq)
	assert.Equal(t, 0, m.store.Len())
}

func TestFinalMsg_SetsCardAndAutoSpeaks(t *testing.T) {
	speaker := &fakeSpeaker{}
	m := newTestModel(t, &fakeStreamer{tokens: []string{"**Dune** is great"}}, speaker)
	m.autoSpeak = true

	_, cmd := press(t, typeText(m, "sci-fi"), enter)
	cmd()

	next, speak := m.Update(finalMsg{messageID: latestReplyID(t, m), payload: stream.FinalPayload{
		Final:          true,
		Recommendation: &stream.Recommendation{Title: "Dune"},
		Summary:        "Spice.",
	}})
	model := next.(Model)
	assert.Equal(t, "Dune", model.card.Title)
	require.NotNil(t, speak)
	speak()
	assert.Equal(t, []string{"Dune is great"}, speaker.spoken)
	assert.Contains(t, model.View(), "Spice.")
}

func TestFinalMsg_StaleAfterClearIsDropped(t *testing.T) {
	speaker := &fakeSpeaker{}
	m := newTestModel(t, &fakeStreamer{tokens: []string{"Try Emma."}}, speaker)
	m.autoSpeak = true

	_, cmd := press(t, typeText(m, "romance"), enter)
	cmd()
	staleID := latestReplyID(t, m)

	m, _ = press(t, typeText(m, "/clear"), enter)
	next, speak := m.Update(finalMsg{messageID: staleID, payload: stream.FinalPayload{
		Final:          true,
		Recommendation: &stream.Recommendation{Title: "Emma"},
	}})
	assert.True(t, next.(Model).card.IsZero())
	assert.Nil(t, speak)
	assert.Empty(t, speaker.spoken)
}

func TestFinalMsg_SupersededSendIsDropped(t *testing.T) {
	speaker := &fakeSpeaker{}
	m := newTestModel(t, &fakeStreamer{tokens: []string{"Try Emma."}}, speaker)
	m.autoSpeak = true

	_, cmd := press(t, typeText(m, "romance"), enter)
	cmd()
	firstID := latestReplyID(t, m)

	_, cmd = press(t, typeText(m, "something else"), enter)
	cmd()
	require.NotEqual(t, firstID, latestReplyID(t, m))

	next, speak := m.Update(finalMsg{messageID: firstID, payload: stream.FinalPayload{
		Final:          true,
		Recommendation: &stream.Recommendation{Title: "Emma"},
	}})
	assert.True(t, next.(Model).card.IsZero())
	assert.Nil(t, speak)
}

func TestFinalMsg_SpeaksItsOwnMessage(t *testing.T) {
	speaker := &fakeSpeaker{}
	m := newTestModel(t, &fakeStreamer{tokens: []string{"**Dune** it is"}}, speaker)
	m.autoSpeak = true

	_, cmd := press(t, typeText(m, "sci-fi"), enter)
	cmd()
	id := latestReplyID(t, m)

	_, speak := m.Update(finalMsg{messageID: id, payload: stream.FinalPayload{Final: true}})
	require.NotNil(t, speak)
	speak()
	assert.Equal(t, []string{"Dune it is"}, speaker.spoken)
}

// =============================================================================
// Inline Commands
// =============================================================================

func TestInlineCommands(t *testing.T) {
	m := newTestModel(t, &fakeStreamer{}, &fakeSpeaker{})

	m, _ = press(t, typeText(m, "/help"), enter)
	assert.Contains(t, m.notice, "/clear")

	m, _ = press(t, typeText(m, "/autospeak"), enter)
	assert.True(t, m.autoSpeak)
	assert.Equal(t, "auto speech on", m.notice)

	m, _ = press(t, typeText(m, "/bogus"), enter)
	assert.Contains(t, m.notice, "unknown command")

	m, cmd := press(t, typeText(m, "/health"), enter)
	require.NotNil(t, cmd)
	m = update(t, m, cmd())
	assert.Equal(t, healthUp, m.health)

	m, cmd = press(t, typeText(m, "/quit"), enter)
	assert.True(t, m.quitting)
	require.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestClear_ResetsTranscriptAndCard(t *testing.T) {
	m := newTestModel(t, &fakeStreamer{tokens: []string{"hi"}}, nil)
	_, cmd := press(t, typeText(m, "hello"), enter)
	cmd()
	m = update(t, m, finalMsg{messageID: latestReplyID(t, m), payload: stream.FinalPayload{Final: true, Recommendation: &stream.Recommendation{Title: "Emma"}}})
	require.False(t, m.card.IsZero())

	m, _ = press(t, typeText(m, "/clear"), enter)
	assert.Equal(t, 0, m.store.Len())
	assert.True(t, m.card.IsZero())
}

func TestSpeak_NothingToSay(t *testing.T) {
	m := newTestModel(t, &fakeStreamer{}, &fakeSpeaker{})
	_, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.Nil(t, cmd)
}

func TestCtrlC_QuitsWhenIdle(t *testing.T) {
	m := newTestModel(t, &fakeStreamer{}, nil)
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
}

// =============================================================================
// Layout
// =============================================================================

func TestTailFit(t *testing.T) {
	assert.Equal(t, "c\nd", tailFit("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a", tailFit("a", 5))
	assert.Empty(t, tailFit("a\nb", 0))
}

func TestView_StreamingTextIsRaw(t *testing.T) {
	m := newTestModel(t, &fakeStreamer{}, nil)
	id := m.store.StartAssistantMessage()
	m.store.AppendToAssistant(id, "**half")
	assert.Contains(t, m.View(), "**half")
	assert.Empty(t, m.rendered)
}

func TestView_WindowResizeKeepsInputVisible(t *testing.T) {
	m := newTestModel(t, &fakeStreamer{}, nil)
	for i := 0; i < 40; i++ {
		m.store.AddUserMessage("question number " + strings.Repeat("x", i%5))
	}
	m = update(t, m, tea.WindowSizeMsg{Width: 60, Height: 12})
	view := m.View()
	assert.Contains(t, view, "Ask the librarian")
	assert.LessOrEqual(t, strings.Count(view, "\n")+1, 14)
}
