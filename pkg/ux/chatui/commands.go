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

	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/smartlibrary/pkg/chat"
	"github.com/AleutianAI/smartlibrary/pkg/ux"
)

// sendCmd runs one controller session off the event loop. Transcript
// updates reach the model through the store observer while it runs.
func sendCmd(ctrl *chat.Controller, text string, seq int) tea.Cmd {
	return func() tea.Msg {
		err := ctrl.Send(context.Background(), text)
		return sendDoneMsg{seq: seq, err: err}
	}
}

func healthCmd(checker HealthChecker) tea.Cmd {
	if checker == nil {
		return nil
	}
	return func() tea.Msg {
		return healthMsg{ok: checker.Healthz(context.Background())}
	}
}

func speakCmd(speaker ux.Speaker, text string) tea.Cmd {
	if speaker == nil {
		return nil
	}
	text = ux.SpeakableText(text)
	return func() tea.Msg {
		if err := speaker.Speak(context.Background(), text); err != nil {
			return speechErrMsg{err: err}
		}
		return nil
	}
}
