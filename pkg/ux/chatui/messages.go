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

import "github.com/AleutianAI/smartlibrary/pkg/stream"

// transcriptChangedMsg signals that the store changed. The view re-reads
// the store, so the message carries nothing.
type transcriptChangedMsg struct{}

// finalMsg carries a final payload for the book card.
type finalMsg struct {
	messageID string
	payload   stream.FinalPayload
}

// sendDoneMsg reports that the Send started as seq returned.
type sendDoneMsg struct {
	seq int
	err error
}

// healthMsg reports a backend probe.
type healthMsg struct {
	ok bool
}

// speechErrMsg reports a failed speech attempt.
type speechErrMsg struct {
	err error
}
