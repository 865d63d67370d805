// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"encoding/json"
	"strings"
)

// UnknownErrorMessage is reported for an error frame that carries no data.
const UnknownErrorMessage = "Unknown stream error"

// =============================================================================
// Frame Parsing
// =============================================================================

// ParseFrame converts one SSE frame (the text between two blank-line
// delimiters) into an Event.
//
// The boolean is false when the frame produces nothing: a token frame with
// empty data, a frame of the default "message" type, or any type the
// librarian protocol does not define. ParseFrame is pure and never fails;
// malformed final and error payloads degrade to raw text.
//
// Field handling:
//
//	event: token        -> Type (last one wins, surrounding space trimmed)
//	data: hello         -> one data line, a single leading space stripped
//	data:world          -> also accepted
//	: keep-alive        -> comment, ignored
//
// Several data lines are joined with "\n". Lines may end in "\r".
func ParseFrame(frame string) (Event, bool) {
	eventType := EventMessage
	var data []string

	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "event":
			eventType = EventType(strings.TrimSpace(value))
		case "data":
			data = append(data, value)
		}
	}

	return buildEvent(eventType, strings.Join(data, "\n"))
}

func buildEvent(eventType EventType, data string) (Event, bool) {
	switch eventType {
	case EventToken:
		if data == "" {
			return Event{}, false
		}
		return Event{Type: EventToken, Text: data}, true

	case EventFinal:
		return Event{Type: EventFinal, Payload: decodeFinal(data)}, true

	case EventError:
		return Event{Type: EventError, Message: decodeError(data)}, true

	default:
		return Event{}, false
	}
}

func decodeFinal(data string) *FinalPayload {
	var payload FinalPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return &FinalPayload{Final: true, Raw: data}
	}
	return &payload
}

// errorBody is the structured form of an error frame.
type errorBody struct {
	Error string `json:"error"`
}

func decodeError(data string) string {
	var body errorBody
	if err := json.Unmarshal([]byte(data), &body); err == nil && body.Error != "" {
		return body.Error
	}
	if data != "" {
		return data
	}
	return UnknownErrorMessage
}

// =============================================================================
// Dispatch
// =============================================================================

// Handlers receives stream events. Nil callbacks are skipped.
type Handlers struct {
	OnToken func(text string)
	OnFinal func(payload FinalPayload)
	OnError func(message string)
}

// Dispatch invokes the handler matching e.Type.
func (h Handlers) Dispatch(e Event) {
	switch e.Type {
	case EventToken:
		if h.OnToken != nil {
			h.OnToken(e.Text)
		}
	case EventFinal:
		if h.OnFinal != nil && e.Payload != nil {
			h.OnFinal(*e.Payload)
		}
	case EventError:
		if h.OnError != nil {
			h.OnError(e.Message)
		}
	}
}
