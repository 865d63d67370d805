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
	"errors"
)

// =============================================================================
// Event Types
// =============================================================================

// EventType is the value of an SSE frame's "event:" field.
type EventType string

const (
	// EventToken carries one delta of assistant text.
	EventToken EventType = "token"

	// EventFinal carries the FinalPayload and ends the stream.
	EventFinal EventType = "final"

	// EventError carries a backend-reported error and ends the stream.
	EventError EventType = "error"

	// EventMessage is the SSE default when a frame names no type.
	// The librarian protocol never uses it, so such frames are ignored.
	EventMessage EventType = "message"
)

// Event is one parsed frame. Exactly one of Text, Payload or Message is
// meaningful, selected by Type.
type Event struct {
	Type EventType

	// Text is the token delta (EventToken).
	Text string

	// Payload is the decoded final payload (EventFinal). Never nil for
	// EventFinal events produced by ParseFrame.
	Payload *FinalPayload

	// Message is the error text (EventError). Never empty.
	Message string
}

// IsTerminal reports whether the event ends a stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventFinal || e.Type == EventError
}

// =============================================================================
// Final Payload
// =============================================================================

// Recommendation describes the recommended book. Only Title is required
// by the UI; unknown keys survive a decode/encode round trip in Extra.
type Recommendation struct {
	Title string
	Why   string
	Extra map[string]json.RawMessage
}

// FinalPayload is the open JSON object sent with the final event.
//
// Raw is set only when the frame data was not a decodable object; in that
// case Final is true and every other field is empty.
type FinalPayload struct {
	Final          bool
	Recommendation *Recommendation
	Summary        string
	Raw            string
	Extra          map[string]json.RawMessage
}

// Title returns the recommended title, or "" when there is none.
func (p *FinalPayload) Title() string {
	if p == nil || p.Recommendation == nil {
		return ""
	}
	return p.Recommendation.Title
}

var errNotObject = errors.New("payload is not a JSON object")

// UnmarshalJSON decodes the known keys and keeps the rest in Extra. A
// known key whose value has an unexpected type stays in Extra untouched;
// only data that is not a JSON object is an error.
func (p *FinalPayload) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return err
	}

	var out FinalPayload
	takeInto(fields, "final", &out.Final)
	var rec Recommendation
	if takeInto(fields, "recommendation", &rec) {
		out.Recommendation = &rec
	}
	takeInto(fields, "summary", &out.Summary)
	takeInto(fields, "raw", &out.Raw)
	if len(fields) > 0 {
		out.Extra = fields
	}

	*p = out
	return nil
}

// MarshalJSON writes the known keys over Extra. Empty optional fields are
// omitted; "final" is always written.
func (p FinalPayload) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(p.Extra)+4)
	for k, v := range p.Extra {
		obj[k] = v
	}
	obj["final"] = p.Final
	if p.Recommendation != nil {
		obj["recommendation"] = p.Recommendation
	}
	if p.Summary != "" {
		obj["summary"] = p.Summary
	}
	if p.Raw != "" {
		obj["raw"] = p.Raw
	}
	return json.Marshal(obj)
}

// UnmarshalJSON decodes title and why and keeps the rest in Extra,
// including a title or why of the wrong type.
func (r *Recommendation) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return err
	}

	var out Recommendation
	takeInto(fields, "title", &out.Title)
	takeInto(fields, "why", &out.Why)
	if len(fields) > 0 {
		out.Extra = fields
	}

	*r = out
	return nil
}

// MarshalJSON writes title and why over Extra.
func (r Recommendation) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(r.Extra)+2)
	for k, v := range r.Extra {
		obj[k] = v
	}
	if r.Title != "" {
		obj["title"] = r.Title
	}
	if r.Why != "" {
		obj["why"] = r.Why
	}
	return json.Marshal(obj)
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errNotObject
	}
	return fields, nil
}

// takeInto decodes fields[key] into dst and removes the key. A null value
// is removed and leaves dst unset. A value that does not decode stays in
// fields. Reports whether dst was set.
func takeInto(fields map[string]json.RawMessage, key string, dst any) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	if isNull(raw) {
		delete(fields, key)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false
	}
	delete(fields, key)
	return true
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
