// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation holds the chat transcript shown by the front ends.
//
// The transcript is an ordered, append-only list of messages. The only
// mutation of an existing message is appending text to, or finishing, an
// open assistant message identified by its ID. Observers are told the
// trailing assistant text after every change, which is what speech
// playback and the terminal view need.
package conversation

import (
	"sync"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	ID   string
	Role Role
	Text string
	Done bool
}

// Observer receives the latest assistant text after each change.
type Observer func(latestAssistantText string)

// Store is a concurrency-safe transcript. The zero value is not usable;
// call NewStore.
type Store struct {
	mu        sync.Mutex
	messages  []Message
	index     map[string]int
	observers map[int]Observer
	nextObs   int
}

// NewStore creates an empty transcript.
func NewStore() *Store {
	return &Store{
		index:     make(map[string]int),
		observers: make(map[int]Observer),
	}
}

// AddUserMessage appends a finished user message and returns it.
func (s *Store) AddUserMessage(text string) Message {
	msg := Message{
		ID:   uuid.NewString(),
		Role: RoleUser,
		Text: text,
		Done: true,
	}

	s.mu.Lock()
	s.appendLocked(msg)
	s.mu.Unlock()
	return msg
}

// StartAssistantMessage appends an empty, open assistant message and
// returns its ID. Observers are notified with the empty text.
func (s *Store) StartAssistantMessage() string {
	msg := Message{
		ID:   uuid.NewString(),
		Role: RoleAssistant,
	}

	s.mu.Lock()
	s.appendLocked(msg)
	latest, observers := s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, latest)
	return msg.ID
}

// AppendToAssistant concatenates delta onto the assistant message id.
//
// It returns false and does nothing when id is unknown, names a user
// message, or names a message that is already done.
func (s *Store) AppendToAssistant(id, delta string) bool {
	s.mu.Lock()
	i, ok := s.openAssistantLocked(id)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.messages[i].Text += delta
	latest, observers := s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, latest)
	return true
}

// FinishAssistant marks the assistant message id done.
//
// Only the first call for an id has an effect and notifies observers;
// it returns true in that case.
func (s *Store) FinishAssistant(id string) bool {
	s.mu.Lock()
	i, ok := s.openAssistantLocked(id)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.messages[i].Done = true
	latest, observers := s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, latest)
	return true
}

// Messages returns a copy of the transcript in insertion order.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Get returns the message with the given ID.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return s.messages[i], true
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// LatestAssistantText returns the text of the last assistant message, or
// "" when there is none.
func (s *Store) LatestAssistantText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestLocked()
}

// Subscribe registers fn and returns a function that unregisters it.
// Observers run on the goroutine that made the change, outside the lock,
// so they may call back into the Store.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// Reset clears the transcript and notifies observers with "".
func (s *Store) Reset() {
	s.mu.Lock()
	s.messages = nil
	s.index = make(map[string]int)
	_, observers := s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, "")
}

func (s *Store) appendLocked(msg Message) {
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
}

func (s *Store) openAssistantLocked(id string) (int, bool) {
	i, ok := s.index[id]
	if !ok {
		return 0, false
	}
	m := s.messages[i]
	if m.Role != RoleAssistant || m.Done {
		return 0, false
	}
	return i, true
}

func (s *Store) latestLocked() string {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleAssistant {
			return s.messages[i].Text
		}
	}
	return ""
}

func (s *Store) snapshotLocked() (string, []Observer) {
	observers := make([]Observer, 0, len(s.observers))
	for i := 0; i < s.nextObs; i++ {
		if fn, ok := s.observers[i]; ok {
			observers = append(observers, fn)
		}
	}
	return s.latestLocked(), observers
}

func notify(observers []Observer, text string) {
	for _, fn := range observers {
		fn(text)
	}
}
