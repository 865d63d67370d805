// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package moderation screens user messages for offensive language before
// they reach the language model. Matching is local; nothing is sent out.
package moderation

import (
	"regexp"
	"strings"
)

// PolicyReply is streamed back instead of a recommendation when a message
// is flagged.
const PolicyReply = "I'd like to keep our conversation polite and respectful. " +
	"Could you rephrase your message without offensive terms?"

// DefaultStems are the word stems flagged by default. Each matches the
// stem at a word boundary followed by any word characters.
var DefaultStems = []string{
	// Romanian
	"idiot", "prost", "nesimțit", "jeg", "jigod", "jigăod", "bozgor", "doamne-fer",
	"dracu", "naib", "pul", "cur", "muist", "țigan", "handicapat", "bou",
	"boulean", "porc", "vacă", "gunoa", "măgar", "zdrențăros", "javr",
	// English
	"moron", "jerk", "jackass", "asshole", "shit", "fuck", "cunt", "retard",
	"bitch", "whore", "slut", "bastard",
}

// Filter flags messages that contain any of its stems.
type Filter struct {
	re *regexp.Regexp
}

// NewFilter compiles a filter for stems. An empty list uses DefaultStems.
func NewFilter(stems ...string) *Filter {
	if len(stems) == 0 {
		stems = DefaultStems
	}
	alts := make([]string, 0, len(stems))
	for _, s := range stems {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		alts = append(alts, regexp.QuoteMeta(s))
	}
	// \b in RE2 is ASCII-only, so word boundaries are spelled out with
	// Unicode letter classes to handle diacritics.
	pattern := `(?i)(?:^|[^\p{L}\p{N}_])((?:` + strings.Join(alts, "|") + `)[\p{L}\p{N}_]*)`
	return &Filter{re: regexp.MustCompile(pattern)}
}

// Check returns the first offending term in text and true, or "" and
// false when the text is clean.
func (f *Filter) Check(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	m := f.re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
