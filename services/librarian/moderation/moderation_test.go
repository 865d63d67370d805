// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_Check(t *testing.T) {
	f := NewFilter()

	tests := []struct {
		name    string
		text    string
		term    string
		flagged bool
	}{
		{"clean request", "I want a fantasy book about friendship", "", false},
		{"empty", "   ", "", false},
		{"english stem with suffix", "you are a MORONIC librarian", "MORONIC", true},
		{"romanian with diacritics", "ești un măgarule", "măgarule", true},
		{"hyphenated stem", "doamne-ferește ce carte", "doamne-ferește", true},
		{"hyphenated stem needs the hyphen", "doamne fereste", "", false},
		{"stem inside a word is ignored", "a scrupulous reader", "", false},
		{"romanian stem at start", "Prostule, dă-mi o carte", "Prostule", true},
		{"stem inside a romanian word", "secură", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term, flagged := f.Check(tt.text)
			assert.Equal(t, tt.flagged, flagged)
			assert.Equal(t, tt.term, term)
		})
	}
}

func TestNewFilter_CustomStems(t *testing.T) {
	f := NewFilter("spoiler", " ")
	term, ok := f.Check("no Spoilers please")
	assert.True(t, ok)
	assert.Equal(t, "Spoilers", term)

	_, ok = f.Check("you idiot")
	assert.False(t, ok)
}
