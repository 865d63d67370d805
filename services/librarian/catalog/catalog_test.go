// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/smartlibrary/pkg/logging"
)

func sampleBooks() []Book {
	return []Book{
		{Title: "The Hobbit", Authors: []string{"J.R.R. Tolkien"}, Tags: []string{"fantasy"}, Summary: "Bilbo goes there and back again."},
		{Title: "1984", Authors: []string{"George Orwell"}, Tags: []string{"dystopia"}, Summary: "Big Brother is watching."},
		{Title: "To Kill a Mockingbird", Authors: []string{"Harper Lee"}, Summary: "Justice in a small town."},
		{Title: "  ", Summary: "untitled entries are skipped"},
	}
}

func writeCatalog(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "book_summaries.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// =============================================================================
// Loading
// =============================================================================

func TestLoad(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), `[
		{"title": "Dune", "authors": ["Frank Herbert"], "tags": ["sci-fi"], "summary": "Spice."},
		{"title": "dune", "summary": "duplicate title is dropped"}
	]`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []string{"Dune"}, c.Titles())
	assert.Equal(t, path, c.Path())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := writeCatalog(t, t.TempDir(), `{"title": "not a list"}`)
	_, err = Load(path)
	assert.ErrorContains(t, err, "JSON list")
}

func TestReload_KeepsContentsOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, `[{"title": "Dune", "summary": "Spice."}]`)
	c, err := Load(path)
	require.NoError(t, err)

	writeCatalog(t, dir, `not json`)
	assert.Error(t, c.Reload())
	assert.Equal(t, []string{"Dune"}, c.Titles())
}

// =============================================================================
// Lookup
// =============================================================================

func TestLookup(t *testing.T) {
	c := New(sampleBooks())
	require.Equal(t, 3, c.Len())

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"exact case-insensitive", "  the HOBBIT ", "The Hobbit"},
		{"contains", "mockingbird", "To Kill a Mockingbird"},
		{"prefix", "to kill", "To Kill a Mockingbird"},
		{"fuzzy", "The Hobit", "The Hobbit"},
		{"fuzzy digits", "1948", "1984"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := c.Lookup(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Title)
		})
	}
}

func TestLookup_NotFound(t *testing.T) {
	c := New(sampleBooks())
	_, err := c.Lookup("Completely Unrelated Volume")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Lookup("   ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSummaryByTitle(t *testing.T) {
	c := New(sampleBooks())
	s, err := c.SummaryByTitle("1984")
	require.NoError(t, err)
	assert.Equal(t, "Big Brother is watching.", s)

	s, err = New([]Book{{Title: "Blank"}}).SummaryByTitle("blank")
	require.NoError(t, err)
	assert.Equal(t, `"Blank" has no summary available.`, s)
}

// =============================================================================
// Helpers
// =============================================================================

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("abc", "abc"), 1e-9)
	assert.InDelta(t, 0.0, Similarity("abc", "xyz"), 1e-9)
	assert.InDelta(t, 1.0, Similarity("", ""), 1e-9)
	// difflib: SequenceMatcher(None, "abcd", "bcde").ratio() == 0.75
	assert.InDelta(t, 0.75, Similarity("abcd", "bcde"), 1e-9)
	assert.InDelta(t, 18.0/19, Similarity("the hobit", "the hobbit"), 1e-9)
	assert.InDelta(t, 16.0/18, Similarity("pride & prejudice", "pride and prejudice"), 1e-9)
	assert.InDelta(t, 24.0/25, Similarity("ce mai carte", "cea mai carte"), 1e-9)
	assert.InDelta(t, 1.0, Similarity("doamne-ferește", "doamne-ferește"), 1e-9)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "the-hobbit", Slugify("The Hobbit"))
	assert.Equal(t, "to-kill-a-mockingbird", Slugify("  To Kill -- a Mockingbird! "))
	assert.Equal(t, "1984", Slugify("1984"))
}

func TestBook_Document(t *testing.T) {
	b := sampleBooks()[0]
	assert.Equal(t, "Title: The Hobbit\nAuthors: J.R.R. Tolkien\nTags: fantasy\nSummary: Bilbo goes there and back again.", b.Document())
	assert.Equal(t, "Title: X\nSummary: y", Book{Title: "X", Summary: "y"}.Document())
	assert.Equal(t, "the-hobbit", b.ID())
}

// =============================================================================
// Watch
// =============================================================================

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, `[{"title": "Dune", "summary": "Spice."}]`)
	c, err := Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan error, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, 20*time.Millisecond, func(_ *Catalog, err error) { reloaded <- err }, logging.Discard())
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeCatalog(t, dir, `[{"title": "Dune", "summary": "Spice."}, {"title": "Emma", "summary": "Matchmaking."}]`)

	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}
	assert.Equal(t, 2, c.Len())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatch_RequiresFile(t *testing.T) {
	err := New(nil).Watch(context.Background(), 0, nil, logging.Discard())
	assert.Error(t, err)
}
