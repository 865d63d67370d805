// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recommender

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/smartlibrary/pkg/logging"
	"github.com/AleutianAI/smartlibrary/services/librarian/catalog"
	"github.com/AleutianAI/smartlibrary/services/librarian/llm"
	"github.com/AleutianAI/smartlibrary/services/librarian/retrieval"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeLLM struct {
	answer    string
	answerErr error
	deltas    []string
	streamErr error

	generated []llm.Message
	streamed  []llm.Message
}

func (f *fakeLLM) Generate(_ context.Context, msgs []llm.Message, params llm.GenerationParams) (string, error) {
	f.generated = msgs
	if !params.JSON {
		return "", errors.New("title selection must ask for JSON")
	}
	return f.answer, f.answerErr
}

func (f *fakeLLM) Stream(_ context.Context, msgs []llm.Message, _ llm.GenerationParams, onDelta func(string) error) error {
	f.streamed = msgs
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return f.streamErr
}

func (f *fakeLLM) Model() string { return "fake-model" }

type fakeRetriever struct {
	hits []retrieval.Hit
	err  error
}

func (f fakeRetriever) Query(context.Context, string, int) ([]retrieval.Hit, error) {
	return f.hits, f.err
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Book{
		{Title: "Dune", Authors: []string{"Frank Herbert"}, Summary: "Spice and sand."},
		{Title: "The Hobbit", Authors: []string{"J.R.R. Tolkien"}, Summary: strings.Repeat("h", 500)},
	})
}

func hits(c *catalog.Catalog) []retrieval.Hit {
	var out []retrieval.Hit
	for i, b := range c.Books() {
		out = append(out, retrieval.Hit{Book: b, Score: 1 - float64(i)/10})
	}
	return out
}

func newRecommender(client llm.Client, ret Retriever) *Recommender {
	return New(client, ret, testCatalog(), WithLogger(logging.Discard()), WithTopK(2))
}

// =============================================================================
// SelectTitle
// =============================================================================

func TestSelectTitle(t *testing.T) {
	c := testCatalog()
	tests := []struct {
		name   string
		answer string
		err    error
		want   string
		source string
	}{
		{"model pick", `{"title":"The Hobbit"}`, nil, "The Hobbit", SourceModel},
		{"case-insensitive pick", ` {"title":" the hobbit "} `, nil, "The Hobbit", SourceModel},
		{"fenced json", "```json\n{\"title\":\"The Hobbit\"}\n```", nil, "The Hobbit", SourceModel},
		{"not a candidate", `{"title":"Emma"}`, nil, "Dune", SourceFallback},
		{"invalid json", `The Hobbit`, nil, "Dune", SourceFallback},
		{"api error", ``, errors.New("503"), "Dune", SourceFallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeLLM{answer: tt.answer, answerErr: tt.err}
			r := newRecommender(f, fakeRetriever{})
			title, source := r.SelectTitle(context.Background(), "adventure", hits(c))
			assert.Equal(t, tt.want, title)
			assert.Equal(t, tt.source, source)
		})
	}
}

func TestSelectTitle_NoCandidates(t *testing.T) {
	f := &fakeLLM{}
	r := newRecommender(f, fakeRetriever{})
	title, source := r.SelectTitle(context.Background(), "anything", nil)
	assert.Empty(t, title)
	assert.Equal(t, SourceNone, source)
	assert.Nil(t, f.generated, "no model call without candidates")
}

// =============================================================================
// Recommend
// =============================================================================

func TestRecommend_StreamsAndBuildsFinal(t *testing.T) {
	c := testCatalog()
	f := &fakeLLM{answer: `{"title":"Dune"}`, deltas: []string{"Read ", "Dune."}}
	r := newRecommender(f, fakeRetriever{hits: hits(c)})

	var got []string
	payload, err := r.Recommend(context.Background(), "desert politics", func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Read ", "Dune."}, got)

	assert.True(t, payload.Final)
	assert.Equal(t, "Dune", payload.Title())
	assert.Equal(t, "Spice and sand.", payload.Summary)
	var candidates []string
	require.NoError(t, json.Unmarshal(payload.Extra["candidates"], &candidates))
	assert.Equal(t, []string{"Dune", "The Hobbit"}, candidates)

	require.Len(t, f.streamed, 2)
	prompt := f.streamed[1].Content
	assert.Contains(t, prompt, "User request: desert politics")
	assert.Contains(t, prompt, "Chosen title: Dune")
	assert.Contains(t, prompt, "Spice and sand.")
	assert.Contains(t, prompt, "Short summary: "+strings.Repeat("h", 350)+"...")
	assert.NotContains(t, prompt, strings.Repeat("h", 351))
}

func TestRecommend_NoCandidates(t *testing.T) {
	f := &fakeLLM{deltas: []string{"Could you tell me more?"}}
	r := newRecommender(f, fakeRetriever{})

	payload, err := r.Recommend(context.Background(), "hmm", func(string) error { return nil })
	require.NoError(t, err)
	assert.Nil(t, payload.Recommendation)
	assert.Empty(t, payload.Summary)
	assert.Nil(t, payload.Extra)
	assert.Contains(t, f.streamed[1].Content, "Chosen title: N/A")
}

func TestRecommend_Errors(t *testing.T) {
	c := testCatalog()

	r := newRecommender(&fakeLLM{}, fakeRetriever{err: errors.New("index offline")})
	_, err := r.Recommend(context.Background(), "x", func(string) error { return nil })
	assert.ErrorIs(t, err, ErrRetrieval)

	r = newRecommender(&fakeLLM{answer: `{"title":"Dune"}`, streamErr: errors.New("reset")}, fakeRetriever{hits: hits(c)})
	_, err = r.Recommend(context.Background(), "x", func(string) error { return nil })
	assert.ErrorContains(t, err, "stream recommendation")

	stop := errors.New("client gone")
	r = newRecommender(&fakeLLM{answer: `{"title":"Dune"}`, deltas: []string{"a", "b"}}, fakeRetriever{hits: hits(c)})
	_, err = r.Recommend(context.Background(), "x", func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestRecommend_TitleMissingFromCatalog(t *testing.T) {
	ghost := []retrieval.Hit{{Book: catalog.Book{Title: "Ghost Book"}}}
	r := newRecommender(&fakeLLM{answer: `{"title":"Ghost Book"}`}, fakeRetriever{hits: ghost})

	payload, err := r.Recommend(context.Background(), "x", func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "Ghost Book", payload.Title())
	assert.Empty(t, payload.Summary)
}

func TestNew_PanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { New(nil, fakeRetriever{}, testCatalog()) })
	assert.Panics(t, func() { New(&fakeLLM{}, nil, testCatalog()) })
	assert.Panics(t, func() { New(&fakeLLM{}, fakeRetriever{}, nil) })
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ășț", truncate("ășț", 3))

	got := truncate(`{"title":"Război și pace"}`, 15)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, `{"title":"Războ...`, got)

	got = truncate(strings.Repeat("ț", 200), 120)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("ț", 120)+"...", got)
}
