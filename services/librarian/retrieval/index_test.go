// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/smartlibrary/pkg/logging"
	"github.com/AleutianAI/smartlibrary/services/librarian/catalog"
)

// =============================================================================
// Test Helpers
// =============================================================================

// keywordEmbedder maps text onto counts of a fixed vocabulary.
type keywordEmbedder struct {
	vocab []string

	mu     sync.Mutex
	calls  int
	inputs int
	fail   error
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.inputs += len(texts)
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		t = strings.ToLower(t)
		v := make([]float32, len(e.vocab))
		for j, w := range e.vocab {
			v[j] = float32(strings.Count(t, w))
		}
		out[i] = v
	}
	return out, nil
}

func newEmbedder() *keywordEmbedder {
	return &keywordEmbedder{vocab: []string{"dragon", "space", "love", "war"}}
}

func books() []catalog.Book {
	return []catalog.Book{
		{Title: "The Hobbit", Tags: []string{"fantasy"}, Summary: "A dragon guards treasure. Another dragon appears."},
		{Title: "Dune", Tags: []string{"sci-fi"}, Summary: "Politics and war in space."},
		{Title: "Pride and Prejudice", Tags: []string{"romance"}, Summary: "A story of love and manners."},
	}
}

func newIndex(t *testing.T, e Embedder, cfg IndexConfig) (*Index, *Store) {
	t.Helper()
	store, err := OpenInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return NewIndex(store, e, cfg), store
}

// =============================================================================
// Build
// =============================================================================

func TestBuild_AddsThenSkips(t *testing.T) {
	ctx := context.Background()
	e := newEmbedder()
	ix, store := newIndex(t, e, IndexConfig{BatchSize: 2, EmbeddingModel: "kw-1"})

	res, err := ix.Build(ctx, books(), false)
	require.NoError(t, err)
	assert.Equal(t, BuildResult{Added: 3}, res)
	assert.Equal(t, 2, e.calls, "three books in batches of two")

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err = ix.Build(ctx, books(), false)
	require.NoError(t, err)
	assert.Equal(t, BuildResult{Skipped: 3}, res)
	assert.Equal(t, 2, e.calls, "an up-to-date index makes no embedding calls")

	model, err := store.EmbeddingModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kw-1", model)
}

func TestBuild_IncrementalAddAndRemove(t *testing.T) {
	ctx := context.Background()
	e := newEmbedder()
	ix, _ := newIndex(t, e, IndexConfig{})

	_, err := ix.Build(ctx, books()[:2], false)
	require.NoError(t, err)

	res, err := ix.Build(ctx, books()[1:], false)
	require.NoError(t, err)
	assert.Equal(t, BuildResult{Added: 1, Skipped: 1, Removed: 1}, res)

	n, err := ix.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBuild_ForceAndModelChangeRebuild(t *testing.T) {
	ctx := context.Background()
	e := newEmbedder()
	ix, store := newIndex(t, e, IndexConfig{EmbeddingModel: "kw-1"})

	_, err := ix.Build(ctx, books(), false)
	require.NoError(t, err)

	res, err := ix.Build(ctx, books(), true)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added)

	changed := NewIndex(store, e, IndexConfig{EmbeddingModel: "kw-2", Logger: logging.Discard()})
	res, err = changed.Build(ctx, books(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added)
	assert.Equal(t, 0, res.Skipped)
}

func TestBuild_EmbedFailure(t *testing.T) {
	e := newEmbedder()
	e.fail = errors.New("quota exceeded")
	ix, _ := newIndex(t, e, IndexConfig{})

	res, err := ix.Build(context.Background(), books(), false)
	assert.ErrorContains(t, err, "quota exceeded")
	assert.Equal(t, 0, res.Added)
}

func TestBuild_DuplicateAndUntitledBooksIgnored(t *testing.T) {
	e := newEmbedder()
	ix, _ := newIndex(t, e, IndexConfig{})
	in := append(books(), catalog.Book{Title: "dune", Summary: "dup"}, catalog.Book{Title: "", Summary: "none"})

	res, err := ix.Build(context.Background(), in, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added)
}

// =============================================================================
// Query
// =============================================================================

func TestQuery_RanksByCosine(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t, newEmbedder(), IndexConfig{})
	_, err := ix.Build(ctx, books(), false)
	require.NoError(t, err)

	hits, err := ix.Query(ctx, "a book about a dragon", 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "The Hobbit", hits[0].Book.Title)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.InDelta(t, 0.0, hits[0].Distance(), 1e-9)

	hits, err = ix.Query(ctx, "love and war", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, []string{"Dune", "Pride and Prejudice"}, hits[0].Book.Title)
}

func TestQuery_EdgeCases(t *testing.T) {
	ctx := context.Background()
	e := newEmbedder()
	ix, _ := newIndex(t, e, IndexConfig{})

	hits, err := ix.Query(ctx, "   ", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = ix.Query(ctx, "dragon", 3)
	require.NoError(t, err)
	assert.Empty(t, hits, "empty index")
	assert.Equal(t, 0, e.calls)

	_, err = ix.Build(ctx, books(), false)
	require.NoError(t, err)
	hits, err = ix.Query(ctx, "dragon", 0)
	require.NoError(t, err)
	assert.Len(t, hits, 1, "k below one is treated as one")

	e.fail = errors.New("offline")
	_, err = ix.Query(ctx, "dragon", 3)
	assert.ErrorContains(t, err, "offline")
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 1}))
}

func TestNewIndex_PanicsOnNil(t *testing.T) {
	store, err := OpenInMemoryStore()
	require.NoError(t, err)
	defer store.Close()
	assert.Panics(t, func() { NewIndex(nil, newEmbedder(), IndexConfig{}) })
	assert.Panics(t, func() { NewIndex(store, nil, IndexConfig{}) })
}

func TestOpenStore_RequiresPath(t *testing.T) {
	_, err := OpenStore(StoreConfig{})
	assert.Error(t, err)
}

func TestStore_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenStore(StoreConfig{Path: dir, Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, []Record{{Book: books()[0], Vector: []float32{1, 0}}}))
	require.NoError(t, s.Close())

	s, err = OpenStore(StoreConfig{Path: dir, Logger: logging.Discard()})
	require.NoError(t, err)
	defer s.Close()
	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "The Hobbit", all[0].Book.Title)
	assert.Equal(t, []float32{1, 0}, all[0].Vector)
}
