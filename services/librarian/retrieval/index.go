// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval finds the catalog books most similar to a request.
//
// Books are embedded once and persisted in BadgerDB; queries embed the
// request and rank the stored vectors by cosine similarity in memory.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/smartlibrary/pkg/logging"
	"github.com/AleutianAI/smartlibrary/services/librarian/catalog"
	"github.com/AleutianAI/smartlibrary/services/librarian/telemetry"
)

const (
	DefaultBatchSize   = 64
	DefaultConcurrency = 4
	DefaultTopK        = 3
)

// Embedder turns texts into vectors, one per text, in order.
// *llm.OpenAIClient implements it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Hit is one query result.
type Hit struct {
	Book catalog.Book
	// Score is the cosine similarity in [-1, 1]; higher is closer.
	Score float64
}

// Distance returns the cosine distance, 1 - Score.
func (h Hit) Distance() float64 {
	return 1 - h.Score
}

// BuildResult reports what Build did.
type BuildResult struct {
	Added   int
	Skipped int
	Removed int
}

// IndexConfig configures an Index.
type IndexConfig struct {
	BatchSize      int
	Concurrency    int
	EmbeddingModel string
	Logger         *logging.Logger
	Instruments    *telemetry.Instruments
}

// Index is the searchable embedding index over the catalog.
//
// # Thread Safety
//
// Safe for concurrent use. Build and Query may overlap; a Query sees the
// records from before or after a Build, never a mix.
type Index struct {
	store    *Store
	embedder Embedder
	cfg      IndexConfig
	logger   *logging.Logger

	buildMu sync.Mutex

	mu      sync.RWMutex
	records []Record
	loaded  bool
}

// NewIndex creates an Index. It panics if store or embedder is nil.
func NewIndex(store *Store, embedder Embedder, cfg IndexConfig) *Index {
	if store == nil {
		panic("retrieval.NewIndex: store must not be nil")
	}
	if embedder == nil {
		panic("retrieval.NewIndex: embedder must not be nil")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Index{store: store, embedder: embedder, cfg: cfg, logger: logger}
}

// Build brings the stored index in line with books.
//
// # Description
//
// Without force, only books missing from the store are embedded and
// books no longer in the catalog are removed, so an up-to-date index
// costs no API calls. With force, or when the stored vectors were built
// with a different embedding model, everything is dropped and rebuilt.
// Books are embedded in batches of BatchSize, Concurrency batches at a
// time.
//
// # Outputs
//
//   - BuildResult: Counts of added, skipped (already present) and removed
//     books.
//   - error: The first embedding or storage failure. Batches stored before
//     the failure stay stored.
func (ix *Index) Build(ctx context.Context, books []catalog.Book, force bool) (BuildResult, error) {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()

	var res BuildResult

	if !force && ix.cfg.EmbeddingModel != "" {
		stored, err := ix.store.EmbeddingModel(ctx)
		if err != nil {
			return res, fmt.Errorf("read index metadata: %w", err)
		}
		if stored != "" && stored != ix.cfg.EmbeddingModel {
			ix.logger.Warn("embedding model changed, rebuilding index", "stored", stored, "configured", ix.cfg.EmbeddingModel)
			force = true
		}
	}
	if force {
		if err := ix.store.Clear(ctx); err != nil {
			return res, fmt.Errorf("clear index: %w", err)
		}
	}

	existing, err := ix.store.All(ctx)
	if err != nil {
		return res, fmt.Errorf("read index: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, r := range existing {
		have[r.Book.ID()] = true
	}

	want := make(map[string]bool, len(books))
	var todo []catalog.Book
	for _, b := range books {
		id := b.ID()
		if id == "" || want[id] {
			continue
		}
		want[id] = true
		if have[id] {
			res.Skipped++
			continue
		}
		todo = append(todo, b)
	}

	var stale []string
	for id := range have {
		if !want[id] {
			stale = append(stale, id)
		}
	}
	if err := ix.store.Delete(ctx, stale); err != nil {
		return res, fmt.Errorf("remove stale books: %w", err)
	}
	res.Removed = len(stale)

	added, err := ix.embedAll(ctx, todo)
	res.Added = added
	ix.cfg.Instruments.RecordIndexed(ctx, added)
	if err != nil {
		ix.invalidate()
		return res, err
	}

	if ix.cfg.EmbeddingModel != "" {
		if err := ix.store.SetEmbeddingModel(ctx, ix.cfg.EmbeddingModel); err != nil {
			return res, fmt.Errorf("write index metadata: %w", err)
		}
	}

	ix.invalidate()
	ix.logger.Info("retrieval index built",
		"added", res.Added, "skipped", res.Skipped, "removed", res.Removed, "forced", force)
	return res, nil
}

// embedAll embeds and stores books batch by batch and returns how many
// were stored.
func (ix *Index) embedAll(ctx context.Context, books []catalog.Book) (int, error) {
	if len(books) == 0 {
		return 0, nil
	}

	var (
		mu    sync.Mutex
		added int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.Concurrency)

	for start := 0; start < len(books); start += ix.cfg.BatchSize {
		batch := books[start:min(start+ix.cfg.BatchSize, len(books))]
		g.Go(func() error {
			docs := make([]string, len(batch))
			for i, b := range batch {
				docs[i] = b.Document()
			}
			began := time.Now()
			vecs, err := ix.embedder.Embed(gctx, docs)
			if err != nil {
				return fmt.Errorf("embed batch of %d: %w", len(batch), err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d documents", len(vecs), len(batch))
			}
			records := make([]Record, len(batch))
			for i, b := range batch {
				records[i] = Record{Book: b, Vector: vecs[i]}
			}
			if err := ix.store.Put(gctx, records); err != nil {
				return err
			}
			ix.logger.Debug("embedded batch", "size", len(batch), "duration_ms", time.Since(began).Milliseconds())

			mu.Lock()
			added += len(batch)
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	return added, err
}

func (ix *Index) invalidate() {
	ix.mu.Lock()
	ix.records = nil
	ix.loaded = false
	ix.mu.Unlock()
}

func (ix *Index) snapshot(ctx context.Context) ([]Record, error) {
	ix.mu.RLock()
	if ix.loaded {
		recs := ix.records
		ix.mu.RUnlock()
		return recs, nil
	}
	ix.mu.RUnlock()

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.loaded {
		return ix.records, nil
	}
	recs, err := ix.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	ix.records = recs
	ix.loaded = true
	return recs, nil
}

// Len returns the number of indexed books.
func (ix *Index) Len(ctx context.Context) (int, error) {
	recs, err := ix.snapshot(ctx)
	return len(recs), err
}

// Query returns up to k books most similar to text, best first.
//
// # Outputs
//
//   - []Hit: Empty for blank text or an empty index.
//   - error: Embedding or storage failure.
func (ix *Index) Query(ctx context.Context, text string, k int) ([]Hit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if k < 1 {
		k = 1
	}

	recs, err := ix.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}

	vecs, err := ix.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 query", len(vecs))
	}

	hits := make([]Hit, 0, len(recs))
	for _, r := range recs {
		hits = append(hits, Hit{Book: r.Book, Score: Cosine(vecs[0], r.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
