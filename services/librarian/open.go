// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package librarian

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/smartlibrary/pkg/logging"
	"github.com/AleutianAI/smartlibrary/services/librarian/catalog"
	"github.com/AleutianAI/smartlibrary/services/librarian/llm"
	"github.com/AleutianAI/smartlibrary/services/librarian/retrieval"
	"github.com/AleutianAI/smartlibrary/services/librarian/telemetry"
)

const meterName = "smartlib/librarian"

// Setup says where the service's data lives and how to reach the model.
type Setup struct {
	// CatalogPath is the book_summaries.json file.
	CatalogPath string

	// IndexDir holds the badger vector store. Empty keeps the index in
	// memory, which means re-embedding the catalog on every start.
	IndexDir string

	LLM llm.Config

	// EmbedBatchSize and EmbedConcurrency tune index builds.
	EmbedBatchSize   int
	EmbedConcurrency int

	Logger *logging.Logger
}

// Open builds a Service and its dependencies from setup.
//
// # Description
//
// Loads the catalog, opens the vector store, creates the OpenAI client
// and wires them together. The index is not synced; call SyncIndex.
//
// # Outputs
//
//   - *Service: Ready to Run.
//   - func() error: Releases the vector store. Always non-nil on success.
//   - error: Non-nil if any dependency could not be created.
func Open(cfg Config, setup Setup) (*Service, func() error, error) {
	logger := setup.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}

	cat, err := catalog.Load(setup.CatalogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load catalog: %w", err)
	}
	logger.Info("catalog loaded", "path", setup.CatalogPath, "books", cat.Len())

	llmCfg := setup.LLM
	if llmCfg.Logger == nil {
		llmCfg.Logger = logger.With("component", "llm")
	}
	client, err := llm.NewOpenAIClient(llmCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm client: %w", err)
	}

	var store *retrieval.Store
	if setup.IndexDir == "" {
		store, err = retrieval.OpenInMemoryStore()
	} else {
		store, err = retrieval.OpenStore(retrieval.StoreConfig{
			Path:           setup.IndexDir,
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
			Logger:         logger.With("component", "store"),
		})
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open vector store: %w", err)
	}

	instruments, err := telemetry.NewInstruments(otel.Meter(meterName))
	if err != nil {
		logger.Warn("otel instruments unavailable", "error", err)
		instruments = nil
	}

	index := retrieval.NewIndex(store, client, retrieval.IndexConfig{
		BatchSize:      setup.EmbedBatchSize,
		Concurrency:    setup.EmbedConcurrency,
		EmbeddingModel: client.EmbeddingModel(),
		Logger:         logger.With("component", "index"),
		Instruments:    instruments,
	})

	svc, err := New(cfg, Deps{
		Catalog:     cat,
		Index:       index,
		Client:      client,
		Instruments: instruments,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return svc, store.Close, nil
}

// OpenAndSync is Open followed by an incremental SyncIndex.
func OpenAndSync(ctx context.Context, cfg Config, setup Setup, force bool) (*Service, func() error, error) {
	svc, closeFn, err := Open(cfg, setup)
	if err != nil {
		return nil, nil, err
	}
	if _, err := svc.SyncIndex(ctx, force); err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return svc, closeFn, nil
}
