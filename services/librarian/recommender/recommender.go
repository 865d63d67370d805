// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recommender turns a reader's request into one book
// recommendation: retrieve candidates, let the model pick a title, then
// stream the model's pitch for it.
package recommender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/smartlibrary/pkg/logging"
	"github.com/AleutianAI/smartlibrary/pkg/stream"
	"github.com/AleutianAI/smartlibrary/services/librarian/catalog"
	"github.com/AleutianAI/smartlibrary/services/librarian/llm"
	"github.com/AleutianAI/smartlibrary/services/librarian/retrieval"
	"github.com/AleutianAI/smartlibrary/services/librarian/telemetry"
)

const tracerName = "smartlib/librarian/recommender"

// Title sources recorded in metrics and logs.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
	SourceNone     = "none"
)

// ErrRetrieval wraps failures of the candidate search.
var ErrRetrieval = errors.New("retrieve candidates")

// Retriever finds candidate books. *retrieval.Index implements it.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]retrieval.Hit, error)
}

// Summaries looks up a book's full summary. *catalog.Catalog implements it.
type Summaries interface {
	SummaryByTitle(title string) (string, error)
}

// Option configures a Recommender.
type Option func(*Recommender)

// WithTopK sets how many candidates are retrieved. Default 3.
func WithTopK(k int) Option {
	return func(r *Recommender) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Recommender) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithInstruments records OpenTelemetry metrics.
func WithInstruments(i *telemetry.Instruments) Option {
	return func(r *Recommender) { r.instruments = i }
}

// Recommender runs the recommendation pipeline.
type Recommender struct {
	client      llm.Client
	retriever   Retriever
	summaries   Summaries
	topK        int
	logger      *logging.Logger
	instruments *telemetry.Instruments
}

// New creates a Recommender. It panics on nil dependencies.
func New(client llm.Client, retriever Retriever, summaries Summaries, opts ...Option) *Recommender {
	if client == nil {
		panic("recommender.New: client must not be nil")
	}
	if retriever == nil {
		panic("recommender.New: retriever must not be nil")
	}
	if summaries == nil {
		panic("recommender.New: summaries must not be nil")
	}
	r := &Recommender{
		client:    client,
		retriever: retriever,
		summaries: summaries,
		topK:      retrieval.DefaultTopK,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Model returns the chat model name.
func (r *Recommender) Model() string {
	return r.client.Model()
}

// Candidates retrieves the books closest to message.
func (r *Recommender) Candidates(ctx context.Context, message string) ([]retrieval.Hit, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Recommender.Candidates")
	defer span.End()

	hits, err := r.retriever.Query(ctx, message, r.topK)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	return hits, nil
}

// SelectTitle asks the model to pick one candidate title.
//
// # Description
//
// The model must answer {"title": "..."} naming one of the candidates.
// Any failure (API error, invalid JSON, a title not in the list) falls
// back to the first candidate, so a title is always returned when there
// are candidates.
//
// # Outputs
//
//   - string: The chosen title, "" when hits is empty.
//   - string: SourceModel, SourceFallback or SourceNone.
func (r *Recommender) SelectTitle(ctx context.Context, message string, hits []retrieval.Hit) (string, string) {
	titles := make([]string, 0, len(hits))
	for _, h := range hits {
		if t := strings.TrimSpace(h.Book.Title); t != "" {
			titles = append(titles, t)
		}
	}
	if len(titles) == 0 {
		return "", SourceNone
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "Recommender.SelectTitle")
	defer span.End()

	began := time.Now()
	temp := float32(0)
	out, err := r.client.Generate(ctx, []llm.Message{
		llm.System(selectTitleSystemPrompt),
		llm.User(selectTitlePrompt(message, titles)),
	}, llm.GenerationParams{Temperature: &temp, JSON: true})
	r.instruments.RecordLLM(ctx, "select_title", time.Since(began).Seconds())
	if err != nil {
		telemetry.RecordError(span, err)
		r.logger.Warn("title selection failed, using first candidate", "error", err)
		return titles[0], SourceFallback
	}

	chosen, ok := matchTitle(out, titles)
	if !ok {
		r.logger.Warn("model picked no valid candidate, using first candidate", "answer", truncate(out, 120))
		return titles[0], SourceFallback
	}
	return chosen, SourceModel
}

// matchTitle parses {"title": ...} and maps it onto a candidate,
// ignoring case and surrounding space.
func matchTitle(answer string, titles []string) (string, bool) {
	answer = strings.TrimSpace(answer)
	answer = strings.TrimPrefix(answer, "```json")
	answer = strings.Trim(answer, "`\n ")

	var parsed struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(answer), &parsed); err != nil {
		return "", false
	}
	want := strings.TrimSpace(parsed.Title)
	for _, t := range titles {
		if strings.EqualFold(t, want) {
			return t, true
		}
	}
	return "", false
}

// Recommend runs the whole pipeline for one request.
//
// # Description
//
// Retrieves candidates, selects a title, looks up its full summary, then
// streams the model's recommendation through onToken. The returned
// payload is the final frame: the chosen title, the summary and the
// candidate titles.
//
// # Inputs
//
//   - onToken: Called with each text delta. Returning an error stops the
//     stream and Recommend returns that error.
//
// # Outputs
//
//   - stream.FinalPayload: Valid only when error is nil.
//   - error: Retrieval, model or onToken failure.
func (r *Recommender) Recommend(ctx context.Context, message string, onToken func(string) error) (stream.FinalPayload, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Recommender.Recommend")
	defer span.End()

	hits, err := r.Candidates(ctx, message)
	if err != nil {
		return stream.FinalPayload{}, err
	}

	title, source := r.SelectTitle(ctx, message, hits)

	var summary string
	if title != "" {
		summary, err = r.summaries.SummaryByTitle(title)
		if errors.Is(err, catalog.ErrNotFound) {
			r.logger.Warn("chosen title missing from catalog", "title", title)
			summary = ""
		} else if err != nil {
			return stream.FinalPayload{}, fmt.Errorf("look up summary: %w", err)
		}
	}

	began := time.Now()
	err = r.client.Stream(ctx, []llm.Message{
		llm.System(recommendSystemPrompt),
		llm.User(recommendPrompt(message, title, summary, hits)),
	}, llm.GenerationParams{}, onToken)
	r.instruments.RecordLLM(ctx, "stream", time.Since(began).Seconds())
	if err != nil {
		telemetry.RecordError(span, err)
		return stream.FinalPayload{}, fmt.Errorf("stream recommendation: %w", err)
	}

	r.instruments.RecordRecommendation(ctx, source)
	r.logger.Info("recommendation streamed", "title", title, "title_source", source, "candidates", len(hits))

	payload := stream.FinalPayload{Final: true, Summary: summary}
	if title != "" {
		payload.Recommendation = &stream.Recommendation{Title: title}
	}
	if len(hits) > 0 {
		titles := make([]string, len(hits))
		for i, h := range hits {
			titles[i] = h.Book.Title
		}
		if raw, err := json.Marshal(titles); err == nil {
			payload.Extra = map[string]json.RawMessage{"candidates": raw}
		}
	}
	return payload, nil
}

// truncate shortens s to n runes for logging, marking the cut.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return truncateRunes(s, n) + "..."
}
