// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm talks to the OpenAI API for chat completions and embeddings.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/smartlibrary/pkg/logging"
)

const (
	DefaultModel          = "gpt-4.1-nano"
	DefaultEmbeddingModel = "text-embedding-3-small"

	// DefaultSecretPath is read when no API key is configured.
	DefaultSecretPath = "/run/secrets/openai_api_key"
)

// ErrNoAPIKey is returned when neither config, environment nor the secret
// file provide an API key.
var ErrNoAPIKey = errors.New("OPENAI_API_KEY not set and no secret file found")

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// System and User build messages for the two roles the librarian uses.
func System(content string) Message { return Message{Role: openai.ChatMessageRoleSystem, Content: content} }
func User(content string) Message   { return Message{Role: openai.ChatMessageRoleUser, Content: content} }

// GenerationParams tunes a completion. Nil fields use the API default.
type GenerationParams struct {
	Temperature *float32
	MaxTokens   *int
	// JSON asks for a JSON object response.
	JSON bool
}

// Client is the chat surface the recommender needs.
type Client interface {
	Generate(ctx context.Context, messages []Message, params GenerationParams) (string, error)
	Stream(ctx context.Context, messages []Message, params GenerationParams, onDelta func(string) error) error
	Model() string
}

// Config configures an OpenAIClient.
type Config struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	// BaseURL overrides the API endpoint, e.g. for a proxy or tests.
	BaseURL    string
	SecretPath string
	Logger     *logging.Logger
}

// OpenAIClient implements Client and retrieval's Embedder.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	logger         *logging.Logger
}

// NewOpenAIClient creates a client.
//
// # Description
//
// The API key comes from cfg, then OPENAI_API_KEY, then the secret file.
// Empty models fall back to DefaultModel and DefaultEmbeddingModel.
//
// # Outputs
//
//   - error: ErrNoAPIKey when no key could be found.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if apiKey == "" {
		secretPath := cfg.SecretPath
		if secretPath == "" {
			secretPath = DefaultSecretPath
		}
		data, err := os.ReadFile(secretPath)
		if err != nil {
			logger.Error("OPENAI_API_KEY not set and secret not found", "path", secretPath)
			return nil, ErrNoAPIKey
		}
		apiKey = strings.TrimSpace(string(data))
		logger.Info("read the OpenAI API key from secret file", "path", secretPath)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}

	oc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	logger.Info("initializing OpenAI client", "model", model, "embedding_model", embeddingModel)
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(oc),
		model:          model,
		embeddingModel: embeddingModel,
		logger:         logger,
	}, nil
}

// Model returns the chat model name.
func (o *OpenAIClient) Model() string {
	return o.model
}

// EmbeddingModel returns the embedding model name.
func (o *OpenAIClient) EmbeddingModel() string {
	return o.embeddingModel
}

func (o *OpenAIClient) request(messages []Message, params GenerationParams, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   stream,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return req
}

// Generate returns one complete answer.
func (o *OpenAIClient) Generate(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	o.logger.Debug("generating text via OpenAI", "model", o.model)

	resp, err := o.client.CreateChatCompletion(ctx, o.request(messages, params, false))
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("OpenAI returned no choices")
	}
	o.logger.Debug("received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// Stream calls onDelta for every non-empty content delta, in order.
//
// # Outputs
//
//   - error: The API or stream error, or the first error onDelta returns.
//     The stream is closed on every path.
func (o *OpenAIClient) Stream(ctx context.Context, messages []Message, params GenerationParams, onDelta func(string) error) error {
	stream, err := o.client.CreateChatCompletionStream(ctx, o.request(messages, params, true))
	if err != nil {
		return fmt.Errorf("OpenAI stream failed to start: %w", err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			o.logger.Warn("failed to close OpenAI stream", "error", cerr)
		}
	}()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("OpenAI stream read: %w", err)
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := onDelta(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
}

// Embed returns one vector per input text, in input order.
func (o *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(o.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embeddings failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAI returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("OpenAI returned embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

var _ Client = (*OpenAIClient)(nil)
