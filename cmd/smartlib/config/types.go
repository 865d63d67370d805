// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the smartlib YAML configuration.
package config

import (
	"time"

	"github.com/AleutianAI/smartlibrary/services/librarian/middleware"
	"github.com/AleutianAI/smartlibrary/services/librarian/telemetry"
)

// SmartlibConfig is the whole configuration file.
type SmartlibConfig struct {
	// Client: how the chat front-end reaches the librarian
	Client ClientConfig `yaml:"client"`

	// Server: the librarian backend started by `smartlib serve`
	Server ServerConfig `yaml:"server"`

	// LLM: OpenAI models. The API key is never written to the file.
	LLM LLMConfig `yaml:"llm"`

	// Retrieval: the catalog and its embedding index
	Retrieval RetrievalConfig `yaml:"retrieval"`

	Telemetry telemetry.Config `yaml:"telemetry"`

	UI UIConfig `yaml:"ui"`

	Logging LoggingConfig `yaml:"logging"`
}

type ClientConfig struct {
	APIURL               string `yaml:"api_url"`                // e.g. http://localhost:8000
	HealthTimeoutSeconds int    `yaml:"health_timeout_seconds"` // e.g. 5
}

// HealthTimeout returns the health probe timeout.
func (c ClientConfig) HealthTimeout() time.Duration {
	return time.Duration(c.HealthTimeoutSeconds) * time.Second
}

type ServerConfig struct {
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	CORSOrigins        []string `yaml:"cors_origins"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
	WatchCatalog       bool     `yaml:"watch_catalog"`
	HeartbeatSeconds   int      `yaml:"heartbeat_seconds"`
}

type LLMConfig struct {
	APIKey         string `yaml:"-"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
	BaseURL        string `yaml:"base_url,omitempty"`
	SecretPath     string `yaml:"secret_path,omitempty"`
}

type RetrievalConfig struct {
	CatalogPath string `yaml:"catalog_path"`
	// IndexDir holds the vector store. Empty keeps it in memory.
	IndexDir    string `yaml:"index_dir"`
	TopK        int    `yaml:"top_k"`
	BatchSize   int    `yaml:"batch_size"`
	Concurrency int    `yaml:"concurrency"`
}

type UIConfig struct {
	AutoSpeak bool `yaml:"auto_speak"`
	// SpeechEngine is "auto" or a program name such as "say" or "espeak".
	SpeechEngine string `yaml:"speech_engine"`
	// Plain forces line mode even on a terminal.
	Plain bool `yaml:"plain"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() SmartlibConfig {
	return SmartlibConfig{
		Client: ClientConfig{
			APIURL:               "http://localhost:8000",
			HealthTimeoutSeconds: 5,
		},
		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               8000,
			CORSOrigins:        append([]string(nil), middleware.DefaultCORSOrigins...),
			RateLimitPerMinute: 30,
			WatchCatalog:       true,
			HeartbeatSeconds:   15,
		},
		LLM: LLMConfig{
			Model:          "gpt-4.1-nano",
			EmbeddingModel: "text-embedding-3-small",
		},
		Retrieval: RetrievalConfig{
			CatalogPath: "data/book_summaries.json",
			IndexDir:    "~/.smartlib/index",
			TopK:        3,
			BatchSize:   64,
			Concurrency: 4,
		},
		Telemetry: telemetry.DefaultConfig(),
		UI: UIConfig{
			SpeechEngine: "auto",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.smartlib/logs",
		},
	}
}
