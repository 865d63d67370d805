// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/smartlibrary/pkg/logging"
	"github.com/AleutianAI/smartlibrary/services/librarian/middleware"
)

// DefaultPath returns ~/.smartlib/smartlib.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".smartlib", "smartlib.yaml"), nil
}

// Load reads the configuration.
//
// # Description
//
// An empty path means DefaultPath. If the file does not exist it is
// created with DefaultConfig. Values missing from the file keep their
// defaults. Environment variables are applied last, then "~" in paths is
// expanded.
//
// # Outputs
//
//   - SmartlibConfig: The merged configuration.
//   - bool: true when the file was created by this call.
//   - error: Unreadable or invalid file, or an invalid env override.
func Load(path string) (SmartlibConfig, bool, error) {
	cfg := DefaultConfig()
	created := false

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return cfg, false, err
		}
		path = p
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return cfg, false, err
		}
		created = true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, created, fmt.Errorf("failed to read the config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, created, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}

	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return cfg, created, err
	}
	cfg.Retrieval.IndexDir = logging.ExpandPath(cfg.Retrieval.IndexDir)
	cfg.Retrieval.CatalogPath = logging.ExpandPath(cfg.Retrieval.CatalogPath)
	cfg.Logging.Dir = logging.ExpandPath(cfg.Logging.Dir)
	return cfg, created, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides cfg from environment variables read through getenv.
//
// Recognized variables: SMARTLIB_API_URL, OPENAI_API_KEY, OPENAI_MODEL,
// EMBEDDING_MODEL, SMARTLIB_INDEX_DIR, SMARTLIB_CATALOG, CORS_ORIGINS and
// SMARTLIB_PORT. Blank values are ignored.
func ApplyEnv(cfg *SmartlibConfig, getenv func(string) string) error {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set("SMARTLIB_API_URL", &cfg.Client.APIURL)
	set("OPENAI_API_KEY", &cfg.LLM.APIKey)
	set("OPENAI_MODEL", &cfg.LLM.Model)
	set("EMBEDDING_MODEL", &cfg.LLM.EmbeddingModel)
	set("SMARTLIB_INDEX_DIR", &cfg.Retrieval.IndexDir)
	set("SMARTLIB_CATALOG", &cfg.Retrieval.CatalogPath)

	if v := getenv("CORS_ORIGINS"); strings.TrimSpace(v) != "" {
		cfg.Server.CORSOrigins = middleware.ParseOrigins(v)
	}
	if v := strings.TrimSpace(getenv("SMARTLIB_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid SMARTLIB_PORT %q", v)
		}
		cfg.Server.Port = port
	}
	return nil
}
