// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/smartlibrary/pkg/logging"
	"github.com/AleutianAI/smartlibrary/services/librarian"
	"github.com/AleutianAI/smartlibrary/services/librarian/llm"
	"github.com/AleutianAI/smartlibrary/services/librarian/telemetry"
)

// serviceConfig maps the server section onto the librarian's Config.
func serviceConfig(logger *logging.Logger) librarian.Config {
	sc := librarian.DefaultConfig()
	port := cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}
	sc.Addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(port))
	if cfg.Telemetry.ServiceName != "" {
		sc.ServiceName = cfg.Telemetry.ServiceName
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		sc.CORSOrigins = cfg.Server.CORSOrigins
	}
	sc.RateLimitPerMinute = cfg.Server.RateLimitPerMinute
	sc.WatchCatalog = cfg.Server.WatchCatalog
	sc.Heartbeat = time.Duration(cfg.Server.HeartbeatSeconds) * time.Second
	if cfg.Retrieval.TopK > 0 {
		sc.TopK = cfg.Retrieval.TopK
	}
	sc.Logger = logger
	return sc
}

func serviceSetup(logger *logging.Logger) librarian.Setup {
	return librarian.Setup{
		CatalogPath: cfg.Retrieval.CatalogPath,
		IndexDir:    cfg.Retrieval.IndexDir,
		LLM: llm.Config{
			APIKey:         cfg.LLM.APIKey,
			Model:          cfg.LLM.Model,
			EmbeddingModel: cfg.LLM.EmbeddingModel,
			BaseURL:        cfg.LLM.BaseURL,
			SecretPath:     cfg.LLM.SecretPath,
		},
		EmbedBatchSize:   cfg.Retrieval.BatchSize,
		EmbedConcurrency: cfg.Retrieval.Concurrency,
		Logger:           logger,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer closeLogger(logger, cmd.ErrOrStderr())

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	svc, closeStore, err := librarian.OpenAndSync(ctx, serviceConfig(logger), serviceSetup(logger), false)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close vector store", "error", err)
		}
	}()

	return svc.Run(ctx)
}

func runIndexCommand(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer closeLogger(logger, cmd.ErrOrStderr())

	svc, closeStore, err := librarian.Open(serviceConfig(logger), serviceSetup(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close vector store", "error", err)
		}
	}()

	res, err := svc.SyncIndex(ctx, forceIndex)
	if err != nil {
		return fmt.Errorf("sync index: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "index updated: %d added, %d unchanged, %d removed\n",
		res.Added, res.Skipped, res.Removed)
	return nil
}
