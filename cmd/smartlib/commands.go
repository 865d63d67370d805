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
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/smartlibrary/cmd/smartlib/config"
	"github.com/AleutianAI/smartlibrary/pkg/logging"
	"github.com/AleutianAI/smartlibrary/pkg/stream"
)

var (
	// Global flags
	configPath string
	apiURL     string
	logLevel   string
	jsonLogs   bool

	// chat / ask
	plainMode bool
	speakFlag bool

	// index / serve
	forceIndex bool
	servePort  int

	// cfg is loaded once per invocation by the root PersistentPreRunE.
	cfg config.SmartlibConfig

	rootCmd = &cobra.Command{
		Use:   "smartlib",
		Short: "Chat with the Smart Librarian and run its backend",
		Long: `smartlib talks to the librarian, a book recommendation service that
streams its answers, and can run that service locally.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Open an interactive chat with the librarian",
		Args:  cobra.NoArgs,
		RunE:  runChatCommand, // Defined in cmd_chat.go
	}

	askCmd = &cobra.Command{
		Use:   "ask [message...]",
		Short: "Ask the librarian a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAskCommand, // Defined in cmd_chat.go
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check whether the librarian backend is reachable",
		Args:  cobra.NoArgs,
		RunE:  runHealthCommand, // Defined in cmd_health.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the librarian backend",
		Args:  cobra.NoArgs,
		RunE:  runServeCommand, // Defined in cmd_serve.go
	}

	indexCmd = &cobra.Command{
		Use:   "index",
		Short: "Build or update the catalog embedding index",
		Args:  cobra.NoArgs,
		RunE:  runIndexCommand, // Defined in cmd_serve.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.smartlib/smartlib.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "",
		"librarian API base URL (overrides config and SMARTLIB_API_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false,
		"write console logs as JSON")

	chatCmd.Flags().BoolVar(&plainMode, "plain", false, "line mode even on a terminal")
	chatCmd.Flags().BoolVar(&speakFlag, "speak", false, "read each answer aloud")
	askCmd.Flags().BoolVar(&speakFlag, "speak", false, "read the answer aloud")

	indexCmd.Flags().BoolVar(&forceIndex, "force", false, "drop the index and re-embed every book")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config and SMARTLIB_PORT)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
}

// loadConfig reads the config file and applies the global flags.
func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, created, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if created {
		shown := configPath
		if shown == "" {
			shown, _ = config.DefaultPath()
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "First run detected, wrote a default config to %s\n", shown)
	}
	if apiURL != "" {
		loaded.Client.APIURL = apiURL
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}
	if jsonLogs {
		loaded.Logging.JSON = true
	}
	cfg = loaded
	return nil
}

// newLogger builds the command's logger. quiet silences the console, for
// the full-screen chat where stderr output would corrupt the display;
// records still reach the log directory.
func newLogger(out io.Writer, quiet bool) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	logCfg := logging.Config{
		Level:   level,
		Service: "smartlib",
		JSON:    cfg.Logging.JSON,
		Quiet:   quiet,
		Output:  out,
	}
	if quiet {
		logCfg.LogDir = cfg.Logging.Dir
	}
	return logging.New(logCfg), nil
}

// newStreamClient returns the librarian client for the configured URL.
func newStreamClient(logger *logging.Logger) *stream.Client {
	return stream.NewClient(stream.ClientConfig{
		BaseURL:       cfg.Client.APIURL,
		Logger:        logger,
		HealthTimeout: cfg.Client.HealthTimeout(),
	})
}

// closeLogger flushes l, reporting a failure on w.
func closeLogger(l *logging.Logger, w io.Writer) {
	if err := l.Close(); err != nil {
		fmt.Fprintf(w, "warning: closing logger: %v\n", err)
	}
}
