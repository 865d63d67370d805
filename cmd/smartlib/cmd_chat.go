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
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/smartlibrary/pkg/ux"
	"github.com/AleutianAI/smartlibrary/pkg/ux/chatui"
)

// useFullScreen reports whether the bubbletea UI can own the terminal.
func useFullScreen() bool {
	if plainMode || cfg.UI.Plain {
		return false
	}
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

func isStyledOutput() bool {
	return !ux.NoColor() && isatty.IsTerminal(os.Stdout.Fd())
}

func runChatCommand(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fullScreen := useFullScreen()
	logger, err := newLogger(cmd.ErrOrStderr(), fullScreen)
	if err != nil {
		return err
	}
	defer closeLogger(logger, cmd.ErrOrStderr())

	client := newStreamClient(logger)
	speaker := ux.NewSpeaker(cfg.UI.SpeechEngine)
	autoSpeak := cfg.UI.AutoSpeak || speakFlag

	if fullScreen {
		logger.Debug("starting full-screen chat", "api_url", client.BaseURL())
		return chatui.Run(ctx, chatui.Options{
			Streamer:  client,
			Health:    client,
			Speaker:   speaker,
			AutoSpeak: autoSpeak,
			Logger:    logger,
		})
	}

	runner := newLineRunner(lineRunnerConfig{
		Streamer:  client,
		Health:    client,
		Speaker:   speaker,
		AutoSpeak: autoSpeak,
		Input:     newLineReader(cmd.InOrStdin()),
		Output:    cmd.OutOrStdout(),
		Status:    cmd.ErrOrStderr(),
		Styled:    isStyledOutput(),
		Logger:    logger,
	})
	return runner.Run(ctx)
}

func runAskCommand(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer closeLogger(logger, cmd.ErrOrStderr())

	client := newStreamClient(logger)
	runner := newLineRunner(lineRunnerConfig{
		Streamer:  client,
		Health:    client,
		Speaker:   ux.NewSpeaker(cfg.UI.SpeechEngine),
		AutoSpeak: cfg.UI.AutoSpeak || speakFlag,
		Output:    cmd.OutOrStdout(),
		Status:    cmd.ErrOrStderr(),
		Styled:    isStyledOutput(),
		Logger:    logger,
	})
	return ask(ctx, runner, strings.Join(args, " "))
}

// ask sends one message. Cancellation by the user is not a failure.
func ask(ctx context.Context, runner *lineRunner, message string) error {
	err := runner.Ask(ctx, message)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
