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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/smartlibrary/pkg/ux"
)

var errBackendDown = errors.New("librarian backend is not reachable")

func runHealthCommand(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer closeLogger(logger, cmd.ErrOrStderr())

	client := newStreamClient(logger)
	if !client.Healthz(cmd.Context()) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s is down\n", ux.IconError.Render(), client.BaseURL())
		return fmt.Errorf("%w at %s", errBackendDown, client.BaseURL())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s is up\n", ux.IconSuccess.Render(), client.BaseURL())
	return nil
}
