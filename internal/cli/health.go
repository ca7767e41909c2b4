// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-desk/internal/transport"
)

// errUnhealthy is returned when the health probe fails.
var errUnhealthy = errors.New("server is not healthy")

func newHealthCommand(app *App) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the server is reachable and healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status := app.client().Health(cmd.Context())
			return printHealth(cmd.OutOrStdout(), app.cfg.API.BaseURL, status, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printHealth(out io.Writer, baseURL string, status transport.HealthStatus, asJSON bool) error {
	if asJSON {
		if err := json.NewEncoder(out).Encode(status); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, RenderLabel("Server")+ValueStyle.Render(baseURL))
		fmt.Fprintln(out, RenderLabel("Status")+RenderStatus(status.Status)+" "+status.Status)
	}
	if !status.Healthy() {
		return &ExitError{Code: ExitNetworkError, Err: errUnhealthy}
	}
	return nil
}
