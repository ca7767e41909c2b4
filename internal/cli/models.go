// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-desk/internal/transport"
	"github.com/jeranaias/rigrun-desk/internal/ui/styles"
)

func newModelsCommand(app *App) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models the server offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			models := app.client().ListModels(cmd.Context())
			return printModels(cmd.OutOrStdout(), models, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printModels(out io.Writer, models []transport.ModelInfo, asJSON bool) error {
	if asJSON {
		if models == nil {
			models = []transport.ModelInfo{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}

	if len(models) == 0 {
		fmt.Fprintln(out, DimStyle.Render("The server reported no models."))
		return nil
	}

	header := lipgloss.NewStyle().Bold(true).Foreground(styles.Cyan).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(styles.Overlay)).
		Headers("MODEL", "SIZE").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	for _, m := range models {
		t.Row(m.Name, m.SizeString())
	}
	fmt.Fprintln(out, t.String())
	return nil
}
