// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-desk/internal/turn"
	"github.com/jeranaias/rigrun-desk/internal/ui/styles"
)

type askOptions struct {
	raw         bool
	stats       bool
	temperature float64
}

func newAskCommand(app *App) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Send one message and print the reply",
		Long: `Send a single message and stream the reply to stdout.

The question is read from the arguments, or from stdin when no arguments
are given and stdin is not a terminal.`,
		Example: `  deskchat ask "What is a goroutine?"
  git diff | deskchat ask --raw`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			if question == "" && !IsTTY() {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				question = string(data)
			}
			if strings.TrimSpace(question) == "" {
				return &UsageError{
					Reason:  "no question given",
					Example: `deskchat ask "What is a goroutine?"`,
				}
			}

			var temperature *float64
			if cmd.Flags().Changed("temperature") {
				temperature = &opts.temperature
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.ask(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), question, temperature, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print the reply as it streams, without markdown rendering")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "print timing statistics after the reply")
	cmd.Flags().Float64Var(&opts.temperature, "temperature", 0, "sampling temperature")
	return cmd
}

// ask runs one turn. Fragments are written to out as they arrive unless the
// reply is rendered as markdown, in which case it is printed once complete.
func (a *App) ask(ctx context.Context, out, errOut io.Writer, question string, temperature *float64, opts *askOptions) error {
	markdown := !opts.raw && a.cfg.UI.RenderMarkdown && isTerminal(out)

	var extra []turn.Option
	if !markdown {
		extra = append(extra, turn.WithUpdateHook(func(u turn.Update) {
			fmt.Fprint(out, u.Chunk.Content)
		}))
	}

	st := a.newStore()
	res := a.orchestrator(st, a.client(), extra...).SendMessage(ctx, question, turn.SendOptions{
		Temperature: temperature,
	})

	if markdown && res.Content != "" {
		fmt.Fprint(out, a.renderMarkdown(res.Content, terminalWidth(out)))
	} else if res.Content != "" && !strings.HasSuffix(res.Content, "\n") {
		fmt.Fprintln(out)
	}

	if opts.stats && res.Started() {
		fmt.Fprintln(errOut, DimStyle.Render(res.Format()))
	}

	switch res.Status {
	case turn.StatusCompleted:
		return nil
	case turn.StatusTruncated:
		msg := "reply ended before the server finished"
		if res.Error != "" {
			return &TurnError{Result: res}
		}
		fmt.Fprintln(errOut, WarningStyle.Render("[!] "+msg))
		return nil
	default:
		return &TurnError{Result: res}
	}
}

// renderMarkdown renders text with glamour, falling back to the plain text.
func (a *App) renderMarkdown(text string, width int) string {
	theme := styles.NewTheme(a.cfg.UI.Theme)
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(theme.GlamourStyle()),
		glamour.WithWordWrap(width-2),
	)
	if err != nil {
		a.log.WithError(err).Debug("markdown renderer unavailable")
		return text + "\n"
	}
	rendered, err := r.Render(text)
	if err != nil {
		a.log.WithError(err).Debug("markdown render failed")
		return text + "\n"
	}
	return rendered
}
