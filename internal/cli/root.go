// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-desk/internal/config"
	"github.com/jeranaias/rigrun-desk/internal/logging"
	"github.com/jeranaias/rigrun-desk/internal/store"
	"github.com/jeranaias/rigrun-desk/internal/transport"
	"github.com/jeranaias/rigrun-desk/internal/turn"
	"github.com/jeranaias/rigrun-desk/internal/ui/chat"
	"github.com/jeranaias/rigrun-desk/internal/ui/styles"
)

// App holds state shared by every command: global flags, the loaded
// configuration and the logger.
type App struct {
	Version string
	Commit  string

	configPath string
	baseURL    string
	model      string
	logLevel   string
	verbose    bool

	cfg *config.Config
	log *logrus.Logger
}

// NewApp returns an App for the given build information.
func NewApp(version, commit string) *App {
	return &App{Version: version, Commit: commit}
}

// Execute runs the command line and returns the process exit code.
func Execute(version, commit string) int {
	defer func() { _ = logging.Close() }()

	root := NewRootCommand(NewApp(version, commit))
	err := root.ExecuteContext(context.Background())
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[ERROR]"), err)
	return ExitCodeFor(err)
}

// NewRootCommand builds the command tree. Running it without a subcommand
// starts the full-screen chat.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "deskchat",
		Short: "Chat with a streaming completion server",
		Long: `deskchat talks to a chat completion server that streams replies as
server-sent events. Without a subcommand it opens the full-screen chat.`,
		Version:           fmt.Sprintf("%s (commit: %s)", app.Version, app.Commit),
		SilenceUsage:      true,
		SilenceErrors:     true,
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return app.setup() },
		RunE:              app.runTUI,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVarP(&app.configPath, "config", "c", "", "config file (default ~/.deskchat/config.toml)")
	flags.StringVar(&app.baseURL, "base-url", "", "completion server base URL")
	flags.StringVarP(&app.model, "model", "m", "", "model to request")
	flags.StringVar(&app.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newAskCommand(app),
		newChatCommand(app),
		newModelsCommand(app),
		newHealthCommand(app),
		newConfigCommand(app),
	)
	return root
}

// setup loads the configuration, applies flag overrides and opens the log.
func (a *App) setup() error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if a.baseURL != "" {
		cfg.API.BaseURL = a.baseURL
	}
	if a.model != "" {
		cfg.Chat.DefaultModel = a.model
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.Init(cfg)
	if err != nil {
		// Chat still works without a log file.
		log = logging.Discard()
	}
	log.WithField("version", a.Version).Debug("deskchat starting")

	a.cfg, a.log = cfg, log
	config.SetGlobal(cfg)
	return nil
}

// client returns a transport client for the configured server.
func (a *App) client() *transport.Client {
	return transport.NewClientWithConfig(a.cfg.API.ClientConfig(a.log))
}

// newStore returns an empty conversation store.
func (a *App) newStore() *store.Store {
	return store.New(
		store.WithLogger(a.log),
		store.WithTitleMaxLength(a.cfg.Chat.TitleMaxLength),
	)
}

// orchestrator builds a turn orchestrator from the [chat] settings.
func (a *App) orchestrator(st *store.Store, tr turn.Transport, extra ...turn.Option) *turn.Orchestrator {
	opts := []turn.Option{
		turn.WithLogger(a.log),
		turn.WithDefaultModel(a.cfg.Chat.DefaultModel),
		turn.WithIdleTimeout(a.cfg.Chat.IdleTimeout.Std()),
	}
	if t := a.cfg.Chat.Temperature; t != nil {
		opts = append(opts, turn.WithTemperature(*t))
	}
	if a.cfg.Chat.StrictTruncation {
		opts = append(opts, turn.WithTruncationPolicy(turn.StrictTruncation))
	}
	return turn.New(st, tr, append(opts, extra...)...)
}

func (a *App) runTUI(cmd *cobra.Command, _ []string) error {
	if !IsTTY() || !IsStdoutTTY() {
		return &UsageError{
			Reason:  "the full-screen chat needs a terminal",
			Example: `deskchat ask "hello" or deskchat chat`,
		}
	}

	st := a.newStore()
	client := a.client()
	m := chat.New(chat.Options{
		Store:           st,
		Sender:          a.orchestrator(st, client),
		Server:          client,
		Theme:           styles.NewTheme(a.cfg.UI.Theme),
		ModelName:       a.cfg.Chat.DefaultModel,
		ScrollThreshold: a.cfg.UI.ScrollThreshold,
		RenderMarkdown:  a.cfg.UI.RenderMarkdown,
		Logger:          a.log,
	})
	return chat.Run(cmd.Context(), m)
}
