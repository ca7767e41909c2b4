// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-desk/internal/config"
	"github.com/jeranaias/rigrun-desk/internal/model"
	"github.com/jeranaias/rigrun-desk/internal/store"
	"github.com/jeranaias/rigrun-desk/internal/transport"
	"github.com/jeranaias/rigrun-desk/internal/turn"
	"github.com/jeranaias/rigrun-desk/internal/util"
)

func newChatCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Line-based chat with history and slash commands",
		Long: `Start a line-based chat session. Replies stream to the terminal as
they arrive. Type /help for the available commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runChat(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

// server is the subset of the transport client the REPL commands use.
type server interface {
	Health(ctx context.Context) transport.HealthStatus
	ListModels(ctx context.Context) []transport.ModelInfo
}

// repl holds one chat session. Input handling lives in handle so it can be
// driven without a terminal.
type repl struct {
	store  *store.Store
	sender *turn.Orchestrator
	server server
	out    io.Writer
	model  string
}

func (a *App) newREPL(out io.Writer, tr turn.Transport, srv server) *repl {
	st := a.newStore()
	r := &repl{store: st, server: srv, out: out, model: a.cfg.Chat.DefaultModel}
	r.sender = a.orchestrator(st, tr, turn.WithUpdateHook(func(u turn.Update) {
		fmt.Fprint(out, u.Chunk.Content)
	}))
	return r
}

func (a *App) runChat(ctx context.Context, out io.Writer) error {
	client := a.client()
	r := a.newREPL(out, client, client)

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()

	historyFile := chatHistoryPath()
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer saveHistory(line, historyFile, a)

	fmt.Fprintln(out, TitleStyle.Render("deskchat")+" "+DimStyle.Render("/help for commands, /quit to exit"))

	for {
		input, err := line.Prompt("deskchat> ")
		if err != nil {
			// Ctrl+C at the prompt and Ctrl+D both end the session.
			fmt.Fprintln(out)
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if util.IsBlank(input) {
			continue
		}
		line.AppendHistory(input)

		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		quit, err := r.handle(turnCtx, input)
		stop()
		if err != nil {
			fmt.Fprintln(out, ErrorStyle.Render("[X] ")+err.Error())
		}
		if quit {
			return nil
		}
	}
}

func chatHistoryPath() string {
	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "chat_history")
}

func saveHistory(line *liner.State, path string, a *App) {
	var b strings.Builder
	if _, err := line.WriteHistory(&b); err != nil {
		return
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		a.log.WithError(err).Debug("could not save chat history")
	}
}

// handle processes one line of input. It reports whether the session should
// end. Errors are for the user and do not end the session.
func (r *repl) handle(ctx context.Context, input string) (bool, error) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return false, r.send(ctx, input)
	}

	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		r.help()
	case "/new":
		conv := r.store.Create()
		fmt.Fprintln(r.out, SuccessStyle.Render("[OK] ")+"started "+conv.Title)
	case "/list":
		r.list()
	case "/switch":
		conv, err := r.pick(arg)
		if err != nil {
			return false, err
		}
		r.store.Select(conv.ID)
		fmt.Fprintln(r.out, "switched to "+conv.Title)
	case "/delete":
		conv, err := r.pickOrActive(arg)
		if err != nil {
			return false, err
		}
		r.store.Delete(conv.ID)
		fmt.Fprintln(r.out, "deleted "+conv.Title)
	case "/rename":
		if arg == "" {
			return false, &UsageError{Reason: "missing title", Example: "/rename Go questions"}
		}
		active := r.store.Active()
		if active == nil {
			return false, errors.New("no active conversation")
		}
		r.store.Rename(active.ID, arg)
		fmt.Fprintln(r.out, "renamed to "+util.CollapseSpace(arg))
	case "/clear":
		if !r.store.Clear() {
			return false, errors.New("a reply is still streaming")
		}
		fmt.Fprintln(r.out, "cleared all conversations")
	case "/models":
		r.models(ctx)
	case "/health":
		h := r.server.Health(ctx)
		fmt.Fprintln(r.out, RenderStatus(h.Status)+" "+h.Status)
	default:
		return false, &UsageError{Reason: "unknown command " + name, Example: "/help"}
	}
	return false, nil
}

func (r *repl) send(ctx context.Context, text string) error {
	res := r.sender.SendMessage(ctx, text, turn.SendOptions{Model: r.model})
	if res.Content != "" && !strings.HasSuffix(res.Content, "\n") {
		fmt.Fprintln(r.out)
	}

	switch res.Status {
	case turn.StatusCompleted:
		return nil
	case turn.StatusTruncated:
		if res.Error != "" {
			return &TurnError{Result: res}
		}
		fmt.Fprintln(r.out, WarningStyle.Render("[!] reply ended before the server finished"))
		return nil
	case turn.StatusSkipped:
		return nil
	default:
		return &TurnError{Result: res}
	}
}

func (r *repl) help() {
	rows := [][2]string{
		{"/new", "start a new conversation"},
		{"/list", "list conversations"},
		{"/switch N", "switch to conversation N"},
		{"/delete [N]", "delete conversation N or the active one"},
		{"/rename TITLE", "rename the active conversation"},
		{"/clear", "delete every conversation"},
		{"/models", "list server models"},
		{"/health", "check the server"},
		{"/quit", "exit"},
	}
	for _, row := range rows {
		fmt.Fprintln(r.out, RenderLabel(row[0])+" "+row[1])
	}
}

func (r *repl) list() {
	convs := r.store.Conversations()
	if len(convs) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("no conversations"))
		return
	}
	activeID := r.store.ActiveID()
	for i, c := range convs {
		marker := "  "
		if c.ID == activeID {
			marker = "* "
		}
		fmt.Fprintf(r.out, "%s%d. %s %s\n", marker, i+1, c.Title,
			DimStyle.Render(fmt.Sprintf("(%d messages)", c.MessageCount())))
	}
}

func (r *repl) models(ctx context.Context) {
	models := r.server.ListModels(ctx)
	if len(models) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("no models reported"))
		return
	}
	for _, m := range models {
		fmt.Fprintf(r.out, "%s %s\n", m.Name, DimStyle.Render(m.SizeString()))
	}
}

// pick resolves a 1-based index from /list.
func (r *repl) pick(arg string) (*model.Conversation, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return nil, &UsageError{Reason: fmt.Sprintf("%q is not a conversation number", arg), Example: "/switch 2"}
	}
	convs := r.store.Conversations()
	if n < 1 || n > len(convs) {
		return nil, fmt.Errorf("no conversation %d", n)
	}
	return convs[n-1], nil
}

func (r *repl) pickOrActive(arg string) (*model.Conversation, error) {
	if arg != "" {
		return r.pick(arg)
	}
	active := r.store.Active()
	if active == nil {
		return nil, errors.New("no active conversation")
	}
	return active, nil
}
