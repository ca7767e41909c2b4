// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/rigrun-desk/internal/scroll"
	"github.com/jeranaias/rigrun-desk/internal/store"
	"github.com/jeranaias/rigrun-desk/internal/transport"
	"github.com/jeranaias/rigrun-desk/internal/turn"
	"github.com/jeranaias/rigrun-desk/internal/ui/styles"
	"github.com/jeranaias/rigrun-desk/internal/util"
)

// Sender runs one turn. *turn.Orchestrator implements it.
type Sender interface {
	SendMessage(ctx context.Context, text string, opts turn.SendOptions) turn.Result
}

// Server answers health and model queries. *transport.Client implements it.
type Server interface {
	Health(ctx context.Context) transport.HealthStatus
	ListModels(ctx context.Context) []transport.ModelInfo
}

// Options configures a Model.
type Options struct {
	Store  *store.Store
	Sender Sender
	Server Server // optional
	Theme  *styles.Theme

	// ModelName is shown in the header; empty means the server default.
	ModelName       string
	ScrollThreshold int
	RenderMarkdown  bool
	Logger          logrus.FieldLogger
}

const serverCheckTimeout = 5 * time.Second

// Model is the Bubble Tea model for the chat view.
type Model struct {
	ctx    context.Context
	theme  *styles.Theme
	store  *store.Store
	sender Sender
	server Server
	log    logrus.FieldLogger

	width  int
	height int

	// snap is the last snapshot rendered.
	snap store.Snapshot

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	keyMap   KeyMap
	scroll   scroll.Controller

	cancelMgr *cancelManager
	optimizer *viewportOptimizer
	markdown  *markdownRenderer

	modelName  string
	health     *transport.HealthStatus
	modelCount int
	lastResult *turn.Result
	statusMsg  string
	showHelp   bool
}

// New creates a chat model. Store and Sender are required.
func New(opts Options) Model {
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme(styles.ModeAuto)
	}
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	input := textinput.New()
	input.Placeholder = "Send a message..."
	input.Prompt = "> "
	input.PromptStyle = theme.InputPrompt
	input.CharLimit = 0
	input.Focus()

	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(theme.Spinner),
	)

	m := Model{
		ctx:       context.Background(),
		theme:     theme,
		store:     opts.Store,
		sender:    opts.Sender,
		server:    opts.Server,
		log:       log.WithField("component", "tui"),
		viewport:  viewport.New(0, 0),
		input:     input,
		spinner:   sp,
		keyMap:    DefaultKeyMap(),
		scroll:    scroll.New(opts.ScrollThreshold),
		cancelMgr: newCancelManager(),
		optimizer: newViewportOptimizer(),
		modelName: opts.ModelName,
	}
	if opts.RenderMarkdown {
		m.markdown = newMarkdownRenderer(theme.GlamourStyle(), m.log)
	}
	m.applySnapshot(opts.Store.Snapshot(), true)
	return m
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Init starts the cursor blink and the server checks.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.checkServer(), m.listModels())
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SnapshotMsg:
		m.applySnapshot(msg.Snapshot, false)
		return m, nil

	case TurnDoneMsg:
		return m.handleTurnDone(msg)

	case HealthMsg:
		status := msg.Status
		m.health = &status
		return m, nil

	case ModelsMsg:
		m.modelCount = len(msg.Models)
		return m, nil

	case spinner.TickMsg:
		if !m.streaming() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// MESSAGE HANDLERS
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(m.width, m.height)

	const (
		headerHeight    = 1
		inputAreaHeight = 2 // border + input line
		statusBarHeight = 1
	)
	vh := m.height - headerHeight - inputAreaHeight - statusBarHeight
	if vh < 1 {
		vh = 1
	}
	m.viewport.Width = m.transcriptWidth()
	m.viewport.Height = vh

	m.input.Width = m.width - 4 - len(m.input.Prompt)
	if m.input.Width < 10 {
		m.input.Width = 10
	}

	m.optimizer.forceUpdate()
	m.applySnapshot(m.snap, false)
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keyMap.Quit):
		m.cancelMgr.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keyMap.Cancel):
		if m.cancelMgr.cancel() {
			m.statusMsg = "cancelling..."
			return m, nil
		}
		if m.showHelp {
			m.showHelp = false
			return m, nil
		}
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	case key.Matches(msg, m.keyMap.Help):
		m.showHelp = !m.showHelp
		return m, nil

	case key.Matches(msg, m.keyMap.New):
		m.store.Create()
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keyMap.Delete):
		if id := m.snap.ActiveID; id != "" {
			m.store.Delete(id)
			m.refresh()
		}
		return m, nil

	case key.Matches(msg, m.keyMap.Next):
		m.cycle(1)
		return m, nil

	case key.Matches(msg, m.keyMap.Prev):
		m.cycle(-1)
		return m, nil

	case key.Matches(msg, m.keyMap.Up):
		m.viewport.LineUp(1)
		return m, nil

	case key.Matches(msg, m.keyMap.Down):
		m.viewport.LineDown(1)
		return m, nil

	case key.Matches(msg, m.keyMap.PageUp):
		m.viewport.ViewUp()
		return m, nil

	case key.Matches(msg, m.keyMap.PageDown):
		m.viewport.ViewDown()
		return m, nil

	case key.Matches(msg, m.keyMap.End):
		m.scroll.Follow(scroll.NewViewportRegion(&m.viewport), true)
		return m, nil

	case key.Matches(msg, m.keyMap.Submit):
		return m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit starts a turn with the input text. Blank input does nothing; a
// second send while one is running is refused and the text is kept.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if util.IsBlank(text) {
		return m, nil
	}
	if m.streaming() {
		m.statusMsg = "a reply is still streaming"
		return m, nil
	}

	m.input.Reset()
	m.statusMsg = ""
	m.lastResult = nil

	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelMgr.set(cancel)

	opts := turn.SendOptions{ConversationID: m.snap.ActiveID}
	return m, tea.Batch(sendCmd(ctx, m.sender, text, opts), m.spinner.Tick)
}

func (m Model) handleTurnDone(msg TurnDoneMsg) (tea.Model, tea.Cmd) {
	m.cancelMgr.cancel()
	res := msg.Result
	m.lastResult = &res
	m.statusMsg = ""
	m.log.WithFields(logrus.Fields{
		"status":       res.Status.String(),
		"conversation": res.ConversationID,
		"chunks":       res.Chunks,
	}).Debug("turn done")
	m.refresh()
	return m, nil
}

// =============================================================================
// STATE
// =============================================================================

// streaming reports whether this model started a turn that has not yet
// reported back, or the store has one in flight.
func (m *Model) streaming() bool {
	return m.cancelMgr.active() || m.snap.IsStreaming()
}

// refresh applies the store's current snapshot. Used after local mutations
// so the view does not wait for the pump.
func (m *Model) refresh() {
	m.applySnapshot(m.store.Snapshot(), false)
}

// applySnapshot renders s into the transcript viewport. Older snapshots are
// ignored. Switching conversations (or force) jumps to the bottom; otherwise
// the viewport follows growth only while the reader is near the bottom.
func (m *Model) applySnapshot(s store.Snapshot, force bool) {
	if s.Version < m.snap.Version {
		return
	}
	if s.ActiveID != m.snap.ActiveID {
		force = true
	}
	m.snap = s

	content := m.renderTranscript(s.Active())
	if !m.optimizer.shouldUpdate(content) && !force {
		return
	}

	region := scroll.NewViewportRegion(&m.viewport)
	if force {
		m.viewport.SetContent(content)
		m.scroll.ScrollToBottom(region)
		return
	}
	m.scroll.Track(region, func() { m.viewport.SetContent(content) })
}

// cycle selects the conversation delta positions away from the active one.
func (m *Model) cycle(delta int) {
	convs := m.snap.Conversations
	if len(convs) < 2 {
		return
	}
	idx := 0
	for i, c := range convs {
		if c.ID == m.snap.ActiveID {
			idx = i
			break
		}
	}
	next := (idx + delta + len(convs)) % len(convs)
	m.store.Select(convs[next].ID)
	m.refresh()
}

// =============================================================================
// COMMANDS
// =============================================================================

func sendCmd(ctx context.Context, s Sender, text string, opts turn.SendOptions) tea.Cmd {
	return func() tea.Msg {
		return TurnDoneMsg{Result: s.SendMessage(ctx, text, opts)}
	}
}

func (m Model) checkServer() tea.Cmd {
	if m.server == nil {
		return nil
	}
	ctx, srv := m.ctx, m.server
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, serverCheckTimeout)
		defer cancel()
		return HealthMsg{Status: srv.Health(ctx)}
	}
}

func (m Model) listModels() tea.Cmd {
	if m.server == nil {
		return nil
	}
	ctx, srv := m.ctx, m.server
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, serverCheckTimeout)
		defer cancel()
		return ModelsMsg{Models: srv.ListModels(ctx)}
	}
}

// =============================================================================
// PROGRAM
// =============================================================================

// Run starts the TUI and blocks until it exits. Store snapshots reach the
// model through a Pump; a turn still running at exit is cancelled.
func Run(ctx context.Context, m Model, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.ctx = ctx

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(m, opts...)

	pump := NewPump(p.Send, DefaultRedrawRate)
	unsubscribe := m.store.Subscribe(pump.Observe)
	defer unsubscribe()
	go pump.Run(ctx)

	_, err := p.Run()
	m.cancelMgr.cancel()

	total, skipped := m.optimizer.stats()
	m.log.WithFields(logrus.Fields{
		"renders":           total,
		"renders_skipped":   skipped,
		"snapshots_dropped": pump.Dropped(),
	}).Debug("tui exited")
	return err
}
