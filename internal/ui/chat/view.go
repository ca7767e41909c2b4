// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-desk/internal/turn"
	"github.com/jeranaias/rigrun-desk/internal/ui/styles"
	"github.com/jeranaias/rigrun-desk/internal/util"
)

// View renders the chat view.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	body := m.viewport.View()
	if m.showHelp {
		body = m.renderHelp()
	}
	if sw := m.theme.SidebarWidth(); sw > 0 {
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(sw), body)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		body,
		m.theme.InputContainer.Width(m.width).Render(m.input.View()),
		m.renderStatusBar(),
	)
}

// =============================================================================
// HEADER
// =============================================================================

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("deskchat")

	modelName := m.modelName
	if modelName == "" {
		modelName = "server default"
	}
	parts := []string{"model: " + modelName}
	if m.modelCount > 0 {
		parts = append(parts, fmt.Sprintf("%d models", m.modelCount))
	}
	if conv := m.snap.Active(); conv != nil {
		parts = append(parts, conv.Title)
	}
	sub := m.theme.HeaderSubtitle.Render(strings.Join(parts, " | "))

	server := m.renderServer()
	left := title + "  " + sub
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(server) - 2
	if gap < 1 {
		gap = 1
	}
	return m.theme.Header.Width(m.width).Render(left + strings.Repeat(" ", gap) + server)
}

func (m Model) renderServer() string {
	switch {
	case m.health == nil:
		return m.theme.Muted.Render(styles.StatusIndicators.Pending + " server")
	case m.health.Healthy():
		return m.theme.SuccessStyle.Render(styles.StatusIndicators.Success + " server")
	default:
		return m.theme.ErrorStyle.Render(styles.StatusIndicators.Error + " server " + m.health.Status)
	}
}

// =============================================================================
// SIDEBAR
// =============================================================================

func (m Model) renderSidebar(width int) string {
	// The sidebar pads one column on the right; items pad one on each side.
	itemWidth := width - 1
	inner := itemWidth - 2
	lines := make([]string, 0, len(m.snap.Conversations)+1)
	for _, c := range m.snap.Conversations {
		prefix := "  "
		if m.snap.IsStreaming() && m.snap.Turn.ConversationID == c.ID {
			prefix = "* "
		}
		title := util.TruncateWidth(prefix+c.Title, inner)

		style := m.theme.SidebarItem
		if c.ID == m.snap.ActiveID {
			style = m.theme.SidebarItemSelected
		}
		lines = append(lines, style.Width(itemWidth).Render(title))
	}
	if len(lines) == 0 {
		lines = append(lines, m.theme.SidebarMeta.Render("no conversations"))
	}

	return m.theme.Sidebar.
		Width(width).
		Height(m.viewport.Height).
		MaxHeight(m.viewport.Height).
		Render(strings.Join(lines, "\n"))
}

// =============================================================================
// STATUS BAR
// =============================================================================

func (m Model) renderStatusBar() string {
	left := m.statusLine()

	var hints []string
	for _, b := range m.keyMap.ShortHelp() {
		h := b.Help()
		hints = append(hints, m.theme.ShortcutKey.Render(h.Key)+" "+m.theme.ShortcutDesc.Render(h.Desc))
	}
	right := strings.Join(hints, "  ")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		// Not enough room for both; the status wins.
		return m.theme.StatusBar.Width(m.width).Render(left)
	}
	return m.theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) statusLine() string {
	if m.streaming() {
		elapsed := ""
		if started := m.snap.Turn.StartedAt; !started.IsZero() {
			elapsed = " " + time.Since(started).Truncate(100*time.Millisecond).String()
		}
		line := m.spinner.View() + " streaming" + elapsed
		if m.statusMsg != "" {
			line += " | " + m.statusMsg
		}
		return line
	}
	if m.statusMsg != "" {
		return m.theme.WarningStyle.Render(styles.StatusIndicators.Warning + " " + m.statusMsg)
	}
	if m.lastResult != nil {
		return m.renderResult(*m.lastResult)
	}
	if m.snap.Error != "" {
		return m.theme.ErrorStyle.Render(styles.StatusIndicators.Error + " " + m.snap.Error)
	}
	return m.theme.StatsLabel.Render("ready")
}

func (m Model) renderResult(r turn.Result) string {
	stats := m.theme.StatsValue.Render(r.Format())
	switch r.Status {
	case turn.StatusCompleted:
		return m.theme.SuccessStyle.Render(styles.StatusIndicators.Success) + " " + stats
	case turn.StatusFailed:
		return m.theme.ErrorStyle.Render(styles.StatusIndicators.Error + " " + r.Error)
	case turn.StatusTruncated:
		msg := "reply ended early"
		if r.Error != "" {
			msg = r.Error
		}
		return m.theme.WarningStyle.Render(styles.StatusIndicators.Warning+" "+msg) + " " + stats
	case turn.StatusCancelled:
		return m.theme.WarningStyle.Render(styles.StatusIndicators.Warning+" "+r.Error) + " " + stats
	case turn.StatusBusy:
		return m.theme.WarningStyle.Render(styles.StatusIndicators.Warning + " a reply is still streaming")
	}
	return m.theme.StatsLabel.Render("ready")
}

// =============================================================================
// HELP
// =============================================================================

func (m Model) renderHelp() string {
	var b strings.Builder
	b.WriteString(m.theme.HeaderTitle.Render("Keys"))
	b.WriteString("\n\n")
	for _, group := range m.keyMap.FullHelp() {
		for _, binding := range group {
			h := binding.Help()
			fmt.Fprintf(&b, "  %s  %s\n",
				m.theme.ShortcutKey.Width(8).Render(h.Key),
				m.theme.ShortcutDesc.Render(h.Desc))
		}
		b.WriteString("\n")
	}
	return lipgloss.NewStyle().
		Width(m.viewport.Width).
		Height(m.viewport.Height).
		MaxHeight(m.viewport.Height).
		Render(b.String())
}
