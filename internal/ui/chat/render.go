// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/rigrun-desk/internal/model"
	"github.com/jeranaias/rigrun-desk/internal/ui/styles"
)

const (
	minTranscriptWidth = 20
	streamingCursor    = "▌"
)

// transcriptWidth is the viewport width left beside the sidebar.
func (m *Model) transcriptWidth() int {
	w := m.width
	if sw := m.theme.SidebarWidth(); sw > 0 {
		w -= sw + 2 // border + padding
	}
	if w < minTranscriptWidth {
		w = minTranscriptWidth
	}
	return w
}

// renderTranscript renders every message of conv.
func (m *Model) renderTranscript(conv *model.Conversation) string {
	if conv == nil || conv.IsEmpty() {
		return m.theme.Muted.Render("Type a message and press Enter.")
	}

	// Bubbles carry a left border and one column of padding.
	bodyWidth := m.viewport.Width - 2
	if bodyWidth < minTranscriptWidth {
		bodyWidth = minTranscriptWidth
	}

	parts := make([]string, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		parts = append(parts, m.renderMessage(msg, bodyWidth))
	}
	return strings.Join(parts, "\n\n")
}

func (m *Model) renderMessage(msg *model.Message, width int) string {
	var label, bubble lipgloss.Style
	switch msg.Role {
	case model.RoleUser:
		label, bubble = m.theme.UserLabel, m.theme.UserBubble
	case model.RoleAssistant:
		label, bubble = m.theme.AssistantLabel, m.theme.AssistantBubble
	default:
		label, bubble = m.theme.Muted, m.theme.SystemBubble
	}

	body := m.renderBody(msg, width)
	if msg.HasError() {
		errLine := m.theme.MessageError.Render(styles.StatusIndicators.Error + " " + msg.Error)
		if body == "" {
			body = errLine
		} else {
			body += "\n" + errLine
		}
	}
	return label.Render(msg.Role.DisplayName()) + "\n" + bubble.Render(body)
}

func (m *Model) renderBody(msg *model.Message, width int) string {
	content := msg.DisplayContent()
	wrap := lipgloss.NewStyle().Width(width)

	if msg.IsStreaming {
		if content == "" {
			return m.theme.Muted.Render("...")
		}
		return wrap.Render(content + m.theme.Cursor.Render(streamingCursor))
	}
	if content == "" {
		return ""
	}
	if msg.Role == model.RoleAssistant && m.markdown != nil {
		if out, ok := m.markdown.render(msg.ID, content, width); ok {
			return out
		}
	}
	return wrap.Render(content)
}

// =============================================================================
// MARKDOWN
// =============================================================================

// markdownRenderer renders finished assistant messages with glamour.
// Finished messages never change, so output is cached per message id and
// dropped when the width changes.
type markdownRenderer struct {
	style string
	width int
	term  *glamour.TermRenderer
	cache map[string]renderedMessage
	log   logrus.FieldLogger
}

type renderedMessage struct {
	content string
	out     string
}

func newMarkdownRenderer(style string, log logrus.FieldLogger) *markdownRenderer {
	return &markdownRenderer{
		style: style,
		cache: make(map[string]renderedMessage),
		log:   log,
	}
}

// render returns the rendered content, or false if glamour failed.
func (r *markdownRenderer) render(id, content string, width int) (string, bool) {
	if width != r.width || r.term == nil {
		term, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			r.log.WithError(err).Warn("markdown renderer unavailable")
			return "", false
		}
		r.term, r.width = term, width
		r.cache = make(map[string]renderedMessage)
	}

	if hit, ok := r.cache[id]; ok && hit.content == content {
		return hit.out, true
	}

	out, err := r.term.Render(content)
	if err != nil {
		r.log.WithError(err).WithField("message", id).Debug("markdown render failed")
		return "", false
	}
	out = strings.Trim(out, "\n")
	r.cache[id] = renderedMessage{content: content, out: out}
	return out, true
}
