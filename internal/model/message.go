// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-desk/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one entry in a conversation. An assistant message starts out
// streaming: its content only grows by append until it is finalized, after
// which it no longer changes. Error is set at most once.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	IsStreaming bool   `json:"is_streaming,omitempty"`
	Error       string `json:"error,omitempty"`

	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	streamContent strings.Builder
}

// NewMessage creates a finalized message with a fresh ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantPlaceholder creates an empty assistant message in the
// streaming state.
func NewAssistantPlaceholder() *Message {
	msg := NewMessage(RoleAssistant, "")
	msg.IsStreaming = true
	return msg
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendContent appends a fragment to a streaming message. It reports false
// if the message is already finalized.
func (m *Message) AppendContent(fragment string) bool {
	if !m.IsStreaming {
		return false
	}
	m.streamContent.WriteString(fragment)
	return true
}

// SetError records err if no error has been recorded yet and the message is
// still streaming. It reports whether the error was stored.
func (m *Message) SetError(err string) bool {
	if !m.IsStreaming || m.Error != "" || err == "" {
		return false
	}
	m.Error = err
	return true
}

// Finalize ends streaming. A non-empty err is recorded in the same step
// unless an earlier error is already present.
func (m *Message) Finalize(err string) {
	if !m.IsStreaming {
		return
	}
	m.SetError(err)
	m.Content += m.streamContent.String()
	m.streamContent.Reset()
	m.IsStreaming = false
}

// DisplayContent returns the content accumulated so far.
func (m *Message) DisplayContent() string {
	if m.IsStreaming {
		return m.Content + m.streamContent.String()
	}
	return m.Content
}

// HasError reports whether an error was recorded on the message.
func (m *Message) HasError() bool {
	return m.Error != ""
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0 && m.streamContent.Len() == 0
}

// Preview returns a truncated single-line preview of the content.
func (m *Message) Preview(maxLen int) string {
	return util.TruncateRunes(util.CollapseSpace(m.DisplayContent()), maxLen)
}

// Clone returns a deep copy. Streamed content is folded into Content so the
// copy can be read without touching the original's buffer.
func (m *Message) Clone() *Message {
	return &Message{
		ID:          m.ID,
		Role:        m.Role,
		Content:     m.DisplayContent(),
		Timestamp:   m.Timestamp,
		IsStreaming: m.IsStreaming,
		Error:       m.Error,
	}
}
