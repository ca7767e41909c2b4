// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rigrun-desk/internal/transport"
	"github.com/jeranaias/rigrun-desk/internal/util"
)

const (
	// DefaultTitle is shown until the first user message names the
	// conversation.
	DefaultTitle = "New Conversation"

	// DefaultTitleMaxLength is the rune limit for derived titles.
	DefaultTitleMaxLength = 50
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is an ordered, append-only list of messages with metadata.
type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Messages  []*Message `json:"messages"`

	// Model is the last model hint used for a turn in this conversation.
	Model string `json:"model,omitempty"`

	titled bool
}

// NewConversation creates an empty conversation with a fresh ID.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
	}
}

// DeriveTitle turns message text into a conversation title: NFC-normalized,
// whitespace collapsed to single spaces, and truncated to maxRunes runes
// with "..." when it does not fit.
func DeriveTitle(text string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultTitleMaxLength
	}
	return util.TruncateRunes(util.CollapseSpace(norm.NFC.String(text)), maxRunes)
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage appends msg and bumps UpdatedAt. The first user message with
// non-blank text names the conversation unless it already has a title.
func (c *Conversation) AddMessage(msg *Message, titleMaxLength int) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()

	if !c.titled && msg.Role == RoleUser && !util.IsBlank(msg.Content) {
		c.Title = DeriveTitle(msg.Content, titleMaxLength)
		c.titled = true
	}
}

// Rename sets a title explicitly. Blank titles are ignored. An explicit
// title also stops the first user message from naming the conversation.
func (c *Conversation) Rename(title string) bool {
	title = util.CollapseSpace(title)
	if title == "" {
		return false
	}
	c.Title = title
	c.titled = true
	c.UpdatedAt = time.Now()
	return true
}

// HasTitle reports whether the title has been derived or set.
func (c *Conversation) HasTitle() bool {
	return c.titled
}

// LastMessage returns the most recent message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// MessageByID returns a message by its ID, or nil.
func (c *Conversation) MessageByID(id string) *Message {
	for _, msg := range c.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// =============================================================================
// WIRE CONVERSION
// =============================================================================

// History converts every message, in order, to the request wire format.
// Empty messages are included; a pending assistant placeholder is sent as
// an empty assistant entry.
func (c *Conversation) History() []transport.Message {
	out := make([]transport.Message, 0, len(c.Messages))
	for _, msg := range c.Messages {
		out = append(out, transport.Message{
			Role:    msg.Role.String(),
			Content: msg.DisplayContent(),
		})
	}
	return out
}

// =============================================================================
// LISTING
// =============================================================================

// Preview returns a short preview of the conversation.
func (c *Conversation) Preview() string {
	if len(c.Messages) == 0 {
		return "Empty conversation"
	}
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i].Preview(100)
		}
	}
	return c.Messages[0].Preview(100)
}

// Meta returns lightweight metadata for listing.
func (c *Conversation) Meta() ConversationMeta {
	return ConversationMeta{
		ID:           c.ID,
		Title:        c.Title,
		Model:        c.Model,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		Preview:      c.Preview(),
	}
}

// ConversationMeta holds lightweight metadata for listing.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Preview      string    `json:"preview"`
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := &Conversation{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Model:     c.Model,
		Messages:  make([]*Message, len(c.Messages)),
		titled:    c.titled,
	}
	for i, msg := range c.Messages {
		clone.Messages[i] = msg.Clone()
	}
	return clone
}
