// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Conversation: ordered messages plus title and timestamps
//   - Message: one message with role, content and streaming state
//   - Role: system, user or assistant
//
// # Usage
//
//	conv := model.NewConversation()
//	conv.AddMessage(model.NewUserMessage("Hello!"), model.DefaultTitleMaxLength)
//	reply := model.NewAssistantPlaceholder()
//	conv.AddMessage(reply, model.DefaultTitleMaxLength)
//	reply.AppendContent("Hi")
//	reply.Finalize("")
package model
