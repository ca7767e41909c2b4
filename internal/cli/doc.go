// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the deskchat command line.
//
// # Commands
//
//   - deskchat: full-screen chat (requires a terminal)
//   - ask: send one message and print the reply
//   - chat: line-mode chat with history and slash commands
//   - models: list the models the server offers
//   - health: check the server
//   - config show|init|path: inspect or create the config file
//
// Global flags override the config file: --config, --base-url, --model,
// --log-level and -v/--verbose.
//
// Errors are returned, never printed and swallowed; Execute maps them to
// the exit codes in errors.go.
package cli
