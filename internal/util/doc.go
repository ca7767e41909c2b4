// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the deskchat packages.
//
//   - TruncateRunes, TruncateWidth: UTF-8 and column aware shortening
//   - CollapseSpace, IsBlank: whitespace handling for user input
//   - AtomicWriteFile: crash-safe file replacement used by config saving
package util
