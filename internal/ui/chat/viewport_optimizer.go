// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"crypto/sha256"
	"sync"
)

// viewportOptimizer skips viewport.SetContent when the rendered transcript
// has not changed. Snapshots arrive for every transition, including ones
// that do not touch the visible conversation (another conversation renamed,
// a turn finishing with identical text).
type viewportOptimizer struct {
	mu          sync.Mutex
	lastHash    [sha256.Size]byte
	hasContent  bool
	updateCount uint64
	skipCount   uint64
}

func newViewportOptimizer() *viewportOptimizer {
	return &viewportOptimizer{}
}

// shouldUpdate reports whether content differs from the last accepted
// content and, if so, records it.
func (vo *viewportOptimizer) shouldUpdate(content string) bool {
	vo.mu.Lock()
	defer vo.mu.Unlock()

	vo.updateCount++
	h := sha256.Sum256([]byte(content))
	if vo.hasContent && h == vo.lastHash {
		vo.skipCount++
		return false
	}
	vo.lastHash = h
	vo.hasContent = true
	return true
}

// forceUpdate makes the next shouldUpdate return true (after a resize, say).
func (vo *viewportOptimizer) forceUpdate() {
	vo.mu.Lock()
	defer vo.mu.Unlock()
	vo.hasContent = false
}

// stats returns total and skipped update attempts.
func (vo *viewportOptimizer) stats() (total, skipped uint64) {
	vo.mu.Lock()
	defer vo.mu.Unlock()
	return vo.updateCount, vo.skipCount
}
