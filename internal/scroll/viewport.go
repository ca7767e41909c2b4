// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package scroll

import "github.com/charmbracelet/bubbles/viewport"

// ViewportRegion adapts a bubbles viewport. Heights are in lines.
type ViewportRegion struct {
	vp *viewport.Model
}

// NewViewportRegion wraps vp. The viewport must outlive the region.
func NewViewportRegion(vp *viewport.Model) ViewportRegion {
	return ViewportRegion{vp: vp}
}

// ScrollHeight implements Region.
func (v ViewportRegion) ScrollHeight() int { return v.vp.TotalLineCount() }

// ClientHeight implements Region.
func (v ViewportRegion) ClientHeight() int { return v.vp.Height }

// ScrollTop implements Region.
func (v ViewportRegion) ScrollTop() int { return v.vp.YOffset }

// SetScrollTop implements Region.
func (v ViewportRegion) SetScrollTop(top int) { v.vp.SetYOffset(top) }
