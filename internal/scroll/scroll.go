// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scroll decides whether a growing transcript should follow new
// content. The decision is made from geometry alone on every call: a reader
// who scrolled up is left alone, one at (or near) the bottom is kept there.
package scroll

// DefaultThreshold is the near-bottom distance used by Default.
const DefaultThreshold = 100

// Region is a scrollable area. Units are whatever the host uses (pixels,
// terminal lines) as long as all four methods agree.
type Region interface {
	ScrollHeight() int
	ClientHeight() int
	ScrollTop() int
	SetScrollTop(top int)
}

// Controller applies the follow-the-bottom rule to a Region.
// The zero value follows only from the exact bottom.
type Controller struct {
	// Threshold is how far from the bottom still counts as "at the
	// bottom". Zero and negative values mean exact bottom only.
	Threshold int
}

// New returns a controller with the given threshold.
func New(threshold int) Controller {
	return Controller{Threshold: threshold}
}

// Default returns a controller using DefaultThreshold.
func Default() Controller {
	return Controller{Threshold: DefaultThreshold}
}

func (c Controller) threshold() int {
	if c.Threshold < 0 {
		return 0
	}
	return c.Threshold
}

// IsNearBottom reports whether the region is scrolled to within Threshold of
// the bottom. A region with no content or no visible area counts as near the
// bottom.
func (c Controller) IsNearBottom(r Region) bool {
	sh, ch := r.ScrollHeight(), r.ClientHeight()
	if sh <= 0 || ch <= 0 {
		return true
	}
	return sh-ch-r.ScrollTop() <= c.threshold()
}

// ScrollToBottom moves the region to its last page.
func (c Controller) ScrollToBottom(r Region) {
	top := r.ScrollHeight() - r.ClientHeight()
	if top < 0 {
		top = 0
	}
	r.SetScrollTop(top)
}

// Follow scrolls to the bottom if the region is near it or force is set, and
// reports whether it scrolled.
func (c Controller) Follow(r Region, force bool) bool {
	if !force && !c.IsNearBottom(r) {
		return false
	}
	c.ScrollToBottom(r)
	return true
}

// Track measures near-bottom, runs grow to update the content, then follows
// the new bottom if the region was near it before growth. Measuring after
// growth would mistake new content for the reader having scrolled away.
func (c Controller) Track(r Region, grow func()) bool {
	near := c.IsNearBottom(r)
	if grow != nil {
		grow()
	}
	if !near {
		return false
	}
	c.ScrollToBottom(r)
	return true
}

// =============================================================================
// GEOMETRY
// =============================================================================

// Geometry is a plain Region value for headless use and tests.
type Geometry struct {
	Height int // total content height
	Client int // visible height
	Top    int // scroll offset
}

// ScrollHeight implements Region.
func (g *Geometry) ScrollHeight() int { return g.Height }

// ClientHeight implements Region.
func (g *Geometry) ClientHeight() int { return g.Client }

// ScrollTop implements Region.
func (g *Geometry) ScrollTop() int { return g.Top }

// SetScrollTop implements Region.
func (g *Geometry) SetScrollTop(top int) { g.Top = top }
