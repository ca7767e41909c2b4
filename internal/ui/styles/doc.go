// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for deskchat.

Colors are Lip Gloss AdaptiveColor values so one palette serves light and
dark terminals. The theme mode comes from the [ui] theme setting:

	auto  - ask the terminal (termenv) whether its background is dark
	dark  - force the dark half of every AdaptiveColor
	light - force the light half

# Usage

	theme := styles.NewTheme(cfg.UI.Theme)
	theme.SetSize(width, height)
	header := theme.Header.Render("deskchat")

Status indicators pair every color with an ASCII shape ([OK], [X], [!]) so
state never depends on color alone.
*/
package styles
