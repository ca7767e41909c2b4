// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat is the Bubble Tea front end for deskchat.

The model never owns conversation state. It renders store snapshots: the
store observer is bridged into the program by a snapshot pump, which keeps
only the newest snapshot and paces redraws with a rate limiter so a fast
stream cannot flood the event loop.

Sending runs SendMessage in a command goroutine. The turn's cancel function
lives in a cancelManager so Esc (or Ctrl+C while streaming) can stop it from
the update loop.

The transcript viewport follows new content only while the reader is near
the bottom; see package scroll.

# Keys

	Enter        send
	Esc / C-c    cancel the turn in flight (C-c quits when idle)
	C-n          new conversation
	C-w          delete conversation
	Tab / S-Tab  next / previous conversation
	PgUp / PgDn  page the transcript
	End          jump to the bottom and follow
	C-q          quit
*/
package chat
