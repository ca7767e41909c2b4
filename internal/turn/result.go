// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"fmt"
	"time"
)

// Status is how a SendMessage call ended.
type Status int

const (
	// StatusSkipped: blank text, nothing happened.
	StatusSkipped Status = iota
	// StatusBusy: another turn was in flight, nothing happened.
	StatusBusy
	// StatusCompleted: the server sent a done chunk and no error.
	StatusCompleted
	// StatusFailed: the stream could not be opened, or the server
	// reported an error.
	StatusFailed
	// StatusTruncated: the stream ended without a done chunk. Error is set
	// only if the truncation policy rejected it.
	StatusTruncated
	// StatusCancelled: the context was cancelled or the idle timeout fired.
	StatusCancelled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusBusy:
		return "busy"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusTruncated:
		return "truncated"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result summarizes one SendMessage call.
type Result struct {
	Status         Status
	TurnID         string
	ConversationID string
	MessageID      string

	// Content is the assistant text the store kept; chunks arriving after
	// the conversation was deleted are counted but not included. Error is
	// the first error recorded on the message.
	Content string
	Error   string

	// Cause is the transport error when the stream could not be opened.
	Cause error

	Chunks     int
	Skipped    int
	FirstChunk time.Duration
	Duration   time.Duration
}

// Started reports whether the call reached the store, i.e. a turn ran.
func (r Result) Started() bool {
	return r.Status != StatusSkipped && r.Status != StatusBusy
}

// Format returns a one-line summary for status bars and logs,
// e.g. "1.2s | 42 chunks | first chunk 230ms".
func (r Result) Format() string {
	s := fmt.Sprintf("%s | %d chunks", formatDuration(r.Duration), r.Chunks)
	if r.Chunks > 0 {
		s += " | first chunk " + formatDuration(r.FirstChunk)
	}
	if r.Skipped > 0 {
		s += fmt.Sprintf(" | %d skipped", r.Skipped)
	}
	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
