// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse decodes the chat server's event stream into chunks.
//
// Frames are "data: <JSON>" records terminated by a blank line. The decoder
// is fed raw fragments with arbitrary boundaries and yields each chunk once
// its frame is complete. Undecodable payloads are skipped, never surfaced as
// errors.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DoneSentinel is the payload some servers send after the final frame.
const DoneSentinel = "[DONE]"

// MaxFrameSize bounds the bytes buffered for a single frame (1 MiB). Larger
// frames are dropped as noise.
const MaxFrameSize = 1 << 20

var (
	// ErrFrameTooLarge is reported to OnSkip for frames over MaxFrameSize.
	ErrFrameTooLarge = errors.New("sse: frame exceeds maximum size")

	// ErrNotObject is reported to OnSkip for payloads that are valid
	// text but not a JSON object.
	ErrNotObject = errors.New("sse: payload is not a JSON object")
)

// =============================================================================
// CHUNK
// =============================================================================

// Chunk is one decoded frame payload.
type Chunk struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
	Done    bool   `json:"done"`
	Error   string `json:"error,omitempty"`
}

// HasError reports whether the server flagged this chunk with an error.
func (c Chunk) HasError() bool {
	return c.Error != ""
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder reassembles frames from fragments. It is not safe for concurrent
// use; one decoder serves one stream.
type Decoder struct {
	// OnSkip, if set, is called for every dropped payload. The payload slice
	// is only valid for the duration of the call.
	OnSkip func(payload []byte, err error)

	line    []byte // current incomplete line
	lineLen int    // bytes seen on the current line, including dropped ones
	data    []byte // data lines of the current record
	hasData bool
	discard bool // current record exceeded MaxFrameSize
	skipped int
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends a fragment and returns every chunk whose frame it completed,
// in order. Incomplete trailing data stays buffered for the next call.
func (d *Decoder) Feed(fragment []byte) []Chunk {
	var out []Chunk
	for len(fragment) > 0 {
		i := bytes.IndexByte(fragment, '\n')
		if i < 0 {
			d.appendLine(fragment)
			break
		}
		d.appendLine(fragment[:i])
		fragment = fragment[i+1:]
		if c, ok := d.endLine(); ok {
			out = append(out, c)
		}
	}
	return out
}

// Skipped returns how many payloads have been dropped as noise.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Pending returns the number of buffered bytes belonging to an incomplete
// frame.
func (d *Decoder) Pending() int {
	return len(d.line) + len(d.data)
}

// Close discards any partial trailing frame and resets the decoder. It
// returns the number of bytes discarded.
func (d *Decoder) Close() int {
	n := d.Pending()
	d.line = nil
	d.lineLen = 0
	d.data = nil
	d.hasData = false
	d.discard = false
	return n
}

func (d *Decoder) appendLine(piece []byte) {
	d.lineLen += len(piece)
	if d.discard {
		// Keep just enough to recognise the blank line that ends the record.
		if room := 2 - len(d.line); room > 0 {
			if room > len(piece) {
				room = len(piece)
			}
			d.line = append(d.line, piece[:room]...)
		}
		return
	}

	d.line = append(d.line, piece...)
	if len(d.data)+len(d.line) > MaxFrameSize {
		d.discard = true
		d.skip(nil, ErrFrameTooLarge)
		d.data = nil
		d.hasData = false
		d.line = d.line[:0]
	}
}

func (d *Decoder) endLine() (Chunk, bool) {
	defer func() {
		d.line = d.line[:0]
		d.lineLen = 0
	}()

	blank := d.lineLen == 0 || (d.lineLen == 1 && d.line[0] == '\r')
	if blank {
		if d.discard {
			d.discard = false
			return Chunk{}, false
		}
		if !d.hasData {
			return Chunk{}, false
		}
		c, ok := d.decode(d.data)
		d.data = d.data[:0]
		d.hasData = false
		return c, ok
	}
	if d.discard {
		return Chunk{}, false
	}

	line := bytes.TrimSuffix(d.line, []byte{'\r'})
	if len(line) == 0 || line[0] == ':' {
		return Chunk{}, false
	}

	field, value, _ := bytes.Cut(line, []byte{':'})
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	// event:, id: and retry: carry nothing this protocol uses.
	if string(field) == "data" {
		if d.hasData {
			d.data = append(d.data, '\n')
		}
		d.data = append(d.data, value...)
		d.hasData = true
	}
	return Chunk{}, false
}

func (d *Decoder) decode(payload []byte) (Chunk, bool) {
	trimmed := bytes.TrimSpace(payload)
	if string(trimmed) == DoneSentinel {
		return Chunk{}, false
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		d.skip(payload, ErrNotObject)
		return Chunk{}, false
	}

	var c Chunk
	if err := json.Unmarshal(trimmed, &c); err != nil {
		d.skip(payload, err)
		return Chunk{}, false
	}
	return c, true
}

func (d *Decoder) skip(payload []byte, err error) {
	d.skipped++
	if d.OnSkip != nil {
		d.OnSkip(payload, err)
	}
}
