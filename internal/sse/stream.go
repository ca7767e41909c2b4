// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("sse: stream closed")

const readBufferSize = 4 << 10

// Stream pulls chunks from an event-stream body. The body is closed when the
// source ends, the context is cancelled, a read fails, or Close is called,
// whichever comes first. A Stream is not safe for concurrent use.
type Stream struct {
	// OnFragment, if set, is called with the size of every fragment read
	// from the body before it is decoded.
	OnFragment func(n int)

	body      io.ReadCloser
	closeOnce sync.Once
	dec       *Decoder
	buf       []byte
	pending   []Chunk
	err       error
	discarded int
}

// NewStream wraps body. The decoder may be nil.
func NewStream(body io.ReadCloser, dec *Decoder) *Stream {
	if dec == nil {
		dec = NewDecoder()
	}
	return &Stream{
		body: body,
		dec:  dec,
		buf:  make([]byte, readBufferSize),
	}
}

// Next returns the next chunk. It returns io.EOF once the source has ended
// and every completed frame has been yielded, ctx.Err() when the context is
// cancelled, and a wrapped read error if the body fails.
func (s *Stream) Next(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil && s.err == nil {
		s.finish(err)
	}
	for len(s.pending) == 0 {
		if s.err != nil {
			return Chunk{}, s.err
		}
		s.fill(ctx)
	}

	c := s.pending[0]
	s.pending = s.pending[1:]
	return c, nil
}

// Skipped returns how many payloads were dropped as noise so far.
func (s *Stream) Skipped() int {
	return s.dec.Skipped()
}

// Discarded returns the bytes of the partial trailing frame thrown away when
// the stream ended. It is zero until then.
func (s *Stream) Discarded() int {
	return s.discarded
}

// Close releases the body. It is safe to call more than once.
func (s *Stream) Close() error {
	if s.err == nil {
		s.finish(ErrClosed)
	}
	return nil
}

func (s *Stream) fill(ctx context.Context) {
	// Unblock a pending Read if the context ends while we wait.
	stop := context.AfterFunc(ctx, s.closeBody)
	n, err := s.body.Read(s.buf)
	stop()

	if n > 0 {
		if s.OnFragment != nil {
			s.OnFragment(n)
		}
		s.pending = append(s.pending, s.dec.Feed(s.buf[:n])...)
	}
	if err == nil {
		return
	}

	switch {
	case ctx.Err() != nil:
		err = ctx.Err()
	case errors.Is(err, io.EOF):
		err = io.EOF
	default:
		err = fmt.Errorf("read stream: %w", err)
	}
	s.finish(err)
}

func (s *Stream) finish(err error) {
	s.err = err
	s.discarded = s.dec.Close()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrClosed) {
		s.pending = nil
	}
	s.closeBody()
}

func (s *Stream) closeBody() {
	s.closeOnce.Do(func() {
		s.body.Close()
	})
}

// =============================================================================
// CHANNEL ADAPTER
// =============================================================================

// Result is one item delivered by Chan.
type Result struct {
	Chunk Chunk
	Err   error
}

// Chan drains the stream on a goroutine. The channel is closed after the
// last chunk; a terminal error other than io.EOF is delivered first as a
// Result with Err set. Cancel ctx to stop early; the body is released either
// way. The stream must not be used directly after calling Chan.
func (s *Stream) Chan(ctx context.Context) <-chan Result {
	ch := make(chan Result)
	go func() {
		defer close(ch)
		defer s.Close()

		for {
			c, err := s.Next(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					select {
					case ch <- Result{Err: err}:
					case <-ctx.Done():
					}
				}
				return
			}
			select {
			case ch <- Result{Chunk: c}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
